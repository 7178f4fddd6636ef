package pipeline

import (
	"runtime"
)

// MemStats summarizes memory usage information.
type MemStats struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		AllocBytes: m.Alloc,
		SysBytes:   m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// Snapshot is a point-in-time view of the controller for health endpoints.
type Snapshot struct {
	State  string   `json:"state"`
	Kind   string   `json:"kind,omitempty"`
	Cursor int      `json:"cursor"`
	Total  int      `json:"total"`
	Memory MemStats `json:"memory"`
}

// Snapshot reports the controller state and the progress of the active run.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state.String()}
	if c.run != nil {
		s.Kind = c.run.Kind.String()
		s.Cursor = c.run.Cursor()
		s.Total = len(c.run.indices)
	}
	c.mu.Unlock()
	s.Memory = GetMemStats()
	return s
}
