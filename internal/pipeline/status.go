package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// StatusSink receives batch progress. Calls are made from the controller
// goroutine, one batch at a time.
type StatusSink interface {
	// Progress reports that page current of total is about to be (or, when
	// current == total, has been) processed.
	Progress(kind Kind, current, total int, message string)

	// Finished is called exactly once per batch.
	Finished(kind Kind, outcome Outcome, errs []PageError)
}

// NoOpSink discards all updates.
type NoOpSink struct{}

func (NoOpSink) Progress(Kind, int, int, string)     {}
func (NoOpSink) Finished(Kind, Outcome, []PageError) {}

// ConsoleSink draws a progress bar.
type ConsoleSink struct {
	writer    io.Writer
	width     int
	mutex     sync.Mutex
	startTime time.Time
	showRate  bool
}

// NewConsoleSink creates a console progress reporter writing to w (stderr when nil).
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleSink{writer: w, width: 40, showRate: true}
}

// WithWidth sets the progress bar width.
func (c *ConsoleSink) WithWidth(width int) *ConsoleSink {
	c.width = width
	return c
}

func (c *ConsoleSink) Progress(kind Kind, current, total int, message string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if current == 0 || c.startTime.IsZero() {
		c.startTime = time.Now()
	}
	if total <= 0 {
		return
	}
	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s [%s] %d/%d (%.1f%%)", kind, bar, current, total,
		float64(current)/float64(total)*100.0)
	if elapsed := time.Since(c.startTime); c.showRate && current > 0 && elapsed > 0 {
		status += fmt.Sprintf(" %.2f pages/s", float64(current)/elapsed.Seconds())
	}
	if message != "" {
		status += " " + message
	}
	_, _ = fmt.Fprint(c.writer, status)
}

func (c *ConsoleSink) Finished(kind Kind, outcome Outcome, errs []PageError) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = time.Since(c.startTime)
	}
	_, _ = fmt.Fprintf(c.writer, "\n%s %s in %v", kind, outcome, elapsed.Round(time.Millisecond))
	if len(errs) > 0 {
		_, _ = fmt.Fprintf(c.writer, " (%d page errors)", len(errs))
	}
	_, _ = fmt.Fprintln(c.writer)
	for _, e := range errs {
		_, _ = fmt.Fprintf(c.writer, "  %v\n", e)
	}
	c.startTime = time.Time{}
}

// LogSink logs updates with slog.
type LogSink struct {
	logger   *slog.Logger
	level    slog.Level
	interval int // log every N pages
}

// NewLogSink creates a log-based sink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level, interval: 1}
}

// WithInterval sets how frequently to log progress (every N pages).
func (l *LogSink) WithInterval(n int) *LogSink {
	l.interval = max(n, 1)
	return l
}

func (l *LogSink) Progress(kind Kind, current, total int, message string) {
	if current%l.interval != 0 && current != total {
		return
	}
	l.logger.Log(context.Background(), l.level, "Batch progress",
		"kind", kind.String(), "current", current, "total", total, "message", message)
}

func (l *LogSink) Finished(kind Kind, outcome Outcome, errs []PageError) {
	level := l.level
	if len(errs) > 0 {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "Batch finished",
		"kind", kind.String(), "outcome", outcome.String(), "page_errors", len(errs))
}

// MultiSink fans updates out to several sinks.
type MultiSink struct {
	sinks []StatusSink
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...StatusSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends another sink.
func (m *MultiSink) Add(s StatusSink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

func (m *MultiSink) Progress(kind Kind, current, total int, message string) {
	for _, s := range m.sinks {
		s.Progress(kind, current, total, message)
	}
}

func (m *MultiSink) Finished(kind Kind, outcome Outcome, errs []PageError) {
	for _, s := range m.sinks {
		s.Finished(kind, outcome, errs)
	}
}

// ThrottledSink rate-limits intermediate progress. The first and the
// terminal update of a batch always pass, as does Finished.
type ThrottledSink struct {
	wrapped StatusSink
	limiter *rate.Limiter
	mutex   sync.Mutex
}

// NewThrottledSink forwards at most one intermediate update per interval.
func NewThrottledSink(wrapped StatusSink, interval time.Duration) *ThrottledSink {
	return &ThrottledSink{wrapped: wrapped, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (t *ThrottledSink) Progress(kind Kind, current, total int, message string) {
	t.mutex.Lock()
	pass := current == 0 || current >= total || t.limiter.Allow()
	t.mutex.Unlock()
	if pass {
		t.wrapped.Progress(kind, current, total, message)
	}
}

func (t *ThrottledSink) Finished(kind Kind, outcome Outcome, errs []PageError) {
	t.wrapped.Finished(kind, outcome, errs)
}

// Update is one recorded sink call.
type Update struct {
	Kind     Kind
	Current  int
	Total    int
	Message  string
	Final    bool
	Outcome  Outcome
	Errors   []PageError
	Recorded time.Time
}

// RecordingSink keeps every update in memory. Hosts use it to replay a
// batch; tests use it to assert on the sequence.
type RecordingSink struct {
	mu      sync.Mutex
	updates []Update
}

func (r *RecordingSink) Progress(kind Kind, current, total int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{Kind: kind, Current: current, Total: total, Message: message, Recorded: time.Now()})
}

func (r *RecordingSink) Finished(kind Kind, outcome Outcome, errs []PageError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{Kind: kind, Final: true, Outcome: outcome,
		Errors: append([]PageError(nil), errs...), Recorded: time.Now()})
}

// Updates returns a copy of the recorded updates.
func (r *RecordingSink) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}
