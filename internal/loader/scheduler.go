// Package loader reads page bitmaps with a bounded worker pool, nearest
// pages to the one being viewed first.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/storage"
)

// ErrRunning is returned by Start while a previous load is still active.
var ErrRunning = errors.New("load already running")

// LoadError reports a page that could not be read.
type LoadError struct {
	Index int
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load page %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Listener receives load events. All calls come from one goroutine, in
// order, and exactly one of OnComplete or OnCancelled ends every Start.
type Listener interface {
	OnPageLoaded(index int, img image.Image, err error)
	OnProgress(loaded, total int)
	OnComplete()
	OnCancelled()
}

// Funcs implements Listener with optional callbacks.
type Funcs struct {
	PageLoaded func(index int, img image.Image, err error)
	Progress   func(loaded, total int)
	Complete   func()
	Cancelled  func()
}

func (f Funcs) OnPageLoaded(index int, img image.Image, err error) {
	if f.PageLoaded != nil {
		f.PageLoaded(index, img, err)
	}
}

func (f Funcs) OnProgress(loaded, total int) {
	if f.Progress != nil {
		f.Progress(loaded, total)
	}
}

func (f Funcs) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

func (f Funcs) OnCancelled() {
	if f.Cancelled != nil {
		f.Cancelled()
	}
}

// Config wires a Scheduler.
type Config struct {
	Store          storage.Store
	Paths          []string
	Workers        int // 0 = runtime.NumCPU()
	NeighborRadius int // see PriorityOrder
	Listener       Listener
	Logger         *slog.Logger
}

// Scheduler loads every page of a document once per Start.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *atomic.Bool // cancel flag of the active load
}

// New validates cfg and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("loader needs a store")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Listener == nil {
		cfg.Listener = Funcs{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Paths = append([]string(nil), cfg.Paths...)
	return &Scheduler{cfg: cfg, logger: cfg.Logger}, nil
}

type loaded struct {
	index int
	img   image.Image
	err   error
}

// Start loads all pages beginning with priority. The returned channel is
// closed after the terminal event has been delivered.
func (s *Scheduler) Start(ctx context.Context, priority int) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	cancelled := &atomic.Bool{}
	s.current = cancelled
	s.mu.Unlock()

	n := len(s.cfg.Paths)
	order := PriorityOrder(priority, n, s.cfg.NeighborRadius)
	jobs := make(chan int, n)
	for _, i := range order {
		jobs <- i
	}
	close(jobs)

	results := make(chan loaded, s.cfg.Workers)
	var wg sync.WaitGroup
	for range min(s.cfg.Workers, max(n, 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, jobs, results, cancelled)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	done := make(chan struct{})
	start := time.Now()
	s.logger.Debug("Loading pages", "total", n, "priority", priority, "workers", s.cfg.Workers)
	go func() {
		defer close(done)
		count := 0
		for r := range results {
			count++
			s.cfg.Listener.OnPageLoaded(r.index, r.img, r.err)
			s.cfg.Listener.OnProgress(count, n)
		}
		// the load stays current until its terminal event is delivered
		defer func() {
			s.mu.Lock()
			s.current = nil
			s.mu.Unlock()
		}()
		if cancelled.Load() || ctx.Err() != nil {
			s.logger.Info("Page loading cancelled", "loaded", count, "total", n)
			s.cfg.Listener.OnCancelled()
			return
		}
		s.logger.Info("Pages loaded", "total", n, "duration", time.Since(start))
		s.cfg.Listener.OnComplete()
	}()
	return done, nil
}

func (s *Scheduler) worker(ctx context.Context, jobs <-chan int, results chan<- loaded, cancelled *atomic.Bool) {
	for i := range jobs {
		if cancelled.Load() || ctx.Err() != nil {
			continue
		}
		path := s.cfg.Paths[i]
		img, err := s.cfg.Store.Load(ctx, path)
		if err != nil {
			err = &LoadError{Index: i, Path: path, Err: err}
			s.logger.Warn("Page load failed", "index", i, "path", path, "error", err)
		}
		if cancelled.Load() {
			continue
		}
		results <- loaded{index: i, img: img, err: err}
	}
}

// Cancel stops the active load. Pages already read are still delivered;
// the load ends with OnCancelled. It reports whether a load was active.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	s.current.Store(true)
	return true
}

// Running reports whether a load is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// DocumentListener records every loaded page in doc before forwarding the
// event to next (which may be nil). Failed pages are excluded from the
// active set.
func DocumentListener(doc *page.Document, next Listener) Listener {
	if next == nil {
		next = Funcs{}
	}
	return &documentListener{doc: doc, next: next}
}

type documentListener struct {
	doc  *page.Document
	next Listener
}

func (d *documentListener) OnPageLoaded(index int, img image.Image, err error) {
	if err != nil {
		d.doc.SetLoadFailed(index, err)
	} else {
		d.doc.SetLoaded(index, img)
	}
	d.next.OnPageLoaded(index, img, err)
}

func (d *documentListener) OnProgress(loaded, total int) { d.next.OnProgress(loaded, total) }
func (d *documentListener) OnComplete()                  { d.next.OnComplete() }
func (d *documentListener) OnCancelled()                 { d.next.OnCancelled() }
