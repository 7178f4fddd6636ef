// Package pipeline drives detect, segment and restore batches over the
// pages of a document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/detector"
	"github.com/MeKo-Tech/retouch/internal/inpaint"
	"github.com/MeKo-Tech/retouch/internal/normalize"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/region"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// Services are the per-page collaborators. A nil service disables its kind.
type Services struct {
	Detector  detector.Detector
	Segmenter detector.Segmenter
	Inpainter inpaint.Inpainter
}

// Config wires a Controller.
type Config struct {
	Document   *page.Document
	Services   Services
	Classes    *classes.Config       // defaults to classes.NewConfig()
	Normalizer *normalize.Normalizer // defaults to one using Logger
	Sink       StatusSink            // defaults to NoOpSink
	Logger     *slog.Logger          // defaults to slog.Default()
	// OnIdle runs on the controller goroutine after every batch, once the
	// controller is idle again. Hosts re-enable editing here.
	OnIdle func(kind Kind, outcome Outcome)
}

// Run is one started batch.
type Run struct {
	Kind    Kind
	indices []int
	params  Params

	cursor    atomic.Int64
	cancelled atomic.Bool
	processed int
	errs      []PageError

	done   chan struct{}
	result Result
}

// Indices returns the page indices of the run.
func (r *Run) Indices() []int { return append([]int(nil), r.indices...) }

// Cursor returns the position of the next page to process.
func (r *Run) Cursor() int { return int(r.cursor.Load()) }

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Controller owns page mutation for batch operations. Page state is only
// touched from its goroutine: by batch steps, restoration continuations and
// functions handed to Post.
type Controller struct {
	doc     *page.Document
	svc     Services
	classes *classes.Config
	norm    *normalize.Normalizer
	sink    StatusSink
	logger  *slog.Logger
	onIdle  func(Kind, Outcome)

	ctx    context.Context
	cancel context.CancelFunc

	// task queue drained by loop
	qmu    sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	exited chan struct{}

	mu    sync.Mutex
	state State
	run   *Run
}

// New creates a controller and starts its goroutine.
func New(cfg Config) (*Controller, error) {
	if cfg.Document == nil {
		return nil, errors.New("controller needs a document")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classes == nil {
		cfg.Classes = classes.NewConfig()
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New(cfg.Logger)
	}
	if cfg.Sink == nil {
		cfg.Sink = NoOpSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		doc:     cfg.Document,
		svc:     cfg.Services,
		classes: cfg.Classes,
		norm:    cfg.Normalizer,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		onIdle:  cfg.OnIdle,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		exited:  make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

func (c *Controller) loop() {
	defer close(c.exited)
	for {
		select {
		case <-c.wake:
		case <-c.ctx.Done():
			return
		}
		for {
			c.qmu.Lock()
			if len(c.queue) == 0 || c.closed {
				c.qmu.Unlock()
				break
			}
			fn := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.qmu.Unlock()
			fn()
		}
	}
}

// Post schedules fn on the controller goroutine. Hosts use it to edit pages
// without racing a batch.
func (c *Controller) Post(fn func()) error {
	if fn == nil {
		return errors.New("nil task")
	}
	if !c.post(fn) {
		return ErrClosed
	}
	return nil
}

func (c *Controller) post(fn func()) bool {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the active run, if any.
func (c *Controller) Current() (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run, c.run != nil
}

// Start begins a batch over indices. It fails with *ConcurrencyViolation
// while another batch is active and with a plain error when the kind has
// no service configured.
func (c *Controller) Start(kind Kind, indices []int, params Params) (*Run, error) {
	if err := c.checkService(kind); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.state != StateIdle {
		err := &ConcurrencyViolation{Requested: kind, Active: c.run.Kind, State: c.state}
		c.mu.Unlock()
		return nil, err
	}
	r := &Run{
		Kind:    kind,
		indices: append([]int(nil), indices...),
		params:  params,
		done:    make(chan struct{}),
	}
	c.state = StateRunning
	c.run = r
	c.mu.Unlock()

	activeBatches.Inc()
	c.logger.Info("Batch started", "kind", kind.String(), "pages", len(indices))
	if !c.post(func() { c.step(r) }) {
		c.mu.Lock()
		c.state, c.run = StateIdle, nil
		c.mu.Unlock()
		activeBatches.Dec()
		return nil, ErrClosed
	}
	return r, nil
}

func (c *Controller) checkService(kind Kind) error {
	switch kind {
	case KindDetect:
		if c.svc.Detector == nil {
			return errors.New("no detector configured")
		}
	case KindSegment:
		if c.svc.Segmenter == nil {
			return errors.New("no segmenter configured")
		}
	case KindRestore:
		if c.svc.Inpainter == nil {
			return errors.New("no inpainter configured")
		}
	default:
		return fmt.Errorf("unknown batch kind %v", kind)
	}
	return nil
}

// Cancel requests cancellation of the running batch. The page in flight is
// finished; no further page is started. It reports whether a batch was
// running.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return false
	}
	c.state = StateCancelling
	c.run.cancelled.Store(true)
	c.logger.Info("Batch cancellation requested", "kind", c.run.Kind.String(), "cursor", c.run.Cursor())
	return true
}

// Close stops the controller goroutine. A batch still running resolves
// with OutcomeFailed.
func (c *Controller) Close() error {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.qmu.Unlock()
	c.cancel()
	<-c.exited

	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r != nil {
		c.finish(r, OutcomeFailed)
	}
	return nil
}

// step processes the page under the cursor and schedules the next step.
func (c *Controller) step(r *Run) {
	if r.cancelled.Load() {
		c.finish(r, OutcomeCancelled)
		return
	}
	cur := r.Cursor()
	if cur >= len(r.indices) {
		c.finish(r, OutcomeCompleted)
		return
	}
	idx := r.indices[cur]
	c.sink.Progress(r.Kind, cur, len(r.indices), fmt.Sprintf("page %d", idx))
	start := time.Now()

	if r.Kind == KindRestore {
		c.restorePage(r, idx, start)
		return
	}
	err := c.inferPage(r, idx)
	c.pageDone(r, idx, err, start)
	c.post(func() { c.step(r) })
}

func (c *Controller) inferPage(r *Run, idx int) error {
	p, err := c.doc.Page(idx)
	if err != nil {
		return err
	}
	var img image.Image = p.Image()
	offset := utils.Point{}
	if roi := r.params.ROI; !roi.Empty() {
		roi = roi.Intersect(img.Bounds())
		if roi.Empty() {
			return fmt.Errorf("ROI %v outside page", r.params.ROI)
		}
		img = utils.CropImageRect(img, roi)
		offset = utils.Point{X: float64(roi.Min.X), Y: float64(roi.Min.Y)}
	}

	var raws []detector.RawDetection
	origin := region.OriginDetect
	op := "detect"
	if r.Kind == KindSegment {
		origin, op = region.OriginSegment, "segment"
		raws, err = c.svc.Segmenter.Segment(c.ctx, img, r.params.ConfFloor)
	} else {
		raws, err = c.svc.Detector.Detect(c.ctx, img, r.params.ConfFloor)
	}
	if err != nil {
		var ie *detector.InferenceError
		if !errors.As(err, &ie) {
			err = &detector.InferenceError{Op: op, Err: err}
		}
		return err
	}
	c.norm.Normalize(raws, c.classes, p, normalize.Options{
		Origin:      origin,
		ExpansionPx: r.params.ExpansionPx,
		ROIOffset:   offset,
	})
	p.InvalidateMask()
	p.SetStatus(page.StatusModified)
	return nil
}

// restorePage hands the page bitmap and mask to a one-shot worker. The
// worker posts its result back; the version buffer is only rotated on the
// controller goroutine.
func (c *Controller) restorePage(r *Run, idx int, start time.Time) {
	p, err := c.doc.Page(idx)
	if err != nil {
		c.pageDone(r, idx, err, start)
		c.post(func() { c.step(r) })
		return
	}
	img := p.Image()
	mask, ok := p.CombinedMask()

	go func(img image.Image, mask *bitmap.Mask, ok bool) {
		var res image.Image
		var err error
		if !ok {
			err = &inpaint.EmptyMaskError{Page: idx}
		} else {
			res, err = c.svc.Inpainter.Inpaint(c.ctx, img, mask)
		}
		c.post(func() {
			if err == nil && res == nil {
				err = errors.New("inpainter returned no image")
			}
			if err == nil {
				p.ApplyRestoration(res)
			}
			c.pageDone(r, idx, err, start)
			c.step(r)
		})
	}(img, mask, ok)
}

func (c *Controller) pageDone(r *Run, idx int, err error, start time.Time) {
	r.cursor.Add(1)
	r.processed++
	kind := r.Kind.String()
	pageDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		pagesProcessed.WithLabelValues(kind, "error").Inc()
		r.errs = append(r.errs, PageError{Page: idx, Err: err})
		if errors.Is(err, inpaint.ErrEmptyMask) {
			c.logger.Info("Page skipped", "kind", kind, "page", idx, "reason", err)
			return
		}
		c.logger.Warn("Page failed", "kind", kind, "page", idx, "error", err)
		return
	}
	pagesProcessed.WithLabelValues(kind, "ok").Inc()
	c.logger.Debug("Page processed", "kind", kind, "page", idx, "duration", time.Since(start))
}

func (c *Controller) finish(r *Run, outcome Outcome) {
	total := len(r.indices)
	res := Result{
		Kind:      r.Kind,
		Outcome:   outcome,
		Total:     total,
		Processed: r.processed,
		Errors:    append([]PageError(nil), r.errs...),
	}
	c.sink.Progress(r.Kind, r.Cursor(), total, outcome.String())
	c.sink.Finished(r.Kind, outcome, res.Errors)
	batchesFinished.WithLabelValues(r.Kind.String(), outcome.String()).Inc()
	activeBatches.Dec()

	c.mu.Lock()
	c.state = StateIdle
	c.run = nil
	c.mu.Unlock()

	c.logger.Info("Batch finished", "kind", r.Kind.String(), "outcome", outcome.String(),
		"processed", r.processed, "total", total, "page_errors", len(res.Errors))
	if c.onIdle != nil {
		c.onIdle(r.Kind, outcome)
	}
	r.result = res
	close(r.done)
}
