package pipeline

import (
	"errors"
	"fmt"
	"image"
)

// Kind is a batch operation.
type Kind int

const (
	KindDetect Kind = iota
	KindSegment
	KindRestore
)

func (k Kind) String() string {
	switch k {
	case KindDetect:
		return "detect"
	case KindSegment:
		return "segment"
	case KindRestore:
		return "restore"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps "detect", "segment"/"segm" and "restore"/"inpaint" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "detect":
		return KindDetect, nil
	case "segment", "segm":
		return KindSegment, nil
	case "restore", "inpaint":
		return KindRestore, nil
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the terminal result of a batch.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	// OutcomeFailed is only reported when the controller shuts down under a
	// running batch; page failures never fail a batch.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Params are the per-run settings.
type Params struct {
	// ROI limits detect/segment to a rectangle of each page. Empty means
	// the whole page.
	ROI         image.Rectangle
	ConfFloor   float64
	ExpansionPx float64
}

// PageError is one isolated per-page failure.
type PageError struct {
	Page int
	Err  error
}

func (e PageError) Error() string { return fmt.Sprintf("page %d: %v", e.Page, e.Err) }

func (e PageError) Unwrap() error { return e.Err }

// Result summarizes a finished batch.
type Result struct {
	Kind      Kind
	Outcome   Outcome
	Total     int
	Processed int
	Errors    []PageError
}

// ErrConcurrencyViolation matches every *ConcurrencyViolation.
var ErrConcurrencyViolation = errors.New("another batch operation is running")

// ErrClosed is returned once the controller has been closed.
var ErrClosed = errors.New("controller closed")

// ConcurrencyViolation is returned by Start while a batch is active.
type ConcurrencyViolation struct {
	Requested Kind
	Active    Kind
	State     State
}

func (e *ConcurrencyViolation) Error() string {
	return fmt.Sprintf("cannot start %s: %s batch is %s", e.Requested, e.Active, e.State)
}

// Is reports whether target is ErrConcurrencyViolation.
func (e *ConcurrencyViolation) Is(target error) bool { return target == ErrConcurrencyViolation }
