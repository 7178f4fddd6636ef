// Package region models the marked areas of a page: axis-aligned boxes,
// closed polygons and freehand strokes.
package region

import (
	"fmt"
	"image/color"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/retouch/internal/utils"
)

// Origin tags where a region came from.
type Origin int

const (
	OriginDetect Origin = iota
	OriginSegment
	OriginPaint
	OriginManual
)

var originNames = map[Origin]string{
	OriginDetect:  "detect",
	OriginSegment: "segm",
	OriginPaint:   "manual-paint",
	OriginManual:  "manual-shape",
}

func (o Origin) String() string {
	if s, ok := originNames[o]; ok {
		return s
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	if _, ok := originNames[o]; !ok {
		return nil, fmt.Errorf("unknown origin %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(b []byte) error {
	for k, v := range originNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown origin %q", string(b))
}

// Shape is the closed set of region geometries: Box, Polygon and Stroke.
type Shape interface {
	// Bounds returns the axis-aligned extent of the shape in canvas coordinates.
	Bounds() utils.Box
	isShape()
}

// Box is an axis-aligned rectangle with its top-left corner at (X, Y).
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// BoxFrom converts a utils.Box into a Box shape.
func BoxFrom(b utils.Box) Box {
	return Box{X: b.MinX, Y: b.MinY, W: b.Width(), H: b.Height()}
}

func (b Box) Bounds() utils.Box { return utils.NewBox(b.X, b.Y, b.X+b.W, b.Y+b.H) }
func (Box) isShape()            {}

// Polygon is a closed ring of at least three vertices.
type Polygon struct {
	Points []utils.Point
}

func (p Polygon) Bounds() utils.Box { return utils.BoundingBox(p.Points) }
func (Polygon) isShape()            {}

// Stroke is a freehand path drawn with round caps and joins.
type Stroke struct {
	Points []utils.Point
	Width  float64
}

func (s Stroke) Bounds() utils.Box { return utils.BoundingBox(s.Points).Expand(s.Width / 2) }
func (Stroke) isShape()            {}

// Region is one marked area on a page. Regions are soft-deleted so their
// ids stay valid for undelete within a session.
type Region struct {
	ID         uuid.UUID
	Page       int
	Origin     Origin
	Class      string
	Confidence float64
	Color      color.NRGBA
	Deleted    bool
	Expansion  float64
	Shape      Shape
}

// New creates a live region with a fresh id.
func New(page int, origin Origin, class string, confidence float64, shape Shape) *Region {
	return &Region{
		ID:         uuid.New(),
		Page:       page,
		Origin:     origin,
		Class:      class,
		Confidence: confidence,
		Color:      color.NRGBA{R: 255, A: 255},
		Shape:      shape,
	}
}

// NewManual creates a user-drawn region. Manual regions always carry full confidence.
func NewManual(page int, class string, shape Shape) *Region {
	origin := OriginManual
	if _, ok := shape.(Stroke); ok {
		origin = OriginPaint
	}
	return New(page, origin, class, 1.0, shape)
}

// Live reports whether the region takes part in masks and status.
func (r *Region) Live() bool { return r != nil && !r.Deleted && r.Shape != nil }

// Clone returns a deep copy of the region, including its geometry.
func (r *Region) Clone() *Region {
	c := *r
	switch s := r.Shape.(type) {
	case Polygon:
		c.Shape = Polygon{Points: append([]utils.Point(nil), s.Points...)}
	case Stroke:
		c.Shape = Stroke{Points: append([]utils.Point(nil), s.Points...), Width: s.Width}
	}
	return &c
}

func (r *Region) String() string {
	return fmt.Sprintf("region %s page=%d origin=%s class=%s conf=%.2f deleted=%t",
		r.ID, r.Page, r.Origin, r.Class, r.Confidence, r.Deleted)
}
