package region

import (
	"image"
	"math"

	"golang.org/x/image/vector"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// coverageThreshold is the minimum anti-aliased polygon coverage (0..255)
// for a pixel to be set.
const coverageThreshold = 128

// Rasterize renders the region into a w x h mask. Deleted regions render
// as an all-zero mask.
func (r *Region) Rasterize(w, h int) *bitmap.Mask {
	if !r.Live() {
		return bitmap.New(w, h)
	}
	return Rasterize(r.Shape, w, h)
}

// Rasterize renders a shape into a w x h mask. Geometry outside the canvas
// is clipped, never an error.
func Rasterize(shape Shape, w, h int) *bitmap.Mask {
	m := bitmap.New(w, h)
	if w == 0 || h == 0 {
		return m
	}
	switch s := shape.(type) {
	case Box:
		rasterizeBox(m, s)
	case Polygon:
		rasterizePolygon(m, s)
	case Stroke:
		rasterizeStroke(m, s)
	}
	return m
}

func rasterizeBox(m *bitmap.Mask, b Box) {
	if b.W <= 0 || b.H <= 0 {
		return
	}
	m.FillRect(b.Bounds().ToRect(m.Bounds()))
}

func rasterizePolygon(m *bitmap.Mask, p Polygon) {
	pts := make([]utils.Point, len(p.Points))
	for i, v := range p.Points {
		pts[i] = utils.Point{
			X: utils.ClampFloat(v.X, 0, float64(m.Width-1)),
			Y: utils.ClampFloat(v.Y, 0, float64(m.Height-1)),
		}
	}
	pts = utils.DedupePoints(pts)
	if len(pts) < 3 {
		return
	}

	bb := utils.BoundingBox(pts).ToRect(m.Bounds())
	if bb.Empty() {
		return
	}
	z := vector.NewRasterizer(bb.Dx(), bb.Dy())
	ox, oy := float32(bb.Min.X), float32(bb.Min.Y)
	z.MoveTo(float32(pts[0].X)-ox, float32(pts[0].Y)-oy)
	for _, v := range pts[1:] {
		z.LineTo(float32(v.X)-ox, float32(v.Y)-oy)
	}
	z.ClosePath()

	cov := image.NewAlpha(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	z.Draw(cov, cov.Bounds(), image.Opaque, image.Point{})
	for y := range bb.Dy() {
		for x := range bb.Dx() {
			if cov.Pix[y*cov.Stride+x] >= coverageThreshold {
				m.Set(bb.Min.X+x, bb.Min.Y+y, true)
			}
		}
	}
}

// rasterizeStroke sets every pixel whose centre lies within width/2 of the
// stroke path, which yields round caps and joins. A single point is a disc.
func rasterizeStroke(m *bitmap.Mask, s Stroke) {
	if len(s.Points) == 0 {
		return
	}
	radius := math.Max(s.Width, 1) / 2
	area := s.Bounds().Expand(1).ToRect(m.Bounds())
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			c := utils.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			if strokeDistance(c, s.Points) <= radius {
				m.Set(x, y, true)
			}
		}
	}
}

func strokeDistance(p utils.Point, pts []utils.Point) float64 {
	if len(pts) == 1 {
		return math.Hypot(p.X-pts[0].X, p.Y-pts[0].Y)
	}
	best := math.Inf(1)
	for i := 1; i < len(pts); i++ {
		best = math.Min(best, utils.SegmentDistance(p, pts[i-1], pts[i]))
	}
	return best
}
