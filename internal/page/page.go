// Package page holds the per-page state: current bitmap, paint layer,
// regions, combined mask cache and the version buffer.
//
// A Page is not safe for concurrent use. All mutation happens on the
// pipeline controller goroutine (or through Controller.Post).
package page

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/region"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// ErrRegionNotFound is returned when an id does not belong to the page.
var ErrRegionNotFound = errors.New("region not found")

// Status is the save state of a page.
type Status int

const (
	StatusSaved Status = iota
	StatusModified
	StatusUnsaved
)

func (s Status) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusModified:
		return "modified"
	case StatusUnsaved:
		return "unsaved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Page is one image of the document with its regions and history.
type Page struct {
	Index int
	Path  string

	img      *image.NRGBA
	paint    *image.Alpha
	status   Status
	versions VersionBuffer
	regions  []*region.Region

	mask      *bitmap.Mask
	maskOK    bool
	maskValid bool
}

// New creates a page from a freshly loaded bitmap. Slots 0 and 1 are
// seeded from it and the paint layer starts transparent.
func New(index int, path string, img image.Image) *Page {
	p := &Page{Index: index, Path: path}
	p.replaceImage(imaging.Clone(img))
	p.versions.reset(p.img)
	return p
}

// Image returns the current bitmap. Callers must not modify it.
func (p *Page) Image() *image.NRGBA { return p.img }

// Paint returns the freehand paint layer.
func (p *Page) Paint() *image.Alpha { return p.paint }

// Width returns the current bitmap width.
func (p *Page) Width() int { return p.img.Bounds().Dx() }

// Height returns the current bitmap height.
func (p *Page) Height() int { return p.img.Bounds().Dy() }

// Status returns the save state.
func (p *Page) Status() Status { return p.status }

// SetStatus overrides the save state.
func (p *Page) SetStatus(s Status) { p.status = s }

// Versions exposes the version buffer for inspection.
func (p *Page) Versions() *VersionBuffer { return &p.versions }

// Regions returns every region, including soft-deleted ones, in insertion order.
func (p *Page) Regions() []*region.Region {
	return append([]*region.Region(nil), p.regions...)
}

// LiveRegions returns the regions that take part in the mask.
func (p *Page) LiveRegions() []*region.Region {
	out := make([]*region.Region, 0, len(p.regions))
	for _, r := range p.regions {
		if r.Live() {
			out = append(out, r)
		}
	}
	return out
}

// Region looks up a region by id.
func (p *Page) Region(id uuid.UUID) (*region.Region, bool) {
	for _, r := range p.regions {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// AddRegion appends a region to the page.
func (p *Page) AddRegion(r *region.Region) {
	r.Page = p.Index
	p.regions = append(p.regions, r)
	p.edited()
}

// DeleteRegion soft-deletes a region. Deleting twice is a no-op.
func (p *Page) DeleteRegion(id uuid.UUID) error {
	return p.setDeleted(id, true)
}

// UndeleteRegion restores a soft-deleted region.
func (p *Page) UndeleteRegion(id uuid.UUID) error {
	return p.setDeleted(id, false)
}

func (p *Page) setDeleted(id uuid.UUID, deleted bool) error {
	r, ok := p.Region(id)
	if !ok {
		return fmt.Errorf("page %d: %w: %s", p.Index, ErrRegionNotFound, id)
	}
	if r.Deleted == deleted {
		return nil
	}
	r.Deleted = deleted
	p.edited()
	return nil
}

// ReplaceOrigin soft-deletes every live region of origin and appends
// replacements. Regions of other origins are untouched.
func (p *Page) ReplaceOrigin(origin region.Origin, replacements []*region.Region) {
	for _, r := range p.regions {
		if r.Origin == origin && !r.Deleted {
			r.Deleted = true
		}
	}
	for _, r := range replacements {
		r.Page = p.Index
		p.regions = append(p.regions, r)
	}
	p.edited()
}

// PaintStroke paints a round-capped stroke into the paint layer.
func (p *Page) PaintStroke(points []utils.Point, width float64) {
	p.strokePaint(points, width, 255)
}

// ErasePaint clears the paint layer along a stroke.
func (p *Page) ErasePaint(points []utils.Point, width float64) {
	p.strokePaint(points, width, 0)
}

func (p *Page) strokePaint(points []utils.Point, width float64, alpha uint8) {
	if len(points) == 0 {
		return
	}
	m := region.Rasterize(region.Stroke{Points: points, Width: width}, p.Width(), p.Height())
	for i, v := range m.Pix {
		if v != 0 {
			p.paint.Pix[(i/m.Width)*p.paint.Stride+i%m.Width] = alpha
		}
	}
	p.edited()
}

// ClearPaint makes the paint layer fully transparent.
func (p *Page) ClearPaint() {
	clear(p.paint.Pix)
	p.edited()
}

// HasPaint reports whether any paint pixel is set.
func (p *Page) HasPaint() bool {
	for _, a := range p.paint.Pix {
		if a != 0 {
			return true
		}
	}
	return false
}

// InvalidateMask drops the cached combined mask.
func (p *Page) InvalidateMask() {
	p.mask = nil
	p.maskOK = false
	p.maskValid = false
}

// edited invalidates the mask and recomputes Saved/Modified from the live
// content. An Unsaved page stays Unsaved until it is saved or reset.
func (p *Page) edited() {
	p.InvalidateMask()
	if p.status == StatusUnsaved {
		return
	}
	if len(p.LiveRegions()) > 0 || p.HasPaint() {
		p.status = StatusModified
	} else {
		p.status = StatusSaved
	}
}

// replaceImage installs a new current bitmap and a fresh paint layer.
func (p *Page) replaceImage(img *image.NRGBA) {
	p.img = img
	p.paint = image.NewAlpha(img.Bounds())
	p.InvalidateMask()
}

// ApplyRestoration installs a restoration result, rotates the version
// buffer and marks the page Unsaved. Regions are kept.
func (p *Page) ApplyRestoration(result image.Image) {
	img := imaging.Clone(result)
	p.versions.rotate(img)
	p.replaceImage(img)
	p.status = StatusUnsaved
}

// UndoRestoration steps back one restoration. It returns false when there
// is nothing to undo.
func (p *Page) UndoRestoration() bool {
	prev, ok := p.versions.stepBack()
	if !ok {
		return false
	}
	p.replaceImage(imaging.Clone(prev))
	if p.versions.Empty(SlotLatest) {
		p.status = StatusSaved
		p.edited()
	}
	return true
}

// ResetToLastSaved restores the bitmap from slot 1 and clears slots 2 and 3.
// Calling it repeatedly yields the same bitmap.
func (p *Page) ResetToLastSaved() {
	p.versions.clearIntermediate()
	p.replaceImage(imaging.Clone(p.versions.Slot(SlotSaved)))
	p.status = StatusSaved
	p.edited()
}

// ResetToOriginal reinitializes the page from an external source bitmap.
// Slots 0 and 1 are seeded from src, all regions and paint are discarded.
func (p *Page) ResetToOriginal(src image.Image) {
	img := imaging.Clone(src)
	p.versions.reset(img)
	p.regions = nil
	p.replaceImage(img)
	p.status = StatusSaved
}

// MarkSaved records the current bitmap as the saved version.
func (p *Page) MarkSaved() {
	p.versions.markSaved(p.img)
	p.status = StatusSaved
}

// CombinedMask returns the cached combined mask, building it when needed.
func (p *Page) CombinedMask() (*bitmap.Mask, bool) {
	return BuildCombinedMask(p)
}

// RenderOverlay draws the current bitmap with visible region outlines and
// a translucent tint where the combined mask is set.
func (p *Page) RenderOverlay(visible func(class string) bool, colorOf func(r *region.Region) color.NRGBA) *image.RGBA {
	b := p.img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.Opaque, image.Point{}, draw.Src)
	draw.Draw(out, b, p.img, b.Min, draw.Over)

	if m, ok := BuildCombinedMask(p); ok {
		for y := range m.Height {
			for x := range m.Width {
				if !m.At(x, y) {
					continue
				}
				o := out.PixOffset(x, y)
				out.Pix[o] = uint8((uint16(out.Pix[o]) + 255) / 2)
				out.Pix[o+1] /= 2
				out.Pix[o+2] /= 2
			}
		}
	}

	for _, r := range p.LiveRegions() {
		if visible != nil && !visible(r.Class) {
			continue
		}
		col := r.Color
		if colorOf != nil {
			col = colorOf(r)
		}
		switch s := r.Shape.(type) {
		case region.Box:
			utils.DrawRect(out, s.Bounds().ToRect(b), col, 2)
		case region.Polygon:
			utils.DrawPolyline(out, s.Points, col, 2, true)
		case region.Stroke:
			utils.DrawPolyline(out, s.Points, col, max(1, int(s.Width)), false)
		}
	}
	return out
}
