package page

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/region"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

func solid(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func pixel(img *image.NRGBA) uint8 { return img.Pix[0] }

func TestNewPage(t *testing.T) {
	p := New(2, "p.png", solid(20, 10, 7))
	assert.Equal(t, 2, p.Index)
	assert.Equal(t, StatusSaved, p.Status())
	assert.Equal(t, p.Image().Bounds(), p.Paint().Bounds())
	assert.False(t, p.HasPaint())
	assert.NotNil(t, p.Versions().Slot(SlotBackup))
	assert.NotNil(t, p.Versions().Slot(SlotSaved))
	assert.True(t, p.Versions().Empty(SlotPrevious))
	assert.True(t, p.Versions().Empty(SlotLatest))
	assert.Nil(t, p.Versions().Slot(9))
}

func TestRegionEditsAndStatus(t *testing.T) {
	p := New(0, "p.png", solid(50, 50, 0))
	r := region.NewManual(99, "text", region.Box{X: 1, Y: 1, W: 5, H: 5})
	p.AddRegion(r)
	assert.Equal(t, 0, r.Page, "page index is stamped on add")
	assert.Equal(t, StatusModified, p.Status())

	require.NoError(t, p.DeleteRegion(r.ID))
	assert.True(t, r.Deleted)
	assert.Empty(t, p.LiveRegions())
	assert.Len(t, p.Regions(), 1, "soft delete keeps the region")
	assert.Equal(t, StatusSaved, p.Status(), "deleted regions do not count toward status")

	require.NoError(t, p.DeleteRegion(r.ID))
	require.NoError(t, p.UndeleteRegion(r.ID))
	assert.Len(t, p.LiveRegions(), 1)

	err := p.DeleteRegion(uuid.New())
	require.ErrorIs(t, err, ErrRegionNotFound)
}

func TestReplaceOriginKeepsOtherOrigins(t *testing.T) {
	p := New(0, "p.png", solid(50, 50, 0))
	manual := region.NewManual(0, "text", region.Box{X: 1, Y: 1, W: 5, H: 5})
	oldDetect := region.New(0, region.OriginDetect, "text", 0.9, region.Box{X: 10, Y: 10, W: 5, H: 5})
	seg := region.New(0, region.OriginSegment, "text", 0.9, region.Box{X: 20, Y: 20, W: 5, H: 5})
	p.AddRegion(manual)
	p.AddRegion(oldDetect)
	p.AddRegion(seg)

	newDetect := region.New(0, region.OriginDetect, "text", 0.8, region.Box{X: 30, Y: 30, W: 5, H: 5})
	p.ReplaceOrigin(region.OriginDetect, []*region.Region{newDetect})

	assert.True(t, oldDetect.Deleted)
	assert.False(t, manual.Deleted)
	assert.False(t, seg.Deleted)
	assert.Len(t, p.Regions(), 4)
	assert.Len(t, p.LiveRegions(), 3)
}

func TestPaintLayer(t *testing.T) {
	p := New(0, "p.png", solid(30, 30, 0))
	p.PaintStroke([]utils.Point{{X: 5, Y: 5}, {X: 25, Y: 5}}, 4)
	assert.True(t, p.HasPaint())
	assert.Equal(t, StatusModified, p.Status())
	assert.Equal(t, uint8(255), p.Paint().AlphaAt(15, 5).A)

	p.ErasePaint([]utils.Point{{X: 15, Y: 5}}, 6)
	assert.Equal(t, uint8(0), p.Paint().AlphaAt(15, 5).A)
	assert.True(t, p.HasPaint())

	p.ClearPaint()
	assert.False(t, p.HasPaint())
	assert.Equal(t, StatusSaved, p.Status())

	p.PaintStroke(nil, 4)
	assert.False(t, p.HasPaint())
}

func TestRestorationRotation(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	saved := p.Versions().Slot(SlotSaved)

	for n := 2; n <= 5; n++ {
		p.ApplyRestoration(solid(8, 8, uint8(n)))
	}
	// Results 2..5 applied: previous holds 4, latest holds 5.
	assert.Equal(t, uint8(4), pixel(p.Versions().Slot(SlotPrevious)))
	assert.Equal(t, uint8(5), pixel(p.Versions().Slot(SlotLatest)))
	assert.Equal(t, uint8(5), pixel(p.Image()))
	assert.Same(t, saved, p.Versions().Slot(SlotSaved), "restoration never touches slot 1")
	assert.Equal(t, StatusUnsaved, p.Status())
}

func TestFirstRestorationLeavesPreviousEmpty(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	p.ApplyRestoration(solid(8, 8, 2))
	assert.True(t, p.Versions().Empty(SlotPrevious))
	assert.Equal(t, uint8(2), pixel(p.Versions().Slot(SlotLatest)))
}

func TestRestorationResetsPaintLayer(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	p.PaintStroke([]utils.Point{{X: 4, Y: 4}}, 3)
	p.ApplyRestoration(solid(12, 12, 2))
	assert.Equal(t, image.Rect(0, 0, 12, 12), p.Paint().Bounds())
	assert.False(t, p.HasPaint())
}

func TestUndoRestoration(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	assert.False(t, p.UndoRestoration())

	p.ApplyRestoration(solid(8, 8, 2))
	p.ApplyRestoration(solid(8, 8, 3))

	require.True(t, p.UndoRestoration())
	assert.Equal(t, uint8(2), pixel(p.Image()))
	assert.Equal(t, uint8(2), pixel(p.Versions().Slot(SlotLatest)))
	assert.True(t, p.Versions().Empty(SlotPrevious))
	assert.Equal(t, StatusUnsaved, p.Status())

	require.True(t, p.UndoRestoration())
	assert.Equal(t, uint8(1), pixel(p.Image()))
	assert.True(t, p.Versions().Empty(SlotLatest))
	assert.Equal(t, StatusSaved, p.Status())

	assert.False(t, p.UndoRestoration())
}

func TestResetToLastSavedIsIdempotent(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	p.ApplyRestoration(solid(8, 8, 2))
	p.ApplyRestoration(solid(8, 8, 3))

	p.ResetToLastSaved()
	first := p.Image()
	assert.Equal(t, uint8(1), pixel(first))
	assert.True(t, p.Versions().Empty(SlotPrevious))
	assert.True(t, p.Versions().Empty(SlotLatest))

	p.ResetToLastSaved()
	assert.Equal(t, first.Pix, p.Image().Pix)
	assert.True(t, p.Versions().Empty(SlotPrevious))
	assert.True(t, p.Versions().Empty(SlotLatest))
	assert.Equal(t, StatusSaved, p.Status())
}

func TestResetToOriginal(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	p.AddRegion(region.NewManual(0, "text", region.Box{X: 1, Y: 1, W: 2, H: 2}))
	p.PaintStroke([]utils.Point{{X: 4, Y: 4}}, 3)
	p.ApplyRestoration(solid(8, 8, 2))
	p.MarkSaved()

	p.ResetToOriginal(solid(8, 8, 9))
	assert.Equal(t, uint8(9), pixel(p.Image()))
	assert.Equal(t, uint8(9), pixel(p.Versions().Slot(SlotBackup)))
	assert.Equal(t, uint8(9), pixel(p.Versions().Slot(SlotSaved)))
	assert.True(t, p.Versions().Empty(SlotLatest))
	assert.Empty(t, p.Regions())
	assert.False(t, p.HasPaint())
	_, ok := p.CombinedMask()
	assert.False(t, ok)
}

func TestMarkSaved(t *testing.T) {
	p := New(0, "p.png", solid(8, 8, 1))
	p.ApplyRestoration(solid(8, 8, 2))
	p.MarkSaved()
	assert.Equal(t, StatusSaved, p.Status())
	assert.Equal(t, uint8(2), pixel(p.Versions().Slot(SlotSaved)))
	assert.True(t, p.Versions().Empty(SlotLatest))

	p.ApplyRestoration(solid(8, 8, 3))
	p.ResetToLastSaved()
	assert.Equal(t, uint8(2), pixel(p.Image()))
}

func TestRenderOverlay(t *testing.T) {
	p := New(0, "p.png", solid(40, 40, 0))
	r := region.NewManual(0, "text", region.Box{X: 10, Y: 10, W: 10, H: 10})
	hidden := region.NewManual(0, "hidden", region.Box{X: 25, Y: 25, W: 10, H: 10})
	p.AddRegion(r)
	p.AddRegion(hidden)

	green := color.NRGBA{G: 255, A: 255}
	out := p.RenderOverlay(
		func(class string) bool { return class != "hidden" },
		func(*region.Region) color.NRGBA { return green },
	)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, out.RGBAAt(10, 15))
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(0, 0))
	// Hidden regions still tint the mask but get no outline.
	assert.NotEqual(t, green.G, out.RGBAAt(25, 30).G)
	assert.Positive(t, out.RGBAAt(30, 30).R)
}
