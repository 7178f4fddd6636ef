// Package inpaint fills masked page pixels from their surroundings.
package inpaint

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// Inpainter replaces the pixels selected by mask. Pixels outside the mask
// are returned unchanged.
type Inpainter interface {
	Inpaint(ctx context.Context, img image.Image, mask *bitmap.Mask) (image.Image, error)
}

// InpainterFunc adapts a function to the Inpainter interface.
type InpainterFunc func(ctx context.Context, img image.Image, mask *bitmap.Mask) (image.Image, error)

// Inpaint calls f.
func (f InpainterFunc) Inpaint(ctx context.Context, img image.Image, mask *bitmap.Mask) (image.Image, error) {
	return f(ctx, img, mask)
}

// ErrEmptyMask matches every *EmptyMaskError.
var ErrEmptyMask = errors.New("mask is empty")

// EmptyMaskError is returned when there is nothing to restore on a page.
type EmptyMaskError struct {
	Page int // -1 when unknown
}

func (e *EmptyMaskError) Error() string {
	if e.Page < 0 {
		return ErrEmptyMask.Error()
	}
	return fmt.Sprintf("page %d: %s", e.Page, ErrEmptyMask)
}

// Is reports whether target is ErrEmptyMask.
func (e *EmptyMaskError) Is(target error) bool { return target == ErrEmptyMask }

// CheckMask validates that mask is non-empty and matches the image size.
func CheckMask(img image.Image, mask *bitmap.Mask) error {
	if img == nil {
		return errors.New("input image is nil")
	}
	if mask == nil || !mask.Any() {
		return &EmptyMaskError{Page: -1}
	}
	b := img.Bounds()
	if mask.Width != b.Dx() || mask.Height != b.Dy() {
		return fmt.Errorf("mask %dx%d does not match image %dx%d", mask.Width, mask.Height, b.Dx(), b.Dy())
	}
	return nil
}

// Composite copies the masked pixels of filled over src.
func Composite(src, filled image.Image, mask *bitmap.Mask) *image.NRGBA {
	out := utils.ToNRGBA(src)
	fill := utils.ToNRGBA(filled)
	fb := fill.Bounds()
	for y := range mask.Height {
		for x := range mask.Width {
			if !mask.At(x, y) || x >= fb.Dx() || y >= fb.Dy() {
				continue
			}
			si := fill.PixOffset(x, y)
			di := out.PixOffset(x, y)
			copy(out.Pix[di:di+4], fill.Pix[si:si+4])
		}
	}
	return out
}
