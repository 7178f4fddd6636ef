package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/retouch/internal/mempool"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ToNRGBA returns an NRGBA copy of img with bounds starting at (0, 0).
func ToNRGBA(img image.Image) *image.NRGBA {
	if img == nil {
		return nil
	}
	return imaging.Clone(img)
}

// Letterbox describes how an image was fitted into a fixed model input.
type Letterbox struct {
	Scale float64 // resized = original * Scale
	PadX  int     // left padding in the model input
	PadY  int     // top padding in the model input
}

// ToOriginal maps a point from model-input coordinates back to the source image.
func (l Letterbox) ToOriginal(p Point) Point {
	if l.Scale == 0 {
		return p
	}
	return Point{X: (p.X - float64(l.PadX)) / l.Scale, Y: (p.Y - float64(l.PadY)) / l.Scale}
}

// LetterboxImage resizes img to fit into a size x size square preserving
// aspect ratio and pads the remainder with a neutral gray.
func LetterboxImage(img image.Image, size int) (*image.NRGBA, Letterbox, error) {
	if img == nil {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("input image is nil")}
	}
	if size <= 0 {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: fmt.Errorf("invalid size %d", size)}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("empty image")}
	}
	scale := float64(size) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	lb := Letterbox{Scale: scale, PadX: (size - nw) / 2, PadY: (size - nh) / 2}
	return imaging.Paste(canvas, resized, image.Pt(lb.PadX, lb.PadY)), lb, nil
}

// PadToMultiple pads img on the right and bottom (edge-replicated) so that
// both dimensions are multiples of m.
func PadToMultiple(img image.Image, m int) *image.NRGBA {
	src := ToNRGBA(img)
	if m <= 1 {
		return src
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	pw := (w + m - 1) / m * m
	ph := (h + m - 1) / m * m
	if pw == w && ph == h {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, pw, ph))
	for y := range ph {
		sy := min(y, h-1)
		for x := range pw {
			sx := min(x, w-1)
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// NormalizeImage converts an image to a float32 NCHW tensor with RGB
// channels scaled to 0..1. The buffer comes from mempool and may be handed
// back with mempool.PutFloat32 once consumed.
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	nrgba := ToNRGBA(img)
	width, height := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if width <= 0 || height <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("invalid image dimensions")}
	}
	plane := width * height
	tensor := mempool.GetFloat32(3 * plane)
	for y := range height {
		for x := range width {
			i := nrgba.PixOffset(x, y)
			idx := y*width + x
			tensor[idx] = float32(nrgba.Pix[i]) / 255.0
			tensor[plane+idx] = float32(nrgba.Pix[i+1]) / 255.0
			tensor[2*plane+idx] = float32(nrgba.Pix[i+2]) / 255.0
		}
	}
	return tensor, width, height, nil
}

// TensorToImage converts a CHW float32 tensor (three channels) back to an
// opaque NRGBA image. scale255 selects whether values are 0..1 or 0..255.
func TensorToImage(data []float32, width, height int, scale255 bool) (*image.NRGBA, error) {
	plane := width * height
	if width <= 0 || height <= 0 || len(data) < 3*plane {
		return nil, &ImageProcessingError{
			Operation: "denormalize",
			Err:       fmt.Errorf("tensor length %d too small for %dx%d", len(data), width, height),
		}
	}
	mul := float32(255)
	if scale255 {
		mul = 1
	}
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			idx := y*width + x
			i := out.PixOffset(x, y)
			out.Pix[i] = toByte(data[idx] * mul)
			out.Pix[i+1] = toByte(data[plane+idx] * mul)
			out.Pix[i+2] = toByte(data[2*plane+idx] * mul)
			out.Pix[i+3] = 255
		}
	}
	return out, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
