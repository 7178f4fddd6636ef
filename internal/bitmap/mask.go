// Package bitmap provides the binary raster mask shared by region
// rasterization, the combined page mask and the inpainters.
package bitmap

import (
	"image"
	"image/color"
)

// Mask is a binary bitmap. Pix holds one byte per pixel, 0 or 1, row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates an all-zero mask. Negative sizes are treated as zero.
func New(width, height int) *Mask {
	width = max(width, 0)
	height = max(height, 0)
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// Bounds returns the mask rectangle anchored at the origin.
func (m *Mask) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// In reports whether (x, y) lies inside the mask.
func (m *Mask) In(x, y int) bool { return x >= 0 && y >= 0 && x < m.Width && y < m.Height }

// At reports whether the pixel at (x, y) is set. Out-of-range reads return false.
func (m *Mask) At(x, y int) bool {
	if !m.In(x, y) {
		return false
	}
	return m.Pix[y*m.Width+x] != 0
}

// Set marks or clears the pixel at (x, y). Out-of-range writes are ignored.
func (m *Mask) Set(x, y int, on bool) {
	if !m.In(x, y) {
		return
	}
	var v uint8
	if on {
		v = 1
	}
	m.Pix[y*m.Width+x] = v
}

// FillRect sets every pixel of r intersected with the mask bounds.
func (m *Mask) FillRect(r image.Rectangle) {
	r = r.Intersect(m.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*m.Width+r.Min.X : y*m.Width+r.Max.X]
		for i := range row {
			row[i] = 1
		}
	}
}

// Or merges o into m. Masks of different sizes are merged on their overlap.
func (m *Mask) Or(o *Mask) {
	if o == nil {
		return
	}
	if o.Width == m.Width && o.Height == m.Height {
		for i, v := range o.Pix {
			m.Pix[i] |= v
		}
		return
	}
	w := min(m.Width, o.Width)
	h := min(m.Height, o.Height)
	for y := range h {
		for x := range w {
			m.Pix[y*m.Width+x] |= o.Pix[y*o.Width+x]
		}
	}
}

// Any reports whether at least one pixel is set.
func (m *Mask) Any() bool {
	for _, v := range m.Pix {
		if v != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	if m == nil {
		return nil
	}
	c := &Mask{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// Equal reports whether both masks have the same size and pixels.
func (m *Mask) Equal(o *Mask) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Width != o.Width || m.Height != o.Height {
		return false
	}
	for i, v := range m.Pix {
		if v != o.Pix[i] {
			return false
		}
	}
	return true
}

// BoundingRect returns the smallest rectangle containing every set pixel,
// or an empty rectangle for an all-zero mask.
func (m *Mask) BoundingRect() image.Rectangle {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := range m.Height {
		for x := range m.Width {
			if m.Pix[y*m.Width+x] == 0 {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// ToGray renders the mask as an 8-bit image, 255 where set.
func (m *Mask) ToGray() *image.Gray {
	g := image.NewGray(m.Bounds())
	for i, v := range m.Pix {
		if v != 0 {
			g.Pix[i] = 255
		}
	}
	return g
}

// FromImage builds a mask from any image: a pixel is set when its alpha is
// nonzero and its luminance is at least half intensity. Gray and Alpha
// images use their single channel directly.
func FromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Alpha:
		for y := range m.Height {
			for x := range m.Width {
				if src.AlphaAt(b.Min.X+x, b.Min.Y+y).A > 0 {
					m.Pix[y*m.Width+x] = 1
				}
			}
		}
	case *image.Gray:
		for y := range m.Height {
			for x := range m.Width {
				if src.GrayAt(b.Min.X+x, b.Min.Y+y).Y >= 128 {
					m.Pix[y*m.Width+x] = 1
				}
			}
		}
	default:
		for y := range m.Height {
			for x := range m.Width {
				c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				if a > 0 && c.Y >= 128 {
					m.Pix[y*m.Width+x] = 1
				}
			}
		}
	}
	return m
}

// OrAlpha sets every pixel whose alpha in the layer is nonzero.
func (m *Mask) OrAlpha(layer *image.Alpha) {
	if layer == nil {
		return
	}
	b := layer.Bounds()
	for y := range min(m.Height, b.Dy()) {
		for x := range min(m.Width, b.Dx()) {
			if layer.AlphaAt(b.Min.X+x, b.Min.Y+y).A > 0 {
				m.Pix[y*m.Width+x] = 1
			}
		}
	}
}
