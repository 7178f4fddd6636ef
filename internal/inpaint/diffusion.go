package inpaint

import (
	"context"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/mempool"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// Diffusion is a model-free inpainter. Masked pixels are filled ring by ring
// from the mask border inward with the mean of their known 8-neighbours and
// then smoothed with Smoothing Jacobi passes over the masked area.
type Diffusion struct {
	Smoothing int
}

// NewDiffusion returns a diffusion inpainter with default smoothing.
func NewDiffusion() *Diffusion { return &Diffusion{Smoothing: 20} }

// Inpaint implements Inpainter.
func (d *Diffusion) Inpaint(ctx context.Context, img image.Image, mask *bitmap.Mask) (image.Image, error) {
	if err := CheckMask(img, mask); err != nil {
		return nil, err
	}
	out := utils.ToNRGBA(img)
	w, h := mask.Width, mask.Height
	known := mempool.GetBool(w * h)
	defer mempool.PutBool(known)
	for i, v := range mask.Pix {
		known[i] = v == 0
	}
	if !anyKnown(known) {
		// Nothing to propagate from; keep the page as is.
		slog.Warn("Mask covers the whole page, nothing to diffuse from")
		return out, nil
	}

	rings := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		front := peelRing(out, known, w, h)
		if len(front) == 0 {
			break
		}
		for _, i := range front {
			known[i] = true
		}
		rings++
	}

	for range d.Smoothing {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		smooth(out, mask)
	}
	slog.Debug("Diffusion inpaint finished", "rings", rings, "masked", mask.Count())
	return out, nil
}

func anyKnown(known []bool) bool {
	for _, k := range known {
		if k {
			return true
		}
	}
	return false
}

// peelRing fills every unknown pixel that has at least one known neighbour
// and returns their indices. Pixels are marked known by the caller so a
// ring only reads from earlier rings.
func peelRing(img *image.NRGBA, known []bool, w, h int) []int {
	var front []int
	for y := range h {
		for x := range w {
			i := y*w + x
			if known[i] {
				continue
			}
			var sum [4]int
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h || !known[ny*w+nx] {
						continue
					}
					o := img.PixOffset(nx, ny)
					for c := range 4 {
						sum[c] += int(img.Pix[o+c])
					}
					n++
				}
			}
			if n == 0 {
				continue
			}
			front = append(front, i)
			o := img.PixOffset(x, y)
			for c := range 4 {
				img.Pix[o+c] = uint8((sum[c] + n/2) / n)
			}
		}
	}
	return front
}

// smooth replaces every masked pixel by the mean of its 4-neighbourhood.
func smooth(img *image.NRGBA, mask *bitmap.Mask) {
	src := append([]uint8(nil), img.Pix...)
	w, h := mask.Width, mask.Height
	for y := range h {
		for x := range w {
			if !mask.At(x, y) {
				continue
			}
			var sum [4]int
			n := 0
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				o := img.PixOffset(nx, ny)
				for c := range 4 {
					sum[c] += int(src[o+c])
				}
				n++
			}
			o := img.PixOffset(x, y)
			for c := range 4 {
				img.Pix[o+c] = uint8((sum[c] + n/2) / n)
			}
		}
	}
}
