package page

import (
	"github.com/MeKo-Tech/retouch/internal/bitmap"
)

// cleanupKernel is the structuring element size of the mask cleanup.
const cleanupKernel = 3

// BuildCombinedMask merges the live regions and the paint layer of p into
// one binary mask, then closes and dilates it once with a 3x3 kernel. The
// cleanup only runs when at least one pixel is set. ok is false for an
// all-zero mask. The result is cached on the page until the next edit;
// callers must not modify it.
func BuildCombinedMask(p *Page) (*bitmap.Mask, bool) {
	if p.maskValid {
		return p.mask, p.maskOK
	}
	w, h := p.Width(), p.Height()
	m := bitmap.New(w, h)
	for _, r := range p.regions {
		if !r.Live() {
			continue
		}
		m.Or(r.Rasterize(w, h))
	}
	m.OrAlpha(p.paint)

	ok := m.Any()
	if ok {
		m = bitmap.Dilate(bitmap.Close(m, cleanupKernel), cleanupKernel)
	}
	p.mask, p.maskOK, p.maskValid = m, ok, true
	return m, ok
}
