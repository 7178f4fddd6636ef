package detector

import (
	"github.com/MeKo-Tech/retouch/internal/bitmap"
)

// component holds statistics for one 4-connected blob of a probability map.
type component struct {
	label int
	count int
	sum   float64
	maxV  float64
	minX  int
	minY  int
	maxX  int
	maxY  int
}

func (c component) mean() float64 {
	if c.count == 0 {
		return 0
	}
	return c.sum / float64(c.count)
}

func (c *component) add(p float32, x, y int) {
	c.count++
	c.sum += float64(p)
	c.maxV = max(c.maxV, float64(p))
	c.minX = min(c.minX, x)
	c.minY = min(c.minY, y)
	c.maxX = max(c.maxX, x)
	c.maxY = max(c.maxY, y)
}

// binarize creates a mask from a probability map with threshold t.
func binarize(prob []float32, w, h int, t float32) *bitmap.Mask {
	m := bitmap.New(w, h)
	for i, p := range prob[:min(len(prob), w*h)] {
		if p >= t {
			m.Pix[i] = 1
		}
	}
	return m
}

// connectedComponents labels 4-connected blobs of mask. The returned label
// slice holds 0 for background and component.label otherwise.
func connectedComponents(mask *bitmap.Mask, prob []float32) ([]component, []int) {
	w, h := mask.Width, mask.Height
	labels := make([]int, w*h)
	var comps []component
	queue := make([]int, 0, 64)
	dirs := [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

	next := 1
	for seed := range labels {
		if mask.Pix[seed] == 0 || labels[seed] != 0 {
			continue
		}
		sx, sy := seed%w, seed/w
		c := component{label: next, minX: sx, minY: sy, maxX: sx, maxY: sy}
		labels[seed] = next
		queue = append(queue[:0], seed)
		for len(queue) > 0 {
			ci := queue[0]
			queue = queue[1:]
			cx, cy := ci%w, ci/w
			var p float32
			if ci < len(prob) {
				p = prob[ci]
			}
			c.add(p, cx, cy)
			for _, d := range dirs {
				nx, ny := cx+d[0], cy+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if mask.Pix[ni] != 0 && labels[ni] == 0 {
					labels[ni] = next
					queue = append(queue, ni)
				}
			}
		}
		comps = append(comps, c)
		next++
	}
	return comps, labels
}
