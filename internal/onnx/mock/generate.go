// Package mock builds synthetic model outputs for decoder tests.
package mock

import (
	"image"
	"math"
)

// ImageMap is a synthetic single-channel probability map with NCHW shape [1,1,H,W].
type ImageMap struct {
	Data   []float32
	Width  int
	Height int
}

// NewUniformMap creates a uniform probability map.
func NewUniformMap(w, h int, value float32) ImageMap {
	if w <= 0 || h <= 0 {
		return ImageMap{}
	}
	data := make([]float32, w*h)
	for i := range data {
		data[i] = clamp01(value)
	}
	return ImageMap{Data: data, Width: w, Height: h}
}

// NewRectMap creates a map that is hi inside r and lo elsewhere.
func NewRectMap(w, h int, r image.Rectangle, hi, lo float32) ImageMap {
	m := NewUniformMap(w, h, lo)
	r = r.Intersect(image.Rect(0, 0, w, h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Data[y*w+x] = clamp01(hi)
		}
	}
	return m
}

// NewCenteredBlobMap creates a Gaussian blob centred in the map.
func NewCenteredBlobMap(w, h int, peak float32, sigma float64) ImageMap {
	if w <= 0 || h <= 0 {
		return ImageMap{}
	}
	data := make([]float32, w*h)
	cx := float64(w-1) / 2.0
	cy := float64(h-1) / 2.0
	inv2s2 := 1.0 / (2.0 * sigma * sigma)
	for y := range h {
		for x := range w {
			dx := float64(x) - cx
			dy := float64(y) - cy
			data[y*w+x] = clamp01(float32(math.Exp(-(dx*dx+dy*dy)*inv2s2)) * peak)
		}
	}
	return ImageMap{Data: data, Width: w, Height: h}
}

// StackMaps concatenates per-class maps into a [1, C, H, W] buffer.
func StackMaps(maps ...ImageMap) ([]float32, []int64) {
	if len(maps) == 0 {
		return nil, nil
	}
	w, h := maps[0].Width, maps[0].Height
	out := make([]float32, 0, len(maps)*w*h)
	for _, m := range maps {
		out = append(out, m.Data...)
	}
	return out, []int64{1, int64(len(maps)), int64(h), int64(w)}
}

// Anchor is one synthetic detector proposal in model-input pixels.
type Anchor struct {
	CX, CY, W, H float32
	Class        int
	Score        float32
}

// NewDetectionOutput builds a YOLO-style [1, 4+C, N] output where anchor i
// occupies column i. Columns beyond the given anchors are zero.
func NewDetectionOutput(anchors []Anchor, numClasses, numAnchors int) ([]float32, []int64) {
	numAnchors = max(numAnchors, len(anchors))
	rows := 4 + numClasses
	data := make([]float32, rows*numAnchors)
	for i, a := range anchors {
		data[0*numAnchors+i] = a.CX
		data[1*numAnchors+i] = a.CY
		data[2*numAnchors+i] = a.W
		data[3*numAnchors+i] = a.H
		if a.Class >= 0 && a.Class < numClasses {
			data[(4+a.Class)*numAnchors+i] = a.Score
		}
	}
	return data, []int64{1, int64(rows), int64(numAnchors)}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
