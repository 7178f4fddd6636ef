package bitmap

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDilateSinglePixel(t *testing.T) {
	m := New(5, 5)
	m.Set(2, 2, true)

	out := Dilate(m, 3)
	assert.Equal(t, 9, out.Count())
	assert.Equal(t, image.Rect(1, 1, 4, 4), out.BoundingRect())
	// Input untouched.
	assert.Equal(t, 1, m.Count())
}

func TestErodeRemovesIsolatedPixel(t *testing.T) {
	m := New(5, 5)
	m.Set(2, 2, true)
	assert.False(t, Erode(m, 3).Any())
}

func TestErodeIgnoresOutOfBounds(t *testing.T) {
	m := New(4, 4)
	m.FillRect(m.Bounds())
	assert.Equal(t, 16, Erode(m, 3).Count())
}

func TestCloseFillsSinglePixelGap(t *testing.T) {
	m := New(12, 7)
	m.FillRect(image.Rect(2, 2, 5, 5))
	m.FillRect(image.Rect(6, 2, 9, 5))

	closed := Close(m, 3)
	assert.True(t, closed.At(5, 3), "gap column should be bridged")
	assert.Equal(t, image.Rect(2, 2, 9, 5), closed.BoundingRect())
	assert.Equal(t, 21, closed.Count())
}

func TestBoxFootprintAfterCloseAndDilate(t *testing.T) {
	m := New(100, 100)
	m.FillRect(image.Rect(10, 10, 60, 60))

	out := Dilate(Close(m, 3), 3)
	assert.Equal(t, image.Rect(9, 9, 61, 61), out.BoundingRect())
	assert.Equal(t, 52*52, out.Count())
}

func TestApplyNoop(t *testing.T) {
	m := New(3, 3)
	m.Set(1, 1, true)
	for _, tc := range []struct {
		name       string
		op         MorphologicalOp
		kernel     int
		iterations int
	}{
		{"none", MorphNone, 3, 1},
		{"kernel one", MorphDilate, 1, 1},
		{"zero iterations", MorphErode, 3, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := Apply(m, tc.op, tc.kernel, tc.iterations)
			assert.True(t, m.Equal(out))
			assert.NotSame(t, m, out)
		})
	}
}

func TestOpeningRemovesSpeck(t *testing.T) {
	m := New(12, 12)
	m.FillRect(image.Rect(2, 2, 8, 8))
	m.Set(10, 10, true)

	out := Apply(m, MorphOpening, 3, 1)
	assert.False(t, out.At(10, 10))
	assert.Equal(t, 36, out.Count())
}
