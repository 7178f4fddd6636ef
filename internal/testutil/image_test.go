package testutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePageDrawsInkInsideTextBounds(t *testing.T) {
	spec := DefaultPageSpec()
	img := GeneratePage(spec)
	assert.Equal(t, image.Rect(0, 0, spec.Width, spec.Height), img.Bounds())

	total := CountInk(img, img.Bounds())
	inside := 0
	for _, line := range spec.Lines {
		inside += CountInk(img, TextBounds(line))
	}
	assert.Positive(t, total)
	assert.Equal(t, total, inside, "all ink should fall inside the text bounds")
}

func TestTextBounds(t *testing.T) {
	r := TextBounds(TextLine{Text: "abc", X: 5, Y: 7})
	assert.Equal(t, image.Rect(5, 7, 5+3*7, 7+13), r)
}

func TestCompareImages(t *testing.T) {
	white := CreateTestImage(8, 8, color.White)
	grey := CreateTestImage(8, 8, color.Gray{Y: 250})

	same, err := CompareImages(white, white, 0)
	require.NoError(t, err)
	assert.True(t, same)

	same, err = CompareImages(white, grey, 0)
	require.NoError(t, err)
	assert.False(t, same)

	same, err = CompareImages(white, grey, 0.05)
	require.NoError(t, err)
	assert.True(t, same)

	_, err = CompareImages(white, CreateTestImage(4, 4, color.White), 0)
	assert.Error(t, err)
}
