package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextLine is a line of text drawn onto a synthetic page. X and Y give the
// top-left corner of the line's bounding box.
type TextLine struct {
	Text string `json:"text"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// PageSpec describes a synthetic page.
type PageSpec struct {
	Width      int
	Height     int
	Background color.Color
	Foreground color.Color
	Lines      []TextLine
}

// DefaultPageSpec returns a white page with two lines of black text.
func DefaultPageSpec() PageSpec {
	return PageSpec{
		Width:      200,
		Height:     120,
		Background: color.White,
		Foreground: color.Black,
		Lines: []TextLine{
			{Text: "SPEECH BUBBLE", X: 20, Y: 20},
			{Text: "more words", X: 40, Y: 70},
		},
	}
}

// GeneratePage renders spec using the basic 7x13 bitmap face.
func GeneratePage(spec PageSpec) *image.NRGBA {
	if spec.Background == nil {
		spec.Background = color.White
	}
	if spec.Foreground == nil {
		spec.Foreground = color.Black
	}
	img := image.NewNRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: spec.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: &image.Uniform{C: spec.Foreground}, Face: face}
	for _, line := range spec.Lines {
		d.Dot = fixed.P(line.X, line.Y+face.Ascent)
		d.DrawString(line.Text)
	}
	return img
}

// TextBounds returns the pixel rectangle a line occupies when rendered by
// GeneratePage.
func TextBounds(line TextLine) image.Rectangle {
	face := basicfont.Face7x13
	w := font.MeasureString(face, line.Text).Ceil()
	return image.Rect(line.X, line.Y, line.X+w, line.Y+face.Height)
}

// CreateTestImage creates a solid-color image.
func CreateTestImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// CountInk counts pixels inside r whose luminance is below 128.
func CountInk(img image.Image, r image.Rectangle) int {
	r = r.Intersect(img.Bounds())
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if g.Y < 128 {
				n++
			}
		}
	}
	return n
}

// CompareImages compares two images with a per-channel tolerance (0-1).
func CompareImages(img1, img2 image.Image, tolerance float64) (bool, error) {
	b1, b2 := img1.Bounds(), img2.Bounds()
	if b1.Dx() != b2.Dx() || b1.Dy() != b2.Dy() {
		return false, fmt.Errorf("image dimensions differ: %v vs %v", b1.Size(), b2.Size())
	}

	maxDiff := tolerance * 65535
	for y := range b1.Dy() {
		for x := range b1.Dx() {
			r1, g1, bb1, a1 := img1.At(b1.Min.X+x, b1.Min.Y+y).RGBA()
			r2, g2, bb2, a2 := img2.At(b2.Min.X+x, b2.Min.Y+y).RGBA()
			if channelDiff(r1, r2) > maxDiff || channelDiff(g1, g2) > maxDiff ||
				channelDiff(bb1, bb2) > maxDiff || channelDiff(a1, a2) > maxDiff {
				return false, nil
			}
		}
	}
	return true, nil
}

func channelDiff(a, b uint32) float64 {
	return math.Abs(float64(a) - float64(b))
}
