package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/onnx"
	"github.com/MeKo-Tech/retouch/internal/onnx/mock"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

type fakeRunner struct {
	outs   []onnx.Output
	err    error
	inputs [][]int64
	closed bool
}

func (f *fakeRunner) Run(inputs ...onnx.Tensor) ([]onnx.Output, error) {
	for _, in := range inputs {
		f.inputs = append(f.inputs, in.Shape)
	}
	return f.outs, f.err
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func blankPage(w, h int) image.Image {
	return imaging.New(w, h, color.White)
}

func TestDecodeDetectionsLetterbox(t *testing.T) {
	data, shape := mock.NewDetectionOutput([]mock.Anchor{
		{CX: 320, CY: 320, W: 100, H: 50, Class: 1, Score: 0.9},
		{CX: 100, CY: 300, W: 20, H: 20, Class: 0, Score: 0.1},
	}, 5, 16)
	// 1280x640 fits 640 at scale 0.5 with 160px vertical padding.
	lb := utils.Letterbox{Scale: 0.5, PadY: 160}
	dets, err := decodeDetections(onnx.Output{Data: data, Shape: shape}, DefaultConfig().Labels, 0.25, lb, 1280, 640)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "fon_text", dets[0].Label)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.InDelta(t, 540, dets[0].Box.MinX, 1e-6)
	assert.InDelta(t, 270, dets[0].Box.MinY, 1e-6)
	assert.InDelta(t, 740, dets[0].Box.MaxX, 1e-6)
	assert.InDelta(t, 370, dets[0].Box.MaxY, 1e-6)
	assert.False(t, dets[0].IsPolygon())
}

func TestDecodeDetectionsTransposedAndClipped(t *testing.T) {
	// [1, N, 4+C] with N=8 anchors and 2 classes.
	rows, n := 6, 8
	data := make([]float32, rows*n)
	set := func(i int, vals ...float32) { copy(data[i*rows:], vals) }
	set(0, 5, 5, 20, 20, 0, 0.7)
	out := onnx.Output{Data: data, Shape: []int64{1, int64(n), int64(rows)}}

	dets, err := decodeDetections(out, []string{"text"}, 0.5, utils.Letterbox{Scale: 1}, 100, 100)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "class_1", dets[0].Label)
	assert.Equal(t, utils.NewBox(0, 0, 15, 15), dets[0].Box)
}

func TestDecodeDetectionsBadShape(t *testing.T) {
	_, err := decodeDetections(onnx.Output{Data: make([]float32, 4), Shape: []int64{1, 4}}, nil, 0, utils.Letterbox{}, 1, 1)
	require.Error(t, err)
	_, err = decodeDetections(onnx.Output{Data: make([]float32, 3), Shape: []int64{1, 6, 1}}, nil, 0, utils.Letterbox{}, 1, 1)
	require.Error(t, err)
}

func TestONNXDetectorDetect(t *testing.T) {
	data, shape := mock.NewDetectionOutput([]mock.Anchor{
		{CX: 100, CY: 100, W: 40, H: 40, Class: 0, Score: 0.8},
		{CX: 102, CY: 101, W: 40, H: 40, Class: 0, Score: 0.6},
		{CX: 400, CY: 400, W: 40, H: 40, Class: 3, Score: 0.7},
	}, 5, 10)
	fr := &fakeRunner{outs: []onnx.Output{{Data: data, Shape: shape}}}
	d := &ONNXDetector{cfg: DefaultConfig(), session: fr}

	dets, err := d.Detect(context.Background(), blankPage(640, 640), 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "text", dets[0].Label)
	assert.Equal(t, "watermark", dets[1].Label)
	assert.Equal(t, [][]int64{{1, 3, 640, 640}}, fr.inputs)

	require.NoError(t, d.Close())
	assert.True(t, fr.closed)
}

func TestONNXDetectorErrors(t *testing.T) {
	var d *ONNXDetector
	_, err := d.Detect(context.Background(), blankPage(8, 8), 0)
	require.ErrorIs(t, err, ErrModelUnavailable)

	boom := errors.New("boom")
	d = &ONNXDetector{cfg: DefaultConfig(), session: &fakeRunner{err: boom}}
	_, err = d.Detect(context.Background(), blankPage(8, 8), 0)
	var ie *InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "detect", ie.Op)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, blankPage(8, 8), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().validate())
	bad := DefaultConfig()
	bad.Labels = nil
	assert.Error(t, bad.validate())
	bad = DefaultConfig()
	bad.NMSThreshold = 2
	assert.Error(t, bad.validate())

	_, err := NewONNXDetector(Config{})
	assert.Error(t, err)
}
