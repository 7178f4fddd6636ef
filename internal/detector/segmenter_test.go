package detector

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/onnx"
	"github.com/MeKo-Tech/retouch/internal/onnx/mock"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

func testSegmenterConfig(size int) SegmenterConfig {
	cfg := DefaultSegmenterConfig()
	cfg.InputSize = size
	cfg.SimplifyEpsilon = 0.5
	return cfg
}

func TestDecodeSegmentation(t *testing.T) {
	text := mock.NewRectMap(64, 64, image.Rect(8, 8, 24, 16), 0.9, 0)
	logo := mock.NewUniformMap(64, 64, 0)
	data, shape := mock.StackMaps(text, logo)

	dets, err := decodeSegmentation(onnx.Output{Data: data, Shape: shape}, testSegmenterConfig(64), 0.5,
		utils.Letterbox{Scale: 1}, 64, 64)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	d := dets[0]
	assert.Equal(t, "text", d.Label)
	assert.InDelta(t, 0.9, d.Confidence, 1e-6)
	assert.True(t, d.IsPolygon())
	assert.InDelta(t, 8.5, d.Box.MinX, 1e-6)
	assert.InDelta(t, 8.5, d.Box.MinY, 1e-6)
	assert.InDelta(t, 23.5, d.Box.MaxX, 1e-6)
	assert.InDelta(t, 15.5, d.Box.MaxY, 1e-6)
}

func TestDecodeSegmentationFilters(t *testing.T) {
	weak := mock.NewRectMap(32, 32, image.Rect(2, 2, 12, 12), 0.55, 0)
	tiny := mock.NewRectMap(32, 32, image.Rect(20, 20, 22, 22), 0.99, 0)
	data, shape := mock.StackMaps(weak, tiny)
	out := onnx.Output{Data: data, Shape: shape}

	dets, err := decodeSegmentation(out, testSegmenterConfig(32), 0.6, utils.Letterbox{Scale: 1}, 32, 32)
	require.NoError(t, err)
	assert.Empty(t, dets, "weak component is below the floor, tiny one below MinArea")

	dets, err = decodeSegmentation(out, testSegmenterConfig(32), 0.5, utils.Letterbox{Scale: 1}, 32, 32)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "text", dets[0].Label)
}

func TestDecodeSegmentationScalesLowResolutionMaps(t *testing.T) {
	m := mock.NewRectMap(32, 32, image.Rect(4, 4, 12, 12), 1, 0)
	data, shape := mock.StackMaps(m)
	dets, err := decodeSegmentation(onnx.Output{Data: data, Shape: shape}, testSegmenterConfig(64), 0.5,
		utils.Letterbox{Scale: 1}, 64, 64)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 9, dets[0].Box.MinX, 1e-6)
	assert.InDelta(t, 23, dets[0].Box.MaxX, 1e-6)
}

func TestDecodeSegmentationBadShape(t *testing.T) {
	_, err := decodeSegmentation(onnx.Output{Data: make([]float32, 4), Shape: []int64{1, 1, 2}},
		testSegmenterConfig(2), 0, utils.Letterbox{Scale: 1}, 2, 2)
	assert.Error(t, err)
}

func TestONNXSegmenterSegment(t *testing.T) {
	m := mock.NewRectMap(64, 64, image.Rect(10, 10, 30, 20), 0.8, 0)
	data, shape := mock.StackMaps(m)
	seg := &ONNXSegmenter{cfg: testSegmenterConfig(64), session: &fakeRunner{outs: []onnx.Output{{Data: data, Shape: shape}}}}

	dets, err := seg.Segment(context.Background(), blankPage(64, 64), 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	var nilSeg *ONNXSegmenter
	_, err = nilSeg.Segment(context.Background(), blankPage(4, 4), 0)
	var ie *InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "segment", ie.Op)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestSegmenterConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSegmenterConfig().validate())
	bad := DefaultSegmenterConfig()
	bad.BinaryThreshold = 1
	assert.Error(t, bad.validate())
}
