package mock

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUniformMap(t *testing.T) {
	m := NewUniformMap(4, 3, 1.7)
	require.Len(t, m.Data, 12)
	assert.InDelta(t, 1.0, m.Data[5], 1e-6)
	assert.Nil(t, NewUniformMap(0, 3, 0.5).Data)
}

func TestNewRectMap(t *testing.T) {
	m := NewRectMap(10, 10, image.Rect(2, 2, 5, 5), 0.9, 0.1)
	assert.InDelta(t, 0.9, m.Data[3*10+3], 1e-6)
	assert.InDelta(t, 0.1, m.Data[0], 1e-6)
}

func TestNewCenteredBlobMap(t *testing.T) {
	m := NewCenteredBlobMap(9, 9, 0.8, 2)
	assert.InDelta(t, 0.8, m.Data[4*9+4], 1e-6)
	assert.Less(t, m.Data[0], m.Data[4*9+4])
}

func TestStackMaps(t *testing.T) {
	a := NewUniformMap(2, 2, 0.1)
	b := NewUniformMap(2, 2, 0.9)
	data, shape := StackMaps(a, b)
	assert.Equal(t, []int64{1, 2, 2, 2}, shape)
	assert.InDelta(t, 0.9, data[4], 1e-6)

	data, shape = StackMaps()
	assert.Nil(t, data)
	assert.Nil(t, shape)
}

func TestNewDetectionOutput(t *testing.T) {
	data, shape := NewDetectionOutput([]Anchor{{CX: 10, CY: 20, W: 4, H: 6, Class: 1, Score: 0.7}}, 2, 3)
	assert.Equal(t, []int64{1, 6, 3}, shape)
	require.Len(t, data, 18)
	assert.InDelta(t, 10, data[0], 1e-6)
	assert.InDelta(t, 20, data[3], 1e-6)
	assert.InDelta(t, 0.7, data[5*3+0], 1e-6)
	assert.Zero(t, data[4*3+0])
}
