package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImageTensor(t *testing.T) {
	tests := []struct {
		name    string
		data    []float32
		wantErr bool
	}{
		{"nil data", nil, true},
		{"too short", make([]float32, 10), true},
		{"too long", make([]float32, 100), true},
		{"valid", make([]float32, 60), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ten, err := NewImageTensor(tt.data, 3, 4, 5)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 3, 4, 5}, ten.Shape)
			require.NoError(t, VerifyImageTensor(ten))
		})
	}
}

func TestNewMaskTensor(t *testing.T) {
	ten, err := NewMaskTensor([]uint8{0, 1, 0, 7, 0, 0}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 2, 3}, ten.Shape)
	assert.Equal(t, []float32{0, 1, 0, 1, 0, 0}, ten.Data)

	_, err = NewMaskTensor([]uint8{1}, 2, 3)
	require.Error(t, err)
}

func TestTensorReleaseReusesPooledData(t *testing.T) {
	ten, err := NewMaskTensor(make([]uint8, 2000), 40, 50)
	require.NoError(t, err)
	ten.Release()
	assert.Nil(t, ten.Data)

	// A recycled buffer must not leak set pixels from an earlier mask.
	full := make([]uint8, 2000)
	for i := range full {
		full[i] = 1
	}
	a, err := NewMaskTensor(full, 40, 50)
	require.NoError(t, err)
	a.Release()
	b, err := NewMaskTensor(make([]uint8, 2000), 40, 50)
	require.NoError(t, err)
	for i, v := range b.Data {
		require.Zero(t, v, "index %d", i)
	}
	b.Release()
}

func TestValidateNCHW(t *testing.T) {
	require.NoError(t, ValidateNCHW([]int64{1, 3, 8, 8}))
	require.Error(t, ValidateNCHW([]int64{1, 3, 8}))
	require.Error(t, ValidateNCHW([]int64{1, 0, 8, 8}))
	require.Error(t, VerifyImageTensor(Tensor{Data: make([]float32, 3), Shape: []int64{1, 1, 2, 2}}))
}

func TestTensorStats(t *testing.T) {
	mn, mx, mean := TensorStats([]float32{1, -2, 4})
	assert.InDelta(t, -2, mn, 1e-6)
	assert.InDelta(t, 4, mx, 1e-6)
	assert.InDelta(t, 1, mean, 1e-6)

	mn, mx, mean = TensorStats(nil)
	assert.Zero(t, mn)
	assert.Zero(t, mx)
	assert.Zero(t, mean)
}
