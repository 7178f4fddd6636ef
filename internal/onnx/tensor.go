package onnx

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/retouch/internal/mempool"
)

// Tensor represents a float32 tensor prepared for ONNX input.
// Data layout is row-major, NCHW for images.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Release returns pooled data to mempool. The tensor must not be used
// afterwards.
func (t *Tensor) Release() {
	mempool.PutFloat32(t.Data)
	t.Data = nil
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if expected := c * h * w; len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// NewMaskTensor builds a [1, 1, H, W] tensor from a binary pixel slice:
// set pixels become 1, the rest 0.
func NewMaskTensor(pix []uint8, h, w int) (Tensor, error) {
	if len(pix) != h*w {
		return Tensor{}, fmt.Errorf("unexpected mask length: got %d, want %d", len(pix), h*w)
	}
	data := mempool.GetFloat32(len(pix))
	for i, v := range pix {
		data[i] = 0
		if v != 0 {
			data[i] = 1
		}
	}
	return Tensor{Data: data, Shape: []int64{1, 1, int64(h), int64(w)}}, nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if expected := int(n * c * h * w); len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// TensorStats returns min, max and mean for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
