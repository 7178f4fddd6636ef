package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// ErrSessionClosed is returned by Run after Close.
var ErrSessionClosed = errors.New("session closed")

// SessionConfig describes how to open a model.
type SessionConfig struct {
	ModelPath  string
	NumThreads int
	GPU        GPUConfig
}

// Output is one float32 model output.
type Output struct {
	Data  []float32
	Shape []int64
}

// Session wraps a dynamic ONNX Runtime session with float32 inputs and outputs.
type Session struct {
	mu      sync.Mutex
	session *onnxruntime_go.DynamicAdvancedSession
	inputs  []onnxruntime_go.InputOutputInfo
	outputs []onnxruntime_go.InputOutputInfo
}

// NewSession initializes the runtime if needed and opens the model.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if err := cfg.GPU.Validate(); err != nil {
		return nil, fmt.Errorf("invalid GPU config: %w", err)
	}
	if err := Init(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs", cfg.ModelPath, len(inputs), len(outputs))
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()
	if err := configureGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	sess, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath, names(inputs), names(outputs), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	slog.Debug("ONNX session ready", "model", cfg.ModelPath, "inputs", names(inputs), "outputs", names(outputs),
		"gpu", cfg.GPU.UseGPU)
	return &Session{session: sess, inputs: inputs, outputs: outputs}, nil
}

func names(infos []onnxruntime_go.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

// InputShapes returns the declared input dimensions (-1 for dynamic axes).
func (s *Session) InputShapes() [][]int64 {
	out := make([][]int64, len(s.inputs))
	for i, in := range s.inputs {
		out[i] = append([]int64(nil), in.Dimensions...)
	}
	return out
}

// Run executes the model. Inputs are matched to model inputs by position.
// Calls are serialized.
func (s *Session) Run(inputs ...Tensor) ([]Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrSessionClosed
	}
	if len(inputs) != len(s.inputs) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(s.inputs), len(inputs))
	}

	in := make([]onnxruntime_go.Value, len(inputs))
	defer func() {
		for _, v := range in {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	for i, t := range inputs {
		v, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %d: %w", i, err)
		}
		in[i] = v
	}

	out := make([]onnxruntime_go.Value, len(s.outputs))
	if err := s.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, v := range out {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	results := make([]Output, len(out))
	for i, v := range out {
		ft, ok := v.(*onnxruntime_go.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %d is %T, want float32 tensor", i, v)
		}
		results[i] = Output{
			Data:  append([]float32(nil), ft.GetData()...),
			Shape: append([]int64(nil), ft.GetShape()...),
		}
	}
	return results, nil
}

// Close releases the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
