package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	DetectorModel  = "retouch_det.onnx"
	SegmenterModel = "retouch_seg.onnx"
	InpainterModel = "lama_fp32.onnx"
)

// Model type directories for the organized layout.
const (
	TypeDetection    = "detection"
	TypeSegmentation = "segmentation"
	TypeInpainting   = "inpainting"
)

// DefaultModelsDir is used below the project root when nothing else is set.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "RETOUCH_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath returns modelsDir/<type>/<filename> when that file exists
// and modelsDir/<filename> otherwise.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetDetectorModelPath returns the box detector model path.
func GetDetectorModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, DetectorModel)
}

// GetSegmenterModelPath returns the polygon segmenter model path.
func GetSegmenterModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeSegmentation, SegmenterModel)
}

// GetInpainterModelPath returns the inpainting model path.
func GetInpainterModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeInpainting, InpainterModel)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the models retouch knows about.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{Name: "detector", Type: TypeDetection, Description: "Box detector for text, bubbles and marks", Filename: DetectorModel},
		{Name: "segmenter", Type: TypeSegmentation, Description: "Per-class polygon segmenter", Filename: SegmenterModel},
		{Name: "inpainter", Type: TypeInpainting, Description: "LaMa image inpainting", Filename: InpainterModel},
	}
}
