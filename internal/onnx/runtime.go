package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "RETOUCH_ONNXRUNTIME_LIB"

var initMu sync.Mutex

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LibraryCandidates returns the shared library paths tried in order.
func LibraryCandidates(useGPU bool) []string {
	var out []string
	if p := os.Getenv(EnvLibraryPath); p != "" {
		out = append(out, p)
	}
	name, err := libraryName()
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	out = append(out,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	)
	if root, err := findProjectRoot(); err == nil {
		if useGPU {
			out = append(out, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
		}
		out = append(out, filepath.Join(root, "onnxruntime", "lib", name))
	}
	return out
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// Init locates the shared library and initializes the ONNX Runtime
// environment once per process.
func Init(useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()
	if onnxruntime_go.IsInitialized() {
		return nil
	}
	found := ""
	for _, p := range LibraryCandidates(useGPU) {
		if _, err := os.Stat(p); err == nil {
			found = p
			break
		}
	}
	if found == "" {
		return errors.New("ONNX Runtime library not found")
	}
	onnxruntime_go.SetSharedLibraryPath(found)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// Shutdown tears down the ONNX Runtime environment if it was initialized.
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()
	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}
