package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	t.Run("explicit directory takes precedence", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/env/path")
		assert.Equal(t, "/explicit/path", GetModelsDir("/explicit/path"))
	})
	t.Run("environment variable used when no explicit dir", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/env/path")
		assert.Equal(t, "/env/path", GetModelsDir(""))
	})
	t.Run("default used when neither provided", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		want := DefaultModelsDir
		if root, err := findProjectRoot(); err == nil {
			want = filepath.Join(root, DefaultModelsDir)
		}
		assert.Equal(t, want, GetModelsDir(""))
	})
}

func TestResolveModelPath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, DetectorModel), GetDetectorModelPath(dir), "flat layout fallback")

	organized := filepath.Join(dir, TypeSegmentation, SegmenterModel)
	require.NoError(t, os.MkdirAll(filepath.Dir(organized), 0o750))
	require.NoError(t, os.WriteFile(organized, []byte("onnx"), 0o600))
	assert.Equal(t, organized, GetSegmenterModelPath(dir))

	assert.Equal(t, filepath.Join(dir, InpainterModel), GetInpainterModelPath(dir))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, InpainterModel)
	require.Error(t, ValidateModelExists(p))
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	assert.NoError(t, ValidateModelExists(p))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.Len(t, list, 3)
	for _, m := range list {
		assert.NotEmpty(t, m.Filename)
		assert.NotEmpty(t, m.Type)
	}
}
