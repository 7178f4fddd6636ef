// Package testutil builds synthetic pages, documents and canned detections
// for package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/storage"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

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

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WritePageFolder writes imgs as page_000.png, page_001.png, ... into dir
// and returns the paths in page order.
func WritePageFolder(t *testing.T, dir string, imgs []image.Image) []string {
	t.Helper()
	require.NoError(t, EnsureDir(dir))
	paths := make([]string, len(imgs))
	for i, img := range imgs {
		paths[i] = filepath.Join(dir, fmt.Sprintf("page_%03d.png", i))
		require.NoError(t, utils.SaveImagePNG(paths[i], img), "write page %d", i)
	}
	return paths
}

// MemoryDocument puts imgs into a memory store under page_NNN.png and
// returns a document with every page loaded.
func MemoryDocument(t *testing.T, imgs []image.Image) (*page.Document, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	paths := make([]string, len(imgs))
	for i, img := range imgs {
		paths[i] = fmt.Sprintf("page_%03d.png", i)
		store.Put(paths[i], img)
	}
	doc := page.NewDocument(paths, store)
	for i, p := range paths {
		img, err := store.Load(context.Background(), p)
		require.NoError(t, err)
		doc.SetLoaded(i, img)
	}
	return doc, store
}
