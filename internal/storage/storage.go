// Package storage reads and writes page bitmaps by path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/retouch/internal/utils"
)

// ErrNotFound is returned when no bitmap exists at a path.
var ErrNotFound = errors.New("image not found")

// Store loads page bitmaps and persists results. Writes are lossless.
type Store interface {
	Load(ctx context.Context, path string) (image.Image, error)
	Save(ctx context.Context, path string, img image.Image) (string, error)
}

// FileStore reads images from disk and writes PNG files. When OutputDir is
// set, results are written there under the source base name; otherwise
// they are written next to the source.
type FileStore struct {
	OutputDir string
}

// NewFileStore creates a file-backed store.
func NewFileStore(outputDir string) *FileStore {
	return &FileStore{OutputDir: outputDir}
}

// Load decodes the image at path.
func (s *FileStore) Load(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return img, nil
}

// Save writes img as PNG and returns the path written.
func (s *FileStore) Save(ctx context.Context, path string, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := s.OutputPath(path)
	if err := utils.SaveImagePNG(dst, img); err != nil {
		return "", err
	}
	return dst, nil
}

// OutputPath returns where a result for the source path is written.
func (s *FileStore) OutputPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
	dir := filepath.Dir(path)
	if s.OutputDir != "" {
		dir = s.OutputDir
	}
	return filepath.Join(dir, base)
}

// MemoryStore keeps bitmaps in memory. Useful for hosts that receive pages
// over the network and for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string]image.Image)}
}

// Put stores a copy of img under path.
func (s *MemoryStore) Put(path string, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[path] = imaging.Clone(img)
}

// Load returns the image stored under path.
func (s *MemoryStore) Load(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return img, nil
}

// Save stores a copy of img under path.
func (s *MemoryStore) Save(ctx context.Context, path string, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Put(path, img)
	return path, nil
}

// Len returns the number of stored images.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}
