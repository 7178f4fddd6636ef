package page

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/MeKo-Tech/retouch/internal/storage"
)

// ErrPageNotLoaded is returned for indices that are not in the active set.
var ErrPageNotLoaded = errors.New("page not loaded")

// Document is the ordered page set of one folder. The page table is safe
// for concurrent use; the pages themselves follow the Page ownership rule.
type Document struct {
	mu     sync.RWMutex
	paths  []string
	pages  map[int]*Page
	failed map[int]error
	store  storage.Store
}

// NewDocument creates a document over paths in on-disk order.
func NewDocument(paths []string, store storage.Store) *Document {
	return &Document{
		paths:  append([]string(nil), paths...),
		pages:  make(map[int]*Page),
		failed: make(map[int]error),
		store:  store,
	}
}

// Len returns the number of page paths.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.paths)
}

// Paths returns a copy of the page paths.
func (d *Document) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.paths...)
}

// SetLoaded creates the page for index from img. It is idempotent: a
// second delivery for the same index keeps the existing page and returns
// false.
func (d *Document) SetLoaded(index int, img image.Image) (*Page, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.paths) {
		return nil, false
	}
	if p, ok := d.pages[index]; ok {
		return p, false
	}
	p := New(index, d.paths[index], img)
	d.pages[index] = p
	delete(d.failed, index)
	return p, true
}

// SetLoadFailed excludes index from the active set.
func (d *Document) SetLoadFailed(index int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pages[index]; ok {
		return
	}
	d.failed[index] = err
}

// Failed returns the load error recorded for index, if any.
func (d *Document) Failed(index int) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failed[index]
}

// Page returns the loaded page for index.
func (d *Document) Page(index int) (*Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.pages[index]
	if !ok {
		return nil, fmt.Errorf("page %d: %w", index, ErrPageNotLoaded)
	}
	return p, nil
}

// Active returns the indices of loaded pages in ascending order.
func (d *Document) Active() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int, 0, len(d.pages))
	for i := range d.pages {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Reset replaces the page list wholesale, discarding every page.
func (d *Document) Reset(paths []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append([]string(nil), paths...)
	d.pages = make(map[int]*Page)
	d.failed = make(map[int]error)
}

// Save writes the current bitmap of index through the store and marks the
// page saved. It returns the path written.
func (d *Document) Save(ctx context.Context, index int) (string, error) {
	p, err := d.Page(index)
	if err != nil {
		return "", err
	}
	if d.store == nil {
		return "", errors.New("document has no store")
	}
	path, err := d.store.Save(ctx, p.Path, p.Image())
	if err != nil {
		return "", fmt.Errorf("save page %d: %w", index, err)
	}
	p.MarkSaved()
	return path, nil
}

// ResetToOriginal reloads index from the store and reinitializes the page from it.
func (d *Document) ResetToOriginal(ctx context.Context, index int) error {
	p, err := d.Page(index)
	if err != nil {
		return err
	}
	if d.store == nil {
		return errors.New("document has no store")
	}
	src, err := d.store.Load(ctx, p.Path)
	if err != nil {
		return fmt.Errorf("reset page %d: %w", index, err)
	}
	p.ResetToOriginal(src)
	return nil
}
