package loader

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/storage"
)

type recorder struct {
	mu        sync.Mutex
	order     []int
	errs      map[int]error
	progress  [][2]int
	complete  int
	cancelled int
	onPage    func(int)
	onEnd     func()
}

func (r *recorder) OnPageLoaded(index int, _ image.Image, err error) {
	r.mu.Lock()
	r.order = append(r.order, index)
	if err != nil {
		if r.errs == nil {
			r.errs = map[int]error{}
		}
		r.errs[index] = err
	}
	hook := r.onPage
	r.mu.Unlock()
	if hook != nil {
		hook(index)
	}
}

func (r *recorder) OnProgress(loaded, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [2]int{loaded, total})
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	r.complete++
	hook := r.onEnd
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *recorder) OnCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
}

func fixture(n int, missing ...int) (*storage.MemoryStore, []string) {
	store := storage.NewMemoryStore()
	skip := map[int]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("scan_%02d.png", i)
		if !skip[i] {
			store.Put(paths[i], imaging.New(8, 8, color.Gray{Y: uint8(i)}))
		}
	}
	return store, paths
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("load did not finish")
	}
}

func TestSchedulerSingleWorkerFollowsPriority(t *testing.T) {
	store, paths := fixture(6)
	rec := &recorder{}
	s, err := New(Config{Store: store, Paths: paths, Workers: 1, Listener: rec})
	require.NoError(t, err)

	done, err := s.Start(context.Background(), 2)
	require.NoError(t, err)
	waitDone(t, done)

	assert.Equal(t, []int{2, 3, 1, 4, 0, 5}, rec.order)
	assert.Equal(t, [2]int{6, 6}, rec.progress[len(rec.progress)-1])
	assert.Equal(t, 1, rec.complete)
	assert.Zero(t, rec.cancelled)
	assert.False(t, s.Running())
}

func TestSchedulerParallelLoadsEveryPageOnce(t *testing.T) {
	store, paths := fixture(40, 7)
	rec := &recorder{}
	s, err := New(Config{Store: store, Paths: paths, Workers: 4, Listener: rec})
	require.NoError(t, err)

	done, err := s.Start(context.Background(), 20)
	require.NoError(t, err)
	waitDone(t, done)

	assert.ElementsMatch(t, PriorityOrder(20, 40, 0), rec.order)
	require.Contains(t, rec.errs, 7)
	var le *LoadError
	require.ErrorAs(t, rec.errs[7], &le)
	assert.Equal(t, paths[7], le.Path)
	assert.ErrorIs(t, rec.errs[7], storage.ErrNotFound)
	for i, p := range rec.progress {
		assert.Equal(t, i+1, p[0], "progress is delivered serially")
	}
	assert.Equal(t, 1, rec.complete)
}

func TestSchedulerCancel(t *testing.T) {
	store, paths := fixture(30)
	rec := &recorder{}
	s, err := New(Config{Store: store, Paths: paths, Workers: 1, Listener: rec})
	require.NoError(t, err)
	rec.onPage = func(int) { s.Cancel() }

	done, err := s.Start(context.Background(), 0)
	require.NoError(t, err)
	waitDone(t, done)

	assert.Less(t, len(rec.order), 30)
	assert.Equal(t, 1, rec.cancelled)
	assert.Zero(t, rec.complete)
	assert.False(t, s.Cancel(), "no load left to cancel")
}

func TestSchedulerContextCancelled(t *testing.T) {
	store, paths := fixture(5)
	rec := &recorder{}
	s, err := New(Config{Store: store, Paths: paths, Workers: 2, Listener: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err := s.Start(ctx, 0)
	require.NoError(t, err)
	waitDone(t, done)
	assert.Empty(t, rec.order)
	assert.Equal(t, 1, rec.cancelled)
}

func TestSchedulerRejectsConcurrentStart(t *testing.T) {
	store, paths := fixture(3)
	release := make(chan struct{})
	rec := &recorder{onPage: func(int) { <-release }}
	s, err := New(Config{Store: store, Paths: paths, Workers: 1, Listener: rec})
	require.NoError(t, err)

	done, err := s.Start(context.Background(), 0)
	require.NoError(t, err)
	_, err = s.Start(context.Background(), 0)
	require.ErrorIs(t, err, ErrRunning)
	close(release)
	waitDone(t, done)

	done, err = s.Start(context.Background(), 1)
	require.NoError(t, err, "a finished load can be restarted")
	waitDone(t, done)
	assert.Equal(t, 2, rec.complete)
}

func TestSchedulerStaysRunningUntilTerminalEvent(t *testing.T) {
	store, paths := fixture(2)
	inTerminal := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{onEnd: func() {
		close(inTerminal)
		<-release
	}}
	s, err := New(Config{Store: store, Paths: paths, Workers: 1, Listener: rec})
	require.NoError(t, err)

	done, err := s.Start(context.Background(), 0)
	require.NoError(t, err)
	select {
	case <-inTerminal:
	case <-time.After(5 * time.Second):
		t.Fatal("load did not complete")
	}
	_, err = s.Start(context.Background(), 0)
	require.ErrorIs(t, err, ErrRunning)

	close(release)
	waitDone(t, done)
	rec.mu.Lock()
	rec.onEnd = nil
	rec.mu.Unlock()
	done, err = s.Start(context.Background(), 0)
	require.NoError(t, err)
	waitDone(t, done)
}

func TestSchedulerEmpty(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{Store: storage.NewMemoryStore(), Listener: rec})
	require.NoError(t, err)
	done, err := s.Start(context.Background(), 0)
	require.NoError(t, err)
	waitDone(t, done)
	assert.Equal(t, 1, rec.complete)

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestDocumentListener(t *testing.T) {
	store, paths := fixture(4, 1)
	doc := page.NewDocument(paths, store)
	rec := &recorder{}
	s, err := New(Config{Store: store, Paths: paths, Workers: 2, Listener: DocumentListener(doc, rec)})
	require.NoError(t, err)

	done, err := s.Start(context.Background(), 0)
	require.NoError(t, err)
	waitDone(t, done)

	assert.Equal(t, []int{0, 2, 3}, doc.Active())
	require.Error(t, doc.Failed(1))
	_, err = doc.Page(1)
	require.ErrorIs(t, err, page.ErrPageNotLoaded)
	assert.Len(t, rec.order, 4)

	// A duplicate delivery keeps the existing page.
	p, _ := doc.Page(0)
	again, created := doc.SetLoaded(0, imaging.New(8, 8, color.White))
	assert.False(t, created)
	assert.Same(t, p, again)
}
