package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/bitmap"
	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/detector"
	"github.com/MeKo-Tech/retouch/internal/inpaint"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
	"github.com/MeKo-Tech/retouch/internal/storage"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

type fixture struct {
	srv     *Server
	mux     *http.ServeMux
	ctrl    *pipeline.Controller
	doc     *page.Document
	classes *classes.Config
	release chan struct{}
	// blockRestore holds the inpainter until release is closed.
	blockRestore atomic.Bool
}

func newFixture(t *testing.T, blockDetect bool) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = fmt.Sprintf("page_%d.png", i)
		store.Put(paths[i], imaging.New(100, 100, color.White))
	}
	doc := page.NewDocument(paths, store)
	for i, p := range paths {
		img, err := store.Load(context.Background(), p)
		require.NoError(t, err)
		doc.SetLoaded(i, img)
	}

	f := &fixture{doc: doc, classes: classes.NewConfig(), release: make(chan struct{})}
	det := detector.DetectorFunc(func(ctx context.Context, img image.Image, floor float64) ([]detector.RawDetection, error) {
		if blockDetect {
			<-f.release
		}
		return []detector.RawDetection{{Label: "text", Confidence: 0.9, Box: utils.NewBox(10, 10, 60, 60)}}, nil
	})
	inp := inpaint.InpainterFunc(func(ctx context.Context, img image.Image, mask *bitmap.Mask) (image.Image, error) {
		if err := inpaint.CheckMask(img, mask); err != nil {
			return nil, err
		}
		if f.blockRestore.Load() {
			<-f.release
		}
		return imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.Black), nil
	})

	hub := NewHub(nil)
	ctrl, err := pipeline.New(pipeline.Config{
		Document: doc,
		Services: pipeline.Services{Detector: det, Inpainter: inp},
		Classes:  f.classes,
		Sink:     hub,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	srv, err := NewServer(Config{
		Controller: ctrl,
		Document:   doc,
		Classes:    f.classes,
		Hub:        hub,
		Defaults:   pipeline.Params{ConfFloor: 0.25},
		TimeoutSec: 5,
	})
	require.NoError(t, err)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	f.srv, f.mux, f.ctrl = srv, mux, ctrl
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServerRequiresController(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 3, h.Pages)
	assert.Equal(t, 3, h.Loaded)
	assert.Equal(t, "idle", h.Controller.State)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDetectBatchAndPageInspection(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/batches", `{"op":"detect","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[BatchResponse](t, rec)
	assert.Equal(t, "detect", res.Kind)
	assert.Equal(t, "completed", res.Outcome)
	assert.Equal(t, 3, res.Processed)
	assert.Empty(t, res.Errors)

	rec = f.do(t, http.MethodGet, "/pages/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[PageInfo](t, rec)
	assert.True(t, info.Loaded)
	assert.Equal(t, "modified", info.Status)
	assert.Equal(t, 1, info.Regions)
	assert.True(t, info.HasMask)

	rec = f.do(t, http.MethodGet, "/pages/0/mask", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
	m := bitmap.FromImage(img)
	assert.True(t, m.At(30, 30))
	assert.False(t, m.At(90, 90))

	rec = f.do(t, http.MethodGet, "/pages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decode[PagesResponse](t, rec)
	assert.Equal(t, 3, pages.Count)
}

func TestRestoreBatchThenUndo(t *testing.T) {
	f := newFixture(t, false)

	// no mask anywhere: every page fails on its own, the batch completes
	rec := f.do(t, http.MethodPost, "/batches", `{"op":"restore","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[BatchResponse](t, rec)
	assert.Equal(t, "completed", res.Outcome)
	assert.Len(t, res.Errors, 3)

	rec = f.do(t, http.MethodPost, "/batches", `{"op":"detect","pages":[1],"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/batches", `{"op":"inpaint","pages":[1],"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[BatchResponse](t, rec)
	assert.Empty(t, res.Errors)

	info := decode[PageInfo](t, f.do(t, http.MethodGet, "/pages/1", ""))
	assert.Equal(t, "unsaved", info.Status)

	rec = f.do(t, http.MethodPost, "/pages/1/undo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["undone"])

	rec = f.do(t, http.MethodPost, "/pages/1/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page_1.png", decode[map[string]any](t, rec)["path"])
}

func TestPageEditsRejectedWhileRestoring(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/batches", `{"op":"detect","pages":[0],"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	f.blockRestore.Store(true)
	rec = f.do(t, http.MethodPost, "/batches", `{"op":"restore","pages":[0]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	run, ok := f.ctrl.Current()
	require.True(t, ok)

	for _, path := range []string{"/pages/0/reset?to=original", "/pages/0/reset", "/pages/0/undo", "/pages/0/save"} {
		rec = f.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusConflict, rec.Code, path)
		assert.Equal(t, "batch_running", decode[ErrorResponse](t, rec).Error, path)
	}

	close(f.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	// the restoration landed untouched; reset is accepted again once idle
	info := decode[PageInfo](t, f.do(t, http.MethodGet, "/pages/0", ""))
	assert.Equal(t, "unsaved", info.Status)
	rec = f.do(t, http.MethodPost, "/pages/0/reset?to=original", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["reset"])
}

func TestStartBatchErrors(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/batches", `{"op":"upscale"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/batches", `{"op":"segment"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no segmenter configured")

	rec = f.do(t, http.MethodPost, "/batches", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Error)
}

func TestStartBatchWhileRunning(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/batches", `{"op":"detect"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 3, decode[BatchResponse](t, rec).Total)

	rec = f.do(t, http.MethodPost, "/batches", `{"op":"restore"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "batch_running", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/batches/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "detect", decode[pipeline.Snapshot](t, rec).Kind)

	rec = f.do(t, http.MethodPost, "/batches/cancel", "")
	assert.Equal(t, true, decode[map[string]bool](t, rec)["cancelled"])

	run, ok := f.ctrl.Current()
	require.True(t, ok)
	close(f.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeCancelled, res.Outcome)
	assert.Equal(t, 1, res.Processed)

	rec = f.do(t, http.MethodGet, "/batches/current", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPageErrors(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/pages/9", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/pages/x/mask", "").Code)

	rec := f.do(t, http.MethodGet, "/pages/2/mask", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "empty_mask", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/pages/2/undo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["undone"])
}

func TestClasses(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/classes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ClassInfo](t, rec), len(classes.All))

	rec = f.do(t, http.MethodPut, "/classes/Fon", `{"threshold":0.95,"color":"#00ff00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ci := decode[ClassInfo](t, rec)
	assert.Equal(t, classes.FonText, ci.Name)
	assert.InDelta(t, 0.95, ci.Threshold, 1e-9)
	assert.Equal(t, "#00ff00", ci.Color)
	assert.False(t, f.classes.Accepts(classes.FonText, 0.9))

	rec = f.do(t, http.MethodPut, "/classes/text", `{"threshold":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/classes/no_such_class", `{"enabled":false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_class", decode[ErrorResponse](t, rec).Error)
	st, ok := f.classes.Get(classes.Text)
	require.True(t, ok)
	assert.True(t, st.Enabled)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodGet, "/health", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "retouch_http_requests_total")
}

func TestWebSocketProgress(t *testing.T) {
	f := newFixture(t, false)
	ts := httptest.NewServer(f.mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	require.Eventually(t, func() bool { return f.srv.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := f.do(t, http.MethodPost, "/batches", `{"op":"detect","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []ProgressEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev ProgressEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Type == "finished" {
			break
		}
	}
	last := events[len(events)-1]
	assert.Equal(t, "detect", last.Kind)
	assert.Equal(t, "completed", last.Outcome)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "progress", events[0].Type)
	assert.Equal(t, 3, events[0].Total)
}

func TestRateLimitedEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.srv.rateLimiter = NewRateLimiter(60, 1)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/pages/0/undo", "").Code)
	rec := f.do(t, http.MethodPost, "/pages/0/undo", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
