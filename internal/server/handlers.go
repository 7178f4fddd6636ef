package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/models"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
	"github.com/MeKo-Tech/retouch/internal/storage"
	"github.com/MeKo-Tech/retouch/internal/utils"
	"github.com/MeKo-Tech/retouch/internal/version"
)

// healthHandler returns server health and the controller snapshot.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:     "healthy",
		Version:    version.Version,
		Time:       time.Now().UTC().Format(time.RFC3339),
		Controller: s.controller.Snapshot(),
		Pages:      s.doc.Len(),
		Loaded:     len(s.doc.Active()),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// modelsHandler lists the model files and whether they are present.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	list := models.ListAvailableModels()
	out := make([]ModelInfo, 0, len(list))
	for _, m := range list {
		path := models.ResolveModelPath(s.modelsDir, m.Type, m.Filename)
		out = append(out, ModelInfo{
			Name:        m.Name,
			Path:        path,
			Type:        m.Type,
			Description: m.Description,
			Available:   models.ValidateModelExists(path) == nil,
		})
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{Models: out, Count: len(out)})
}

// pagesHandler lists every page of the document.
func (s *Server) pagesHandler(w http.ResponseWriter, r *http.Request) {
	n := s.doc.Len()
	paths := s.doc.Paths()
	infos := make([]PageInfo, n)
	err := s.onController(r.Context(), func() {
		for i := range n {
			infos[i] = s.pageInfo(i, paths[i])
		}
	})
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PagesResponse{Pages: infos, Count: n})
}

// pageHandler describes one page.
func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.pageIndex(w, r)
	if !ok {
		return
	}
	var info PageInfo
	path := s.doc.Paths()[idx]
	if err := s.onController(r.Context(), func() { info = s.pageInfo(idx, path) }); err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// pageInfo must run on the controller goroutine.
func (s *Server) pageInfo(idx int, path string) PageInfo {
	info := PageInfo{Index: idx, Path: path}
	p, err := s.doc.Page(idx)
	if err != nil {
		if lerr := s.doc.Failed(idx); lerr != nil {
			info.Error = lerr.Error()
		}
		return info
	}
	_, hasMask := p.CombinedMask()
	info.Loaded = true
	info.Status = p.Status().String()
	info.Width = p.Width()
	info.Height = p.Height()
	info.Regions = len(p.LiveRegions())
	info.HasMask = hasMask
	for slot := page.SlotBackup; slot <= page.SlotLatest; slot++ {
		if !p.Versions().Empty(slot) {
			info.Versions++
		}
	}
	return info
}

// maskHandler returns the combined mask of a page as a grayscale PNG.
func (s *Server) maskHandler(w http.ResponseWriter, r *http.Request) {
	s.pageImage(w, r, func(p *page.Page) (image.Image, bool) {
		m, ok := p.CombinedMask()
		if !ok {
			return nil, false
		}
		return m.ToGray(), true
	})
}

// overlayHandler renders the page with visible regions outlined.
func (s *Server) overlayHandler(w http.ResponseWriter, r *http.Request) {
	s.pageImage(w, r, func(p *page.Page) (image.Image, bool) {
		return p.RenderOverlay(s.classes.Visible, nil), true
	})
}

func (s *Server) pageImage(w http.ResponseWriter, r *http.Request, render func(*page.Page) (image.Image, bool)) {
	idx, ok := s.pageIndex(w, r)
	if !ok {
		return
	}
	var (
		img   image.Image
		found bool
		pgErr error
	)
	err := s.onController(r.Context(), func() {
		p, err := s.doc.Page(idx)
		if err != nil {
			pgErr = err
			return
		}
		img, found = render(p)
	})
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	if pgErr != nil {
		s.writeErrorResponse(w, "page_not_loaded", pgErr.Error(), http.StatusNotFound)
		return
	}
	if !found {
		s.writeErrorResponse(w, "empty_mask", fmt.Sprintf("page %d has no mask", idx), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		slog.Error("Failed to encode page image", "page", idx, "error", err)
	}
}

// saveHandler writes the current bitmap of a page through the store.
func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.pageIndex(w, r)
	if !ok {
		return
	}
	var (
		path    string
		saveErr error
	)
	if !s.mutate(w, r, func() {
		path, saveErr = s.doc.Save(r.Context(), idx)
	}) {
		return
	}
	if saveErr != nil {
		s.writePageError(w, saveErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page": idx, "path": path})
}

// resetHandler resets a page to its last saved bitmap, or to the store's
// original with ?to=original.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.pageIndex(w, r)
	if !ok {
		return
	}
	toOriginal := r.URL.Query().Get("to") == "original"
	var resetErr error
	if !s.mutate(w, r, func() {
		if toOriginal {
			resetErr = s.doc.ResetToOriginal(r.Context(), idx)
			return
		}
		p, err := s.doc.Page(idx)
		if err != nil {
			resetErr = err
			return
		}
		p.ResetToLastSaved()
	}) {
		return
	}
	if resetErr != nil {
		s.writePageError(w, resetErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page": idx, "reset": true})
}

// undoHandler steps a page back one restoration.
func (s *Server) undoHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.pageIndex(w, r)
	if !ok {
		return
	}
	var (
		undone bool
		pgErr  error
	)
	if !s.mutate(w, r, func() {
		p, err := s.doc.Page(idx)
		if err != nil {
			pgErr = err
			return
		}
		undone = p.UndoRestoration()
	}) {
		return
	}
	if pgErr != nil {
		s.writePageError(w, pgErr)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page": idx, "undone": undone})
}

// classesHandler returns the class table.
func (s *Server) classesHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.classes.Snapshot()
	out := make([]ClassInfo, 0, len(snap))
	for _, name := range s.classes.Names() {
		st := snap[name]
		out = append(out, ClassInfo{Name: name, Enabled: st.Enabled, Threshold: st.Threshold, Color: utils.HexColor(st.Color)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// updateClassHandler changes one class. Existing regions keep their data;
// the change applies to the next normalization and to visibility.
func (s *Server) updateClassHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := classes.Lookup(r.PathValue("name"))
	if !ok {
		s.writeErrorResponse(w, "unknown_class", fmt.Sprintf("unknown class %q", r.PathValue("name")), http.StatusNotFound)
		return
	}
	var upd ClassUpdate
	if !s.decodeJSON(w, r, &upd) {
		return
	}
	st, ok := s.classes.Get(name)
	if !ok {
		s.writeErrorResponse(w, "unknown_class", fmt.Sprintf("unknown class %q", name), http.StatusNotFound)
		return
	}
	if upd.Enabled != nil {
		st.Enabled = *upd.Enabled
	}
	if upd.Threshold != nil {
		st.Threshold = *upd.Threshold
	}
	if upd.Color != "" {
		col, err := utils.ParseHexColor(upd.Color)
		if err != nil {
			s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		st.Color = col
	}
	if err := s.classes.Set(name, st); err != nil {
		s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, ClassInfo{Name: name, Enabled: st.Enabled, Threshold: st.Threshold, Color: utils.HexColor(st.Color)})
}

// onController runs fn on the controller goroutine and waits for it.
func (s *Server) onController(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
	defer cancel()
	done := make(chan struct{})
	if err := s.controller.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate runs a page edit on the controller goroutine. Edits are refused
// with 409 while a batch is active; the check runs on the controller
// goroutine so no batch step can interleave with fn.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func()) bool {
	running := false
	err := s.onController(r.Context(), func() {
		if s.controller.State() != pipeline.StateIdle {
			running = true
			return
		}
		fn()
	})
	if err != nil {
		s.writeControllerError(w, err)
		return false
	}
	if running {
		s.writeErrorResponse(w, "batch_running", "page edits are disabled while a batch is running", http.StatusConflict)
		return false
	}
	return true
}

func (s *Server) pageIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= s.doc.Len() {
		s.writeErrorResponse(w, "invalid_page", fmt.Sprintf("invalid page index %q", r.PathValue("index")), http.StatusNotFound)
		return 0, false
	}
	return idx, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeErrorResponse(w, "invalid_request", fmt.Sprintf("failed to parse request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, code, message string, status int) {
	s.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func (s *Server) writePageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, page.ErrPageNotLoaded), errors.Is(err, storage.ErrNotFound):
		s.writeErrorResponse(w, "not_found", err.Error(), http.StatusNotFound)
	default:
		s.writeErrorResponse(w, "internal_error", err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, "timeout", "controller did not respond in time", http.StatusGatewayTimeout)
		return
	}
	s.writeErrorResponse(w, "unavailable", err.Error(), http.StatusServiceUnavailable)
}
