package server

import (
	"errors"
	"image"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/retouch/internal/pipeline"
)

// startBatchHandler starts a detect, segment or restore batch. It answers
// 202 right away, or 200 with the result when the request asks to wait.
func (s *Server) startBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	kind, err := pipeline.ParseKind(req.Op)
	if err != nil {
		batchRequestsTotal.WithLabelValues(req.Op, "invalid").Inc()
		s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	indices := req.Pages
	if len(indices) == 0 {
		indices = s.doc.Active()
	}
	params := s.paramsFor(req)

	run, err := s.controller.Start(kind, indices, params)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrConcurrencyViolation):
			batchRequestsTotal.WithLabelValues(kind.String(), "busy").Inc()
			s.writeErrorResponse(w, "batch_running", err.Error(), http.StatusConflict)
		case errors.Is(err, pipeline.ErrClosed):
			s.writeErrorResponse(w, "unavailable", err.Error(), http.StatusServiceUnavailable)
		default:
			batchRequestsTotal.WithLabelValues(kind.String(), "invalid").Inc()
			s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		}
		return
	}
	batchRequestsTotal.WithLabelValues(kind.String(), "accepted").Inc()
	slog.Info("Batch accepted", "kind", kind.String(), "pages", len(indices), "remote_addr", r.RemoteAddr)

	if !req.Wait {
		s.writeJSON(w, http.StatusAccepted, BatchResponse{Kind: kind.String(), Pages: run.Indices(), Total: len(indices)})
		return
	}
	res, err := run.Wait(r.Context())
	if err != nil {
		// The client went away; the batch keeps running.
		return
	}
	s.writeJSON(w, http.StatusOK, batchResponse(run, res))
}

// currentBatchHandler reports the active batch, or 204 when idle.
func (s *Server) currentBatchHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.controller.Current(); !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// cancelBatchHandler requests cancellation of the running batch.
func (s *Server) cancelBatchHandler(w http.ResponseWriter, r *http.Request) {
	cancelled := s.controller.Cancel()
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) paramsFor(req BatchRequest) pipeline.Params {
	params := s.defaults
	if req.ConfFloor != nil {
		params.ConfFloor = *req.ConfFloor
	}
	if req.ExpansionPx != nil {
		params.ExpansionPx = *req.ExpansionPx
	}
	if req.ROI != nil {
		params.ROI = image.Rect(req.ROI.X, req.ROI.Y, req.ROI.X+req.ROI.W, req.ROI.Y+req.ROI.H)
	}
	return params
}

func batchResponse(run *pipeline.Run, res pipeline.Result) BatchResponse {
	return BatchResponse{
		Kind:      res.Kind.String(),
		Pages:     run.Indices(),
		Total:     res.Total,
		Outcome:   res.Outcome.String(),
		Processed: res.Processed,
		Errors:    pageErrorInfos(res.Errors),
	}
}

func pageErrorInfos(errs []pipeline.PageError) []PageErrorInfo {
	if len(errs) == 0 {
		return nil
	}
	out := make([]PageErrorInfo, len(errs))
	for i, e := range errs {
		out[i] = PageErrorInfo{Page: e.Page, Error: e.Err.Error()}
	}
	return out
}
