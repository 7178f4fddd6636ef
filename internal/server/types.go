// Package server exposes a document and its batch controller over HTTP:
// batch start/cancel, page inspection, the class table, live progress over
// a websocket and Prometheus metrics.
package server

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	controller  *pipeline.Controller
	doc         *page.Document
	classes     *classes.Config
	hub         *Hub
	defaults    pipeline.Params
	modelsDir   string
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
}

// Config holds server configuration. The hub should be the one installed
// as (part of) the controller's status sink.
type Config struct {
	Controller *pipeline.Controller
	Document   *page.Document
	Classes    *classes.Config
	Hub        *Hub

	// Defaults fills ConfFloor and ExpansionPx of batch requests that omit them.
	Defaults    pipeline.Params
	ModelsDir   string
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int

	// RequestsPerMinute enables per-client rate limiting when > 0.
	RequestsPerMinute int
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Time       string            `json:"time"`
	Controller pipeline.Snapshot `json:"controller"`
	Pages      int               `json:"pages"`
	Loaded     int               `json:"loaded"`
}

// ModelInfo describes one model file.
type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// ModelsResponse is returned by /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// PageInfo summarizes one page.
type PageInfo struct {
	Index    int    `json:"index"`
	Path     string `json:"path"`
	Loaded   bool   `json:"loaded"`
	Status   string `json:"status,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Regions  int    `json:"regions"`
	HasMask  bool   `json:"has_mask"`
	Versions int    `json:"versions,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PagesResponse is returned by /pages.
type PagesResponse struct {
	Pages []PageInfo `json:"pages"`
	Count int        `json:"count"`
}

// ROI is a rectangle in page pixels.
type ROI struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// BatchRequest starts a batch. Empty Pages means every loaded page.
type BatchRequest struct {
	Op          string   `json:"op"`
	Pages       []int    `json:"pages,omitempty"`
	ROI         *ROI     `json:"roi,omitempty"`
	ConfFloor   *float64 `json:"conf_floor,omitempty"`
	ExpansionPx *float64 `json:"expansion_px,omitempty"`
	// Wait blocks the request until the batch finishes.
	Wait bool `json:"wait,omitempty"`
}

// PageErrorInfo is the wire form of a pipeline.PageError.
type PageErrorInfo struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
}

// BatchResponse reports a started or finished batch.
type BatchResponse struct {
	Kind      string          `json:"kind"`
	Pages     []int           `json:"pages"`
	Total     int             `json:"total"`
	Outcome   string          `json:"outcome,omitempty"`
	Processed int             `json:"processed,omitempty"`
	Errors    []PageErrorInfo `json:"errors,omitempty"`
}

// ClassInfo is the wire form of a class setting.
type ClassInfo struct {
	Name      string  `json:"name"`
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Color     string  `json:"color"`
}

// ClassUpdate changes one class. Nil fields are left alone.
type ClassUpdate struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Color     string   `json:"color,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewServer creates a server over an existing controller and document.
func NewServer(config Config) (*Server, error) {
	if config.Controller == nil {
		return nil, errors.New("server needs a controller")
	}
	if config.Document == nil {
		return nil, errors.New("server needs a document")
	}
	if config.Classes == nil {
		config.Classes = classes.NewConfig()
	}
	if config.Hub == nil {
		config.Hub = NewHub(nil)
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	s := &Server{
		controller:  config.Controller,
		doc:         config.Document,
		classes:     config.Classes,
		hub:         config.Hub,
		defaults:    config.Defaults,
		modelsDir:   config.ModelsDir,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
	if config.RequestsPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, max(1, config.RequestsPerMinute/6))
	}
	return s, nil
}

// Hub returns the progress hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close cancels any running batch. The controller itself belongs to the
// caller.
func (s *Server) Close() error {
	s.controller.Cancel()
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.corsMiddleware(endpoint, h))
	}
	route("GET /health", "/health", s.healthHandler)
	route("GET /models", "/models", s.modelsHandler)
	route("GET /pages", "/pages", s.pagesHandler)
	route("GET /pages/{index}", "/pages/{index}", s.pageHandler)
	route("GET /pages/{index}/mask", "/pages/{index}/mask", s.maskHandler)
	route("GET /pages/{index}/overlay", "/pages/{index}/overlay", s.overlayHandler)
	route("POST /pages/{index}/save", "/pages/{index}/save", s.rateLimitMiddleware(s.saveHandler))
	route("POST /pages/{index}/reset", "/pages/{index}/reset", s.rateLimitMiddleware(s.resetHandler))
	route("POST /pages/{index}/undo", "/pages/{index}/undo", s.rateLimitMiddleware(s.undoHandler))
	route("GET /classes", "/classes", s.classesHandler)
	route("PUT /classes/{name}", "/classes/{name}", s.rateLimitMiddleware(s.updateClassHandler))
	route("POST /batches", "/batches", s.rateLimitMiddleware(s.startBatchHandler))
	route("GET /batches/current", "/batches/current", s.currentBatchHandler)
	route("POST /batches/cancel", "/batches/cancel", s.cancelBatchHandler)
	route("OPTIONS /", "options", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /ws/progress", s.progressWebSocketHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
}
