package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/retouch/internal/loader"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
	"github.com/MeKo-Tech/retouch/internal/server"
	"github.com/MeKo-Tech/retouch/internal/storage"
)

var serveBindings = []flagBinding{
	{"host", "server.host"},
	{"port", "server.port"},
	{"cors-origin", "server.cors_origin"},
	{"max-upload-size", "server.max_upload_mb"},
	{"timeout", "server.timeout_sec"},
	{"shutdown-timeout", "server.shutdown_timeout"},
	{"output-dir", "output.dir"},
	{"inpainter", "inpainter.backend"},
	{"workers", "loader.workers"},
	{"neighbor-radius", "loader.neighbor_radius"},
	{"gpu", "gpu.enabled"},
	{"class-preset", "classes.preset_file"},
}

// serveCmd hosts a document over HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve <dir|image>...",
	Short: "Start HTTP server for a page folder",
	Long: `Load a page folder in the background and serve it over HTTP.

The server provides the following endpoints:
  POST /batches              - Start a detect, segment or restore batch
  GET  /batches/current      - Report the running batch
  POST /batches/cancel       - Cancel the running batch
  GET  /pages[/{index}]      - Inspect pages
  GET  /pages/{index}/mask   - Combined mask as PNG
  GET  /classes              - Class table
  GET  /ws/progress          - Live progress (websocket)
  GET  /health, /models, /metrics

Examples:
  retouch serve ./chapter01
  retouch serve ./chapter01 --host 0.0.0.0 --port 3000`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, serveBindings)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		rpm, _ := cmd.Flags().GetInt("requests-per-minute")

		paths, err := collectPages(args)
		if err != nil {
			return err
		}
		table, err := cfg.ToClassConfig()
		if err != nil {
			return err
		}
		svc, cleanup, err := buildServices(cfg, allKinds, false)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := storage.NewFileStore(cfg.Output.Dir)
		doc := page.NewDocument(paths, store)
		hub := server.NewHub(slog.Default())
		ctrl, err := pipeline.New(pipeline.Config{
			Document: doc,
			Services: svc,
			Classes:  table,
			Sink: pipeline.NewMultiSink(
				pipeline.NewThrottledSink(hub, cfg.ProgressInterval()),
				pipeline.NewLogSink(slog.Default(), slog.LevelInfo).WithInterval(10),
			),
		})
		if err != nil {
			return err
		}
		defer func() { _ = ctrl.Close() }()

		sched, err := loader.New(loader.Config{
			Store:          store,
			Paths:          paths,
			Workers:        cfg.Loader.Workers,
			NeighborRadius: cfg.Loader.NeighborRadius,
			Listener:       loader.DocumentListener(doc, nil),
		})
		if err != nil {
			return err
		}
		if _, err := sched.Start(ctx, 0); err != nil {
			return err
		}
		defer sched.Cancel()

		srv, err := server.NewServer(server.Config{
			Controller:        ctrl,
			Document:          doc,
			Classes:           table,
			Hub:               hub,
			Defaults:          cfg.ToParams(),
			ModelsDir:         cfg.ModelsDir,
			CORSOrigin:        cfg.Server.CORSOrigin,
			MaxUploadMB:       int64(cfg.Server.MaxUploadMB),
			TimeoutSec:        cfg.Server.TimeoutSec,
			RequestsPerMinute: rpm,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		host, port := cfg.Server.Host, cfg.Server.Port
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.TimeoutSec) * time.Second,
		}

		go func() {
			slog.Info("Starting retouch server", "host", host, "port", port, "pages", len(paths))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum request body size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().StringP("output-dir", "o", "", "directory for saved pages (default: next to the source)")
	serveCmd.Flags().String("inpainter", "diffusion", "inpainter backend: onnx or diffusion")
	serveCmd.Flags().Int("workers", 4, "page loading workers")
	serveCmd.Flags().Int("neighbor-radius", 3, "pages around the first page loaded first")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	serveCmd.Flags().String("class-preset", "", "YAML class preset file")
	serveCmd.Flags().Int("requests-per-minute", 0, "per-client limit for mutating endpoints (0 disables)")
}
