package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/config"
	"github.com/MeKo-Tech/retouch/internal/loader"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
	"github.com/MeKo-Tech/retouch/internal/storage"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

var runBindings = []flagBinding{
	{"output-dir", "output.dir"},
	{"overlay-dir", "output.overlay_dir"},
	{"conf-floor", "pipeline.conf_floor"},
	{"expansion", "pipeline.expansion_px"},
	{"workers", "loader.workers"},
	{"neighbor-radius", "loader.neighbor_radius"},
	{"inpainter", "inpainter.backend"},
	{"det-model", "detector.model_path"},
	{"seg-model", "segmenter.model_path"},
	{"inpaint-model", "inpainter.model_path"},
	{"gpu", "gpu.enabled"},
	{"gpu-device", "gpu.device"},
	{"class-preset", "classes.preset_file"},
}

// runCmd processes a folder of pages without a host.
var runCmd = &cobra.Command{
	Use:   "run <dir|image>...",
	Short: "Run detect, segment and restore batches over page images",
	Long: `Load pages from folders or files, run the requested batch operations in
order over every loaded page and save the restored pages.

Operations:
  detect   propose boxes with the detector model
  segment  propose polygons with the segmentation model
  restore  inpaint the combined mask of every page

Examples:
  retouch run ./chapter01 --ops detect,restore --output-dir ./clean
  retouch run page1.png page2.png --ops segment --overlay-dir ./overlays`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, runBindings)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		opsFlag, _ := cmd.Flags().GetString("ops")
		kinds, err := parseOps(opsFlag)
		if err != nil {
			return err
		}
		noSave, _ := cmd.Flags().GetBool("no-save")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var progress io.Writer = cmd.ErrOrStderr()
		if quiet {
			progress = io.Discard
		}
		return runPages(ctx, cfg, args, kinds, runOptions{
			save:     !noSave,
			out:      cmd.OutOrStdout(),
			progress: progress,
		})
	},
}

type runOptions struct {
	save     bool
	out      io.Writer
	progress io.Writer
	// services replaces model construction when set.
	services *pipeline.Services
}

func runPages(ctx context.Context, cfg *config.Config, args []string, kinds []pipeline.Kind, opts runOptions) error {
	paths, err := collectPages(args)
	if err != nil {
		return err
	}
	table, err := cfg.ToClassConfig()
	if err != nil {
		return err
	}

	var svc pipeline.Services
	if opts.services != nil {
		svc = *opts.services
	} else {
		s, cleanup, err := buildServices(cfg, kinds, true)
		if err != nil {
			return err
		}
		defer cleanup()
		svc = s
	}

	store := storage.NewFileStore(cfg.Output.Dir)
	doc := page.NewDocument(paths, store)
	loaded, failed, err := loadDocument(ctx, doc, loader.Config{
		Store:          store,
		Paths:          paths,
		Workers:        cfg.Loader.Workers,
		NeighborRadius: cfg.Loader.NeighborRadius,
	})
	if err != nil {
		return err
	}
	slog.Info("Document loaded", "pages", len(paths), "loaded", loaded, "failed", failed)
	if loaded == 0 {
		return fmt.Errorf("none of %d pages could be loaded", len(paths))
	}

	sink := pipeline.NewMultiSink(
		pipeline.NewThrottledSink(pipeline.NewConsoleSink(opts.progress), cfg.ProgressInterval()),
		pipeline.NewLogSink(slog.Default(), slog.LevelDebug).WithInterval(10),
	)
	ctrl, err := pipeline.New(pipeline.Config{
		Document: doc,
		Services: svc,
		Classes:  table,
		Sink:     sink,
	})
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	params := cfg.ToParams()
	for _, kind := range kinds {
		res, err := runBatch(ctx, ctrl, kind, doc.Active(), params)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(opts.out, "%s: %s, %d/%d pages processed, %d errors\n",
			res.Kind, res.Outcome, res.Processed, res.Total, len(res.Errors))
		for _, e := range res.Errors {
			_, _ = fmt.Fprintf(opts.out, "  %v\n", e)
		}
		if res.Outcome == pipeline.OutcomeCancelled {
			return fmt.Errorf("%s batch cancelled", kind)
		}
	}

	if cfg.Output.OverlayDir != "" {
		if err := writeOverlays(ctrl, doc, table, cfg.Output.OverlayDir); err != nil {
			return err
		}
	}
	if opts.save {
		return savePages(ctx, ctrl, doc, opts.out)
	}
	return nil
}

// runBatch starts one batch and waits for it. An interrupt cancels the
// batch; the cancelled result is still returned.
func runBatch(ctx context.Context, ctrl *pipeline.Controller, kind pipeline.Kind, indices []int,
	params pipeline.Params,
) (pipeline.Result, error) {
	run, err := ctrl.Start(kind, indices, params)
	if err != nil {
		return pipeline.Result{}, err
	}
	res, err := run.Wait(ctx)
	if err != nil {
		ctrl.Cancel()
		return run.Wait(context.Background())
	}
	return res, nil
}

// savePages writes every page that changed since it was loaded.
func savePages(ctx context.Context, ctrl *pipeline.Controller, doc *page.Document, out io.Writer) error {
	var errs []string
	err := onController(ctrl, func() {
		for _, idx := range doc.Active() {
			p, err := doc.Page(idx)
			if err != nil || p.Status() == page.StatusSaved {
				continue
			}
			path, err := doc.Save(ctx, idx)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			_, _ = fmt.Fprintf(out, "saved %s\n", path)
		}
	})
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to save %d pages: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// writeOverlays renders each page with its visible regions outlined.
func writeOverlays(ctrl *pipeline.Controller, doc *page.Document, table *classes.Config, dir string) error {
	var firstErr error
	err := onController(ctrl, func() {
		for _, idx := range doc.Active() {
			p, err := doc.Page(idx)
			if err != nil {
				continue
			}
			base := strings.TrimSuffix(filepath.Base(p.Path), filepath.Ext(p.Path))
			dst := filepath.Join(dir, base+"_overlay.png")
			if err := utils.SaveImagePNG(dst, p.RenderOverlay(table.Visible, nil)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	if err != nil {
		return err
	}
	return firstErr
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("ops", "detect,restore", "comma-separated operations: detect, segment, restore")
	runCmd.Flags().StringP("output-dir", "o", "", "directory for restored pages (default: next to the source)")
	runCmd.Flags().String("overlay-dir", "", "directory to write overlay images with region outlines")
	runCmd.Flags().Bool("no-save", false, "do not write restored pages")
	runCmd.Flags().BoolP("quiet", "q", false, "hide the progress bar")
	runCmd.Flags().Float64("conf-floor", 0.25, "minimum detector confidence")
	runCmd.Flags().Float64("expansion", 2, "region expansion in pixels")
	runCmd.Flags().Int("workers", 4, "page loading workers")
	runCmd.Flags().Int("neighbor-radius", 3, "pages around the first page loaded first")
	runCmd.Flags().String("inpainter", "diffusion", "inpainter backend: onnx or diffusion")
	runCmd.Flags().String("det-model", "", "override detection model path")
	runCmd.Flags().String("seg-model", "", "override segmentation model path")
	runCmd.Flags().String("inpaint-model", "", "override inpainting model path")
	runCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	runCmd.Flags().Int("gpu-device", 0, "CUDA device ID")
	runCmd.Flags().String("class-preset", "", "YAML class preset file")
}
