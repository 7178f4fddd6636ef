package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/retouch/internal/loader"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// collectPages expands directories into their supported images, sorted by
// name, and keeps explicit files in argument order.
func collectPages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !utils.IsSupportedImage(arg) {
				return nil, fmt.Errorf("unsupported image format: %s", arg)
			}
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && utils.IsSupportedImage(e.Name()) {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}
	return paths, nil
}

// parseOps parses a comma-separated operation list such as "detect,restore".
func parseOps(s string) ([]pipeline.Kind, error) {
	var kinds []pipeline.Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := pipeline.ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no operations given")
	}
	return kinds, nil
}

// loadDocument loads every page of doc with sched and blocks until the
// load ends. Failed pages stay out of the active set.
func loadDocument(ctx context.Context, doc *page.Document, cfg loader.Config) (loaded, failed int, err error) {
	ended := make(chan struct{})
	cfg.Listener = loader.DocumentListener(doc, loader.Funcs{
		PageLoaded: func(_ int, _ image.Image, err error) {
			if err != nil {
				failed++
				return
			}
			loaded++
		},
		Complete:  func() { close(ended) },
		Cancelled: func() { close(ended) },
	})
	sched, err := loader.New(cfg)
	if err != nil {
		return 0, 0, err
	}
	if _, err := sched.Start(ctx, 0); err != nil {
		return 0, 0, err
	}
	select {
	case <-ended:
	case <-ctx.Done():
		sched.Cancel()
		<-ended
		return loaded, failed, ctx.Err()
	}
	return loaded, failed, nil
}

// onController runs fn on the controller goroutine and waits for it.
func onController(ctrl *pipeline.Controller, fn func()) error {
	done := make(chan struct{})
	if err := ctrl.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	<-done
	return nil
}
