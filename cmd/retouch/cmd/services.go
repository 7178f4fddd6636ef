package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/retouch/internal/config"
	"github.com/MeKo-Tech/retouch/internal/detector"
	"github.com/MeKo-Tech/retouch/internal/inpaint"
	"github.com/MeKo-Tech/retouch/internal/pipeline"
)

// flagBinding maps a command flag to a viper key.
type flagBinding struct {
	flag string
	key  string
}

// bindFlags binds the flags of the command being run. Binding happens at
// run time because several commands share viper keys.
func bindFlags(cmd *cobra.Command, bindings []flagBinding) error {
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", b.flag, err)
		}
	}
	return nil
}

// buildServices opens the models needed for kinds. With required set, a
// service that cannot be opened is an error; otherwise the kind is left
// disabled and a warning is logged.
func buildServices(cfg *config.Config, kinds []pipeline.Kind, required bool) (pipeline.Services, func(), error) {
	var (
		svc     pipeline.Services
		closers []io.Closer
	)
	cleanup := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("Failed to close model", "error", err)
			}
		}
	}
	fail := func(kind pipeline.Kind, err error) error {
		if required {
			return fmt.Errorf("%s: %w", kind, err)
		}
		slog.Warn("Operation disabled", "kind", kind.String(), "error", err)
		return nil
	}

	for _, kind := range kinds {
		switch kind {
		case pipeline.KindDetect:
			if svc.Detector != nil {
				continue
			}
			d, err := detector.NewONNXDetector(cfg.ToDetectorConfig())
			if err != nil {
				if err := fail(kind, err); err != nil {
					cleanup()
					return svc, nil, err
				}
				continue
			}
			svc.Detector = d
			closers = append(closers, d)
		case pipeline.KindSegment:
			if svc.Segmenter != nil {
				continue
			}
			s, err := detector.NewONNXSegmenter(cfg.ToSegmenterConfig())
			if err != nil {
				if err := fail(kind, err); err != nil {
					cleanup()
					return svc, nil, err
				}
				continue
			}
			svc.Segmenter = s
			closers = append(closers, s)
		case pipeline.KindRestore:
			if svc.Inpainter != nil {
				continue
			}
			p, closer, err := buildInpainter(cfg)
			if err != nil {
				if err := fail(kind, err); err != nil {
					cleanup()
					return svc, nil, err
				}
				continue
			}
			svc.Inpainter = p
			if closer != nil {
				closers = append(closers, closer)
			}
		}
	}
	return svc, cleanup, nil
}

func buildInpainter(cfg *config.Config) (inpaint.Inpainter, io.Closer, error) {
	switch cfg.Inpainter.Backend {
	case config.BackendONNX:
		p, err := inpaint.NewONNXInpainter(cfg.ToInpainterConfig())
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case config.BackendDiffusion, "":
		return cfg.ToDiffusion(), nil, nil
	default:
		return nil, nil, errors.New("unknown inpainter backend " + cfg.Inpainter.Backend)
	}
}

var allKinds = []pipeline.Kind{pipeline.KindDetect, pipeline.KindSegment, pipeline.KindRestore}
