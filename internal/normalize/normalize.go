// Package normalize turns raw detector and segmenter output into page regions.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/retouch/internal/classes"
	"github.com/MeKo-Tech/retouch/internal/detector"
	"github.com/MeKo-Tech/retouch/internal/page"
	"github.com/MeKo-Tech/retouch/internal/region"
	"github.com/MeKo-Tech/retouch/internal/utils"
)

// minArea is the smallest surviving region area in square pixels.
const minArea = 1.0

// DegenerateGeometryError reports a detection that collapsed after
// expansion and clipping. It is logged, never returned to callers.
type DegenerateGeometryError struct {
	Label string
	Area  float64
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("degenerate geometry for %q: area %.2f", e.Label, e.Area)
}

// Options describe one normalization run.
type Options struct {
	Origin      region.Origin
	ExpansionPx float64
	ROIOffset   utils.Point
}

// Normalizer maps raw detections onto canonical, filtered, clipped regions.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Regions converts raw detections into regions for a w x h canvas without
// touching any page.
func (n *Normalizer) Regions(raws []detector.RawDetection, cfg *classes.Config, pageIndex, w, h int, opts Options) []*region.Region {
	canvas := utils.CanvasBox(w, h)
	out := make([]*region.Region, 0, len(raws))
	for _, raw := range raws {
		class := classes.Canonical(raw.Label)
		if !cfg.Accepts(class, raw.Confidence) {
			n.logger.Debug("Detection filtered",
				"page", pageIndex, "label", raw.Label, "class", class, "confidence", raw.Confidence)
			continue
		}
		shape, err := normalizeGeometry(raw, canvas, opts)
		if err != nil {
			var dge *DegenerateGeometryError
			if errors.As(err, &dge) {
				n.logger.Debug("Detection discarded", "page", pageIndex, "error", err)
				continue
			}
			n.logger.Warn("Detection skipped", "page", pageIndex, "error", err)
			continue
		}
		r := region.New(pageIndex, opts.Origin, class, raw.Confidence, shape)
		r.Color = cfg.ColorFor(class, r.Color)
		r.Expansion = opts.ExpansionPx
		out = append(out, r)
	}
	return out
}

// Normalize converts raws into regions and installs them on p, replacing
// the previous regions of the same origin. The mask cache is invalidated.
func (n *Normalizer) Normalize(raws []detector.RawDetection, cfg *classes.Config, p *page.Page, opts Options) []*region.Region {
	regions := n.Regions(raws, cfg, p.Index, p.Width(), p.Height(), opts)
	p.ReplaceOrigin(opts.Origin, regions)
	n.logger.Debug("Normalized detections",
		"page", p.Index, "origin", opts.Origin.String(), "raw", len(raws), "kept", len(regions))
	return regions
}

func normalizeGeometry(raw detector.RawDetection, canvas utils.Box, opts Options) (region.Shape, error) {
	dx, dy := opts.ROIOffset.X, opts.ROIOffset.Y
	if raw.IsPolygon() {
		pts := utils.OffsetPoints(raw.Polygon, dx, dy)
		pts = utils.ExpandPolygon(pts, opts.ExpansionPx)
		pts = utils.ClipPolygon(pts, canvas)
		area := utils.PolygonArea(pts)
		if len(pts) < 3 || area < minArea {
			return nil, &DegenerateGeometryError{Label: raw.Label, Area: area}
		}
		return region.Polygon{Points: pts}, nil
	}
	if len(raw.Polygon) > 0 {
		return nil, fmt.Errorf("polygon for %q has %d points", raw.Label, len(raw.Polygon))
	}
	b := raw.Box.Offset(dx, dy).Expand(opts.ExpansionPx).Intersect(canvas)
	if b.Width() <= 0 || b.Height() <= 0 || b.Area() < minArea {
		return nil, &DegenerateGeometryError{Label: raw.Label, Area: b.Area()}
	}
	return region.BoxFrom(b), nil
}
