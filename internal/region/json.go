package region

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/retouch/internal/utils"
)

// shape kinds on the wire.
const (
	kindBox     = "box"
	kindPolygon = "polygon"
	kindStroke  = "stroke"
)

type pointJSON [2]float64

type regionJSON struct {
	ID         uuid.UUID   `json:"id"`
	Page       int         `json:"page"`
	Origin     Origin      `json:"origin"`
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Color      string      `json:"color"`
	Deleted    bool        `json:"deleted,omitempty"`
	Expansion  float64     `json:"expansion,omitempty"`
	Kind       string      `json:"kind"`
	Box        *Box        `json:"box,omitempty"`
	Points     []pointJSON `json:"points,omitempty"`
	Width      float64     `json:"width,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Region) MarshalJSON() ([]byte, error) {
	out := regionJSON{
		ID:         r.ID,
		Page:       r.Page,
		Origin:     r.Origin,
		Class:      r.Class,
		Confidence: r.Confidence,
		Color:      utils.HexColor(r.Color),
		Deleted:    r.Deleted,
		Expansion:  r.Expansion,
	}
	switch s := r.Shape.(type) {
	case Box:
		out.Kind = kindBox
		out.Box = &s
	case Polygon:
		out.Kind = kindPolygon
		out.Points = toPointJSON(s.Points)
	case Stroke:
		out.Kind = kindStroke
		out.Points = toPointJSON(s.Points)
		out.Width = s.Width
	default:
		return nil, fmt.Errorf("region %s: unsupported shape %T", r.ID, r.Shape)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Region) UnmarshalJSON(data []byte) error {
	var in regionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	col, err := utils.ParseHexColor(in.Color)
	if err != nil {
		return fmt.Errorf("region %s: %w", in.ID, err)
	}
	var shape Shape
	switch in.Kind {
	case kindBox:
		if in.Box == nil {
			return fmt.Errorf("region %s: box shape without box", in.ID)
		}
		shape = *in.Box
	case kindPolygon:
		if len(in.Points) < 3 {
			return fmt.Errorf("region %s: polygon needs at least 3 points, got %d", in.ID, len(in.Points))
		}
		shape = Polygon{Points: fromPointJSON(in.Points)}
	case kindStroke:
		if len(in.Points) == 0 {
			return fmt.Errorf("region %s: empty stroke", in.ID)
		}
		shape = Stroke{Points: fromPointJSON(in.Points), Width: in.Width}
	default:
		return fmt.Errorf("region %s: unknown shape kind %q", in.ID, in.Kind)
	}
	*r = Region{
		ID:         in.ID,
		Page:       in.Page,
		Origin:     in.Origin,
		Class:      in.Class,
		Confidence: in.Confidence,
		Color:      col,
		Deleted:    in.Deleted,
		Expansion:  in.Expansion,
		Shape:      shape,
	}
	return nil
}

// MarshalRegions encodes a region list for session round-tripping.
func MarshalRegions(regions []*Region) ([]byte, error) {
	if regions == nil {
		regions = []*Region{}
	}
	return json.MarshalIndent(regions, "", "  ")
}

// UnmarshalRegions decodes a list written by MarshalRegions. Duplicate ids are rejected.
func UnmarshalRegions(data []byte) ([]*Region, error) {
	var regions []*Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	seen := make(map[uuid.UUID]struct{}, len(regions))
	for _, r := range regions {
		if r == nil {
			return nil, errors.New("decode regions: null entry")
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("decode regions: duplicate id %s", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return regions, nil
}

func toPointJSON(pts []utils.Point) []pointJSON {
	out := make([]pointJSON, len(pts))
	for i, p := range pts {
		out[i] = pointJSON{p.X, p.Y}
	}
	return out
}

func fromPointJSON(pts []pointJSON) []utils.Point {
	out := make([]utils.Point, len(pts))
	for i, p := range pts {
		out[i] = utils.Point{X: p[0], Y: p[1]}
	}
	return out
}
