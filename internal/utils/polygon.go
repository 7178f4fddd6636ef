package utils

import "math"

// SimplifyPolygon reduces the number of points in a polygon using the
// Douglas-Peucker algorithm with the given tolerance epsilon.
// The polygon is treated as closed for simplification continuity.
func SimplifyPolygon(pts []Point, epsilon float64) []Point {
	if len(pts) <= 3 || epsilon <= 0 {
		return append([]Point(nil), pts...)
	}
	keep := make([]bool, len(pts))
	dpSimplify(pts, 0, len(pts)-1, epsilon, keep)
	keep[0] = true
	keep[len(pts)-1] = true
	out := make([]Point, 0, len(pts))
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

func dpSimplify(pts []Point, start, end int, eps float64, keep []bool) {
	if end <= start+1 {
		return
	}
	maxDist := -1.0
	index := -1
	a := pts[start]
	b := pts[end]
	for i := start + 1; i < end; i++ {
		d := perpendicularDistance(pts[i], a, b)
		if d > maxDist {
			maxDist = d
			index = i
		}
	}
	if maxDist > eps {
		dpSimplify(pts, start, index, eps, keep)
		keep[index] = true
		dpSimplify(pts, index, end, eps, keep)
	}
}

func perpendicularDistance(p, a, b Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	if vx == 0 && vy == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	num := math.Abs((p.X-a.X)*vy - (p.Y-a.Y)*vx)
	return num / math.Hypot(vx, vy)
}

// SegmentDistance returns the distance from p to the segment ab.
func SegmentDistance(p, a, b Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	l2 := vx*vx + vy*vy
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ClampFloat(((p.X-a.X)*vx+(p.Y-a.Y)*vy)/l2, 0, 1)
	return math.Hypot(p.X-(a.X+t*vx), p.Y-(a.Y+t*vy))
}

// PolygonArea returns the absolute area of a simple polygon (shoelace formula).
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var s float64
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(s) / 2
}

// Centroid returns the vertex average of the points.
func Centroid(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	return Point{X: cx / n, Y: cy / n}
}

// ExpandPolygon moves every vertex d pixels further away from the centroid.
// Vertices sitting on the centroid are left in place; negative d shrinks
// but never pushes a vertex past the centroid.
func ExpandPolygon(pts []Point, d float64) []Point {
	out := append([]Point(nil), pts...)
	if len(pts) == 0 || d == 0 {
		return out
	}
	c := Centroid(pts)
	for i, p := range pts {
		dx, dy := p.X-c.X, p.Y-c.Y
		dist := math.Hypot(dx, dy)
		if dist == 0 {
			continue
		}
		scale := math.Max(dist+d, 0) / dist
		out[i] = Point{X: c.X + dx*scale, Y: c.Y + dy*scale}
	}
	return out
}

// ClipPolygon clips a polygon against an axis-aligned box using
// Sutherland-Hodgman. The result may have fewer than three points.
func ClipPolygon(pts []Point, clip Box) []Point {
	out := append([]Point(nil), pts...)
	edges := []struct {
		inside func(Point) bool
		cross  func(a, b Point) Point
	}{
		{func(p Point) bool { return p.X >= clip.MinX }, func(a, b Point) Point { return intersectX(a, b, clip.MinX) }},
		{func(p Point) bool { return p.X <= clip.MaxX }, func(a, b Point) Point { return intersectX(a, b, clip.MaxX) }},
		{func(p Point) bool { return p.Y >= clip.MinY }, func(a, b Point) Point { return intersectY(a, b, clip.MinY) }},
		{func(p Point) bool { return p.Y <= clip.MaxY }, func(a, b Point) Point { return intersectY(a, b, clip.MaxY) }},
	}
	for _, e := range edges {
		if len(out) == 0 {
			break
		}
		in := out
		out = make([]Point, 0, len(in)+4)
		prev := in[len(in)-1]
		for _, cur := range in {
			switch {
			case e.inside(cur) && e.inside(prev):
				out = append(out, cur)
			case e.inside(cur):
				out = append(out, e.cross(prev, cur), cur)
			case e.inside(prev):
				out = append(out, e.cross(prev, cur))
			}
			prev = cur
		}
	}
	return DedupePoints(out)
}

func intersectX(a, b Point, x float64) Point {
	t := (x - a.X) / (b.X - a.X)
	return Point{X: x, Y: a.Y + t*(b.Y-a.Y)}
}

func intersectY(a, b Point, y float64) Point {
	t := (y - a.Y) / (b.Y - a.Y)
	return Point{X: a.X + t*(b.X-a.X), Y: y}
}

// DedupePoints removes consecutive duplicates, including a closing point
// equal to the first one.
func DedupePoints(pts []Point) []Point {
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) >= 2 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}
