package detector

import "github.com/MeKo-Tech/retouch/internal/utils"

// Clockwise Moore neighbourhood: E, SE, S, SW, W, NW, N, NE.
var (
	mooreDX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	mooreDY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

// traceContour extracts the outer boundary of one labelled component with
// Moore-neighbour tracing. Points are pixel indices; collinear runs are
// collapsed to their end points.
func traceContour(labels []int, w, h int, c component) []utils.Point {
	if c.label <= 0 || len(labels) != w*h {
		return nil
	}
	is := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && labels[y*w+x] == c.label
	}

	// The first pixel in raster order is on the boundary and its west
	// neighbour is background.
	sx, sy := -1, -1
	for y := c.minY; y <= c.maxY && sx < 0; y++ {
		for x := c.minX; x <= c.maxX; x++ {
			if is(x, y) {
				sx, sy = x, y
				break
			}
		}
	}
	if sx < 0 {
		return nil
	}

	var pts []utils.Point
	add := func(x, y int) {
		p := utils.Point{X: float64(x), Y: float64(y)}
		n := len(pts)
		if n > 0 && pts[n-1] == p {
			return
		}
		if n >= 2 {
			a, b := pts[n-2], pts[n-1]
			if (b.X-a.X)*(p.Y-b.Y)-(b.Y-a.Y)*(p.X-b.X) == 0 {
				pts = pts[:n-1]
			}
		}
		pts = append(pts, p)
	}
	add(sx, sy)

	// Stop on re-entering the start pixel with the same first move (Jacob's criterion).
	cx, cy := sx, sy
	bx, by := sx-1, sy
	fx, fy := -1, -1
	for steps := 0; steps < 4*w*h+8; steps++ {
		start := (direction(bx-cx, by-cy) + 1) % 8
		nx, ny := -1, -1
		for k := range 8 {
			i := (start + k) % 8
			tx, ty := cx+mooreDX[i], cy+mooreDY[i]
			if is(tx, ty) {
				nx, ny = tx, ty
				break
			}
			bx, by = tx, ty
		}
		if nx < 0 {
			break
		}
		if steps == 0 {
			fx, fy = nx, ny
		} else if cx == sx && cy == sy && nx == fx && ny == fy {
			break
		}
		cx, cy = nx, ny
		add(cx, cy)
	}
	return utils.DedupePoints(pts)
}

func direction(dx, dy int) int {
	for i := range 8 {
		if mooreDX[i] == dx && mooreDY[i] == dy {
			return i
		}
	}
	return 0
}
