package bitmap

// MorphologicalOp represents the type of morphological operation to perform.
type MorphologicalOp int

const (
	MorphNone MorphologicalOp = iota
	MorphDilate
	MorphErode
	MorphOpening // Erode then Dilate - removes small specks
	MorphClosing // Dilate then Erode - fills gaps
)

// Apply runs op on m with a square kernel and returns a new mask.
// The input is never modified.
func Apply(m *Mask, op MorphologicalOp, kernelSize, iterations int) *Mask {
	result := m.Clone()
	if op == MorphNone || kernelSize <= 1 || iterations <= 0 {
		return result
	}
	for range iterations {
		switch op {
		case MorphDilate:
			result = dilate(result, kernelSize)
		case MorphErode:
			result = erode(result, kernelSize)
		case MorphOpening:
			result = dilate(erode(result, kernelSize), kernelSize)
		case MorphClosing:
			result = erode(dilate(result, kernelSize), kernelSize)
		}
	}
	return result
}

// Dilate returns m dilated once with a kernelSize x kernelSize square.
func Dilate(m *Mask, kernelSize int) *Mask { return Apply(m, MorphDilate, kernelSize, 1) }

// Erode returns m eroded once with a kernelSize x kernelSize square.
func Erode(m *Mask, kernelSize int) *Mask { return Apply(m, MorphErode, kernelSize, 1) }

// Close returns the morphological closing of m.
func Close(m *Mask, kernelSize int) *Mask { return Apply(m, MorphClosing, kernelSize, 1) }

// dilate sets a pixel when any in-bounds neighbour inside the kernel is set.
func dilate(m *Mask, kernelSize int) *Mask {
	out := New(m.Width, m.Height)
	half := kernelSize / 2
	for y := range m.Height {
		for x := range m.Width {
			hit := false
			for ky := -half; ky <= half && !hit; ky++ {
				for kx := -half; kx <= half; kx++ {
					if m.At(x+kx, y+ky) {
						hit = true
						break
					}
				}
			}
			if hit {
				out.Pix[y*m.Width+x] = 1
			}
		}
	}
	return out
}

// erode keeps a pixel only when every in-bounds neighbour inside the kernel
// is set. Pixels outside the canvas are ignored so shapes touching the
// border are not eaten away.
func erode(m *Mask, kernelSize int) *Mask {
	out := New(m.Width, m.Height)
	half := kernelSize / 2
	for y := range m.Height {
		for x := range m.Width {
			if m.Pix[y*m.Width+x] == 0 {
				continue
			}
			keep := true
			for ky := -half; ky <= half && keep; ky++ {
				for kx := -half; kx <= half; kx++ {
					nx, ny := x+kx, y+ky
					if m.In(nx, ny) && m.Pix[ny*m.Width+nx] == 0 {
						keep = false
						break
					}
				}
			}
			if keep {
				out.Pix[y*m.Width+x] = 1
			}
		}
	}
	return out
}
