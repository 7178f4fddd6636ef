package detector

import (
	"cmp"
	"slices"

	"github.com/MeKo-Tech/retouch/internal/utils"
)

// IoU returns the intersection over union of two boxes.
func IoU(a, b utils.Box) float64 {
	inter := a.Intersect(b).Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NonMaxSuppression keeps the most confident detection of every group of
// same-label detections overlapping by more than iouThreshold. The result is
// ordered by descending confidence.
func NonMaxSuppression(dets []RawDetection, iouThreshold float64) []RawDetection {
	if len(dets) <= 1 {
		return append([]RawDetection(nil), dets...)
	}
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(dets[b].Confidence, dets[a].Confidence)
	})

	suppressed := make([]bool, len(dets))
	kept := make([]RawDetection, 0, len(dets))
	for ai, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])
		for _, b := range order[ai+1:] {
			if suppressed[b] || dets[a].Label != dets[b].Label {
				continue
			}
			if IoU(dets[a].Box, dets[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
