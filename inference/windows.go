// Package inference reconstructs full-volume predictions from models with a
// fixed spatial input size. It plans overlapping window tilings, blends
// per-window class scores into a seam-free whole, and ensembles flip-based
// test-time augmentation around any predictor.
package inference

import (
	"math"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// Window is an axis-aligned sub-region of a volume's spatial grid. Size is
// the model's spatial input extent on every window of a plan.
type Window struct {
	Origin []int
	Size   []int
}

// PlanWindows computes the ordered window tiling of a spatial extent. The
// stride per axis is round(roi*(1-overlap)), clamped to at least 1; origins
// step from 0 and a final window is flushed against the far boundary, so
// the union of windows covers every voxel at least once. roi must not
// exceed the extent on any axis; callers pad the volume first when it does.
func PlanWindows(spatial, roi []int, overlap float64) ([]Window, error) {
	if len(roi) != len(spatial) {
		return nil, errdefs.Configurationf("roi %v does not match %d spatial dims", roi, len(spatial))
	}
	if overlap < 0 || overlap >= 1 {
		return nil, errdefs.Configurationf("overlap %v out of range [0,1)", overlap)
	}
	for a := range roi {
		if roi[a] < 1 {
			return nil, errdefs.Configurationf("roi %v must be positive on every axis", roi)
		}
		if roi[a] > spatial[a] {
			return nil, errdefs.Configurationf("roi %v exceeds volume extent %v on axis %d", roi, spatial, a)
		}
	}

	perAxis := make([][]int, len(spatial))
	total := 1
	for a := range spatial {
		stride := int(math.Round(float64(roi[a]) * (1 - overlap)))
		if stride < 1 {
			stride = 1
		}
		perAxis[a] = axisOrigins(spatial[a], roi[a], stride)
		total *= len(perAxis[a])
	}

	windows := make([]Window, 0, total)
	idx := make([]int, len(spatial))
	for {
		origin := make([]int, len(spatial))
		for a := range origin {
			origin[a] = perAxis[a][idx[a]]
		}
		windows = append(windows, Window{Origin: origin, Size: append([]int(nil), roi...)})

		a := len(idx) - 1
		for ; a >= 0; a-- {
			idx[a]++
			if idx[a] < len(perAxis[a]) {
				break
			}
			idx[a] = 0
		}
		if a < 0 {
			break
		}
	}
	return windows, nil
}

// axisOrigins steps by stride until the window reaches the end of the axis,
// then flushes a final origin against the boundary. Kept origins always
// satisfy origin+roi < extent, so the flushed origin never duplicates one.
func axisOrigins(extent, roi, stride int) []int {
	var out []int
	for o := 0; ; o += stride {
		if o+roi >= extent {
			out = append(out, extent-roi)
			break
		}
		out = append(out, o)
	}
	return out
}
