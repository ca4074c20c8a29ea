package inference

import (
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// ImportanceMode selects the per-voxel weighting applied when a window's
// scores are blended into the accumulation buffer.
type ImportanceMode int

const (
	// ImportanceUniform weights every window voxel equally.
	ImportanceUniform ImportanceMode = iota
	// ImportanceGaussian peaks at the window center and decays toward the
	// edges, which suppresses seam artifacts where windows meet.
	ImportanceGaussian
)

func (m ImportanceMode) String() string {
	switch m {
	case ImportanceUniform:
		return "uniform"
	case ImportanceGaussian:
		return "gaussian"
	default:
		return "unknown"
	}
}

// ParseImportanceMode maps a config string to a mode.
func ParseImportanceMode(s string) (ImportanceMode, error) {
	switch s {
	case "", "uniform":
		return ImportanceUniform, nil
	case "gaussian":
		return ImportanceGaussian, nil
	default:
		return 0, errdefs.Configurationf("unknown importance mode %q", s)
	}
}

// gaussianSigmaScale is the fraction of the window extent used as the
// standard deviation of the center-peaked profile.
const gaussianSigmaScale = 0.125

// minImportance keeps far-corner weights positive so normalization stays
// well conditioned.
const minImportance = 1e-6

// ImportanceMap returns one weight per window voxel in row-major order,
// with the peak normalized to 1.
func ImportanceMap(mode ImportanceMode, roi []int) ([]float32, error) {
	if len(roi) < 2 || len(roi) > 3 {
		return nil, errdefs.Configurationf("importance map needs 2 or 3 spatial dims, got %v", roi)
	}
	total := 1
	for _, n := range roi {
		if n < 1 {
			return nil, errdefs.Configurationf("roi %v must be positive on every axis", roi)
		}
		total *= n
	}

	switch mode {
	case ImportanceUniform:
		out := make([]float32, total)
		for i := range out {
			out[i] = 1
		}
		return out, nil

	case ImportanceGaussian:
		profiles := make([][]float32, len(roi))
		for a, n := range roi {
			center := float64(n-1) / 2
			dist := distuv.Normal{Mu: center, Sigma: gaussianSigmaScale * float64(n)}
			peak := dist.Prob(center)
			p := make([]float32, n)
			for i := range p {
				p[i] = float32(dist.Prob(float64(i)) / peak)
			}
			profiles[a] = p
		}

		out := make([]float32, total)
		strides := make([]int, len(roi))
		stride := 1
		for a := len(roi) - 1; a >= 0; a-- {
			strides[a] = stride
			stride *= roi[a]
		}
		for idx := range out {
			rem := idx
			w := float32(1)
			for a := range roi {
				c := rem / strides[a]
				rem %= strides[a]
				w *= profiles[a][c]
			}
			if w < minImportance {
				w = minImportance
			}
			out[idx] = w
		}
		return out, nil

	default:
		return nil, errdefs.Configurationf("unknown importance mode %d", mode)
	}
}
