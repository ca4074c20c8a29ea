package training

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// GradScaler implements dynamic loss scaling for reduced-precision training.
// The loss gradient is multiplied by the current scale before backpropagation
// so small gradients survive the half-precision rounding; parameter gradients
// are divided back down before the optimizer step. Steps that produce
// non-finite gradients are skipped and the scale is lowered.
type GradScaler struct {
	enabled        bool
	scale          float32
	growthFactor   float32
	backoffFactor  float32
	growthInterval int
	goodSteps      int
}

// NewGradScaler returns a scaler with the usual dynamic-scaling schedule.
// A disabled scaler passes gradients through untouched, so callers can keep
// a single code path for full and mixed precision.
func NewGradScaler(enabled bool) *GradScaler {
	return &GradScaler{
		enabled:        enabled,
		scale:          65536,
		growthFactor:   2,
		backoffFactor:  0.5,
		growthInterval: 2000,
	}
}

func (s *GradScaler) Enabled() bool { return s.enabled }

// CurrentScale reports the active loss scale. It stays at its initial value
// while the scaler is disabled.
func (s *GradScaler) CurrentScale() float32 { return s.scale }

// Scale multiplies a loss gradient by the current scale in place.
func (s *GradScaler) Scale(grad *tensor.Volume) {
	if !s.enabled {
		return
	}
	tensor.Scale(grad, s.scale)
}

// Unscale divides every parameter gradient by the current scale and reports
// whether any gradient came out NaN or infinite. Callers must skip the
// optimizer step when it returns true.
func (s *GradScaler) Unscale(params []*tensor.Parameter) bool {
	inv := float32(1)
	if s.enabled {
		inv = 1 / s.scale
	}
	found := false
	for _, p := range params {
		for i, g := range p.Grad {
			g *= inv
			p.Grad[i] = g
			if math32.IsNaN(g) || math32.IsInf(g, 0) {
				found = true
			}
		}
	}
	return found
}

// Update adjusts the scale after a step: halve it when the step overflowed,
// double it after growthInterval consecutive clean steps. The scale never
// drops below 1.
func (s *GradScaler) Update(foundNonFinite bool) {
	if !s.enabled {
		return
	}
	if foundNonFinite {
		s.scale *= s.backoffFactor
		if s.scale < 1 {
			s.scale = 1
		}
		s.goodSteps = 0
		return
	}
	s.goodSteps++
	if s.goodSteps >= s.growthInterval {
		s.scale *= s.growthFactor
		s.goodSteps = 0
	}
}

// ClipGradNorm rescales all parameter gradients so their global L2 norm does
// not exceed maxNorm. It returns the norm measured before clipping. A
// maxNorm of zero or less disables clipping.
func ClipGradNorm(params []*tensor.Parameter, maxNorm float32) float32 {
	var sq float64
	for _, p := range params {
		for _, g := range p.Grad {
			sq += float64(g) * float64(g)
		}
	}
	norm := float32(math.Sqrt(sq))
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	ratio := maxNorm / (norm + 1e-6)
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= ratio
		}
	}
	return norm
}
