package inference

import (
	"fmt"
	"math/bits"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// FlipSet lists the geometric transforms a TTA pass averages over. Each
// member names the spatial axes to flip; the empty member is the identity.
type FlipSet [][]int

// FullFlipSet enumerates every flip combination for the given spatial rank:
// identity, single axes, axis pairs, up to the all-axes flip. 2^rank members
// in subset-size order.
func FullFlipSet(rank int) FlipSet {
	set := make(FlipSet, 0, 1<<rank)
	for size := 0; size <= rank; size++ {
		for mask := 0; mask < 1<<rank; mask++ {
			if bits.OnesCount(uint(mask)) != size {
				continue
			}
			var axes []int
			for a := 0; a < rank; a++ {
				if mask&(1<<a) != 0 {
					axes = append(axes, a)
				}
			}
			set = append(set, axes)
		}
	}
	return set
}

// Validate checks every member against the spatial rank and rejects
// duplicate members, which would silently bias the ensemble mean.
func (f FlipSet) Validate(rank int) error {
	if len(f) == 0 {
		return errdefs.Configurationf("tta transform set is empty")
	}
	seen := make(map[int]bool, len(f))
	for _, axes := range f {
		mask := 0
		for _, a := range axes {
			if a < 0 || a >= rank {
				return errdefs.Configurationf("tta flip axis %d out of range for %d spatial dims", a, rank)
			}
			if mask&(1<<a) != 0 {
				return errdefs.Configurationf("tta member %v repeats axis %d", axes, a)
			}
			mask |= 1 << a
		}
		if seen[mask] {
			return errdefs.Configurationf("tta member %v duplicates an earlier transform", axes)
		}
		seen[mask] = true
	}
	return nil
}

// Ensembler wraps a predictor with flip-based test-time augmentation. Each
// member transform is applied to the input, the prediction is converted to
// class probabilities, the transform is undone (flips are self-inverse),
// and the probabilities are averaged over the set.
type Ensembler struct {
	base  Predictor
	flips FlipSet
}

// NewEnsembler builds an ensembler over base. The transform set is
// validated against the input rank at prediction time.
func NewEnsembler(base Predictor, flips FlipSet) (*Ensembler, error) {
	if base == nil {
		return nil, errdefs.Configurationf("tta ensembler needs a predictor")
	}
	if len(flips) == 0 {
		return nil, errdefs.Configurationf("tta transform set is empty")
	}
	return &Ensembler{base: base, flips: flips}, nil
}

// Probabilities returns the ensemble-averaged class-probability map.
// Any member failure aborts the whole pass: a partial ensemble would
// silently bias the mean.
func (e *Ensembler) Probabilities(vol *tensor.Volume) (*tensor.Volume, error) {
	if err := e.flips.Validate(vol.SpatialRank()); err != nil {
		return nil, err
	}

	var acc *tensor.Volume
	for _, axes := range e.flips {
		flipped, err := vol.Flip(axes...)
		if err != nil {
			return nil, fmt.Errorf("tta flip %v: %w", axes, err)
		}
		scores, err := e.base.Predict(flipped)
		if err != nil {
			return nil, fmt.Errorf("predictor call under tta flip %v: %w", axes, err)
		}
		restored, err := tensor.SoftmaxClasses(scores).Flip(axes...)
		if err != nil {
			return nil, fmt.Errorf("tta flip %v: %w", axes, err)
		}
		if acc == nil {
			acc = restored
			continue
		}
		if err := tensor.AddScaled(acc, restored, 1); err != nil {
			return nil, fmt.Errorf("tta ensemble under flip %v: %w", axes, err)
		}
	}
	tensor.Scale(acc, 1/float32(len(e.flips)))
	return acc, nil
}

// Predict returns the arg-max class per voxel of the ensemble mean.
func (e *Ensembler) Predict(vol *tensor.Volume) (*tensor.LabelVolume, error) {
	probs, err := e.Probabilities(vol)
	if err != nil {
		return nil, err
	}
	return tensor.ArgmaxClasses(probs), nil
}
