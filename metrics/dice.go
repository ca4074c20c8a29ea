// Package metrics accumulates segmentation quality statistics across an
// evaluation pass.
package metrics

import (
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// DiceConfig controls which classes enter the overlap statistic.
type DiceConfig struct {
	NumClasses int
	// IncludeBackground counts class 0. Off by convention: background
	// dominates scan volumes and would mask foreground quality.
	IncludeBackground bool
}

// DiceMetric accumulates per-sample mean Dice scores across an evaluation
// pass, holding only a running sum and count.
type DiceMetric struct {
	cfg   DiceConfig
	sum   float64
	count int
}

func NewDiceMetric(cfg DiceConfig) (*DiceMetric, error) {
	if cfg.NumClasses < 2 {
		return nil, errdefs.Configurationf("dice metric needs at least 2 classes, got %d", cfg.NumClasses)
	}
	return &DiceMetric{cfg: cfg}, nil
}

// DiceScores computes the per-class Dice overlap 2|A∩B| / (|A|+|B|) between
// a discrete prediction and ground truth. A class absent from both volumes
// scores 1: perfect agreement on absence rather than 0/0. A class present
// in the truth but missed entirely by the prediction scores 0. The returned
// slice has one entry per counted class, background first when included.
func DiceScores(pred, truth *tensor.LabelVolume, cfg DiceConfig) ([]float64, error) {
	if cfg.NumClasses < 2 {
		return nil, errdefs.Configurationf("dice metric needs at least 2 classes, got %d", cfg.NumClasses)
	}
	if len(pred.Shape) != len(truth.Shape) {
		return nil, errdefs.ShapeMismatchf("prediction rank %d vs ground truth rank %d", len(pred.Shape), len(truth.Shape))
	}
	for a := range pred.Shape {
		if pred.Shape[a] != truth.Shape[a] {
			return nil, errdefs.ShapeMismatchf("prediction shape %v vs ground truth shape %v", pred.Shape, truth.Shape)
		}
	}

	n := int32(cfg.NumClasses)
	inter := make([]int, cfg.NumClasses)
	predN := make([]int, cfg.NumClasses)
	truthN := make([]int, cfg.NumClasses)
	for i := range pred.Data {
		p, t := pred.Data[i], truth.Data[i]
		if p < 0 || p >= n {
			return nil, errdefs.ShapeMismatchf("prediction label %d outside [0,%d)", p, n)
		}
		if t < 0 || t >= n {
			return nil, errdefs.ShapeMismatchf("ground truth label %d outside [0,%d)", t, n)
		}
		predN[p]++
		truthN[t]++
		if p == t {
			inter[p]++
		}
	}

	start := 1
	if cfg.IncludeBackground {
		start = 0
	}
	scores := make([]float64, 0, cfg.NumClasses-start)
	for c := start; c < cfg.NumClasses; c++ {
		if predN[c] == 0 && truthN[c] == 0 {
			scores = append(scores, 1)
			continue
		}
		scores = append(scores, 2*float64(inter[c])/float64(predN[c]+truthN[c]))
	}
	return scores, nil
}

// Update folds one sample into the running mean and returns that sample's
// mean Dice over the counted classes.
func (m *DiceMetric) Update(pred, truth *tensor.LabelVolume) (float64, error) {
	scores, err := DiceScores(pred, truth, m.cfg)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	sample := sum / float64(len(scores))
	m.sum += sample
	m.count++
	return sample, nil
}

// Aggregate reduces the pass to a single scalar, the mean over samples.
func (m *DiceMetric) Aggregate() (float64, error) {
	if m.count == 0 {
		return 0, errdefs.Configurationf("dice aggregate requested before any samples were recorded")
	}
	return m.sum / float64(m.count), nil
}

// Count reports how many samples the pass has folded in.
func (m *DiceMetric) Count() int {
	return m.count
}

// Reset clears the accumulator for the next evaluation pass.
func (m *DiceMetric) Reset() {
	m.sum = 0
	m.count = 0
}
