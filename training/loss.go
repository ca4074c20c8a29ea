package training

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Loss computes a scalar objective and its gradient with respect to the raw
// class scores.
type Loss interface {
	Compute(scores *tensor.Volume, truth *tensor.LabelVolume) (float64, *tensor.Volume, error)
	Name() string
}

// logFloor keeps log arguments away from zero.
const logFloor = 1e-10

func checkLossShapes(scores *tensor.Volume, truth *tensor.LabelVolume) error {
	if scores.Channels() < 2 {
		return errdefs.ShapeMismatchf("scores have %d channels, need at least 2 classes", scores.Channels())
	}
	if scores.VoxelCount() != truth.VoxelCount() {
		return errdefs.ShapeMismatchf("scores cover %d voxels, labels cover %d", scores.VoxelCount(), truth.VoxelCount())
	}
	return nil
}

// CrossEntropyLoss is per-voxel softmax cross entropy, averaged over voxels.
type CrossEntropyLoss struct{}

func (CrossEntropyLoss) Name() string { return "cross_entropy" }

func (CrossEntropyLoss) Compute(scores *tensor.Volume, truth *tensor.LabelVolume) (float64, *tensor.Volume, error) {
	if err := checkLossShapes(scores, truth); err != nil {
		return 0, nil, err
	}
	classes := scores.Channels()
	voxels := scores.VoxelCount()
	probs := tensor.SoftmaxClasses(scores)

	// Gradient is (softmax - onehot) / voxels.
	grad := probs.Clone()
	var total float64
	for v, cls := range truth.Data {
		if cls < 0 || int(cls) >= classes {
			return 0, nil, errdefs.ShapeMismatchf("label %d out of range [0, %d)", cls, classes)
		}
		p := probs.Data[int(cls)*voxels+v]
		if p < logFloor {
			p = logFloor
		}
		total -= math.Log(float64(p))
		grad.Data[int(cls)*voxels+v] -= 1
	}
	tensor.Scale(grad, 1/float32(voxels))
	return total / float64(voxels), grad, nil
}

// DiceLoss is the soft Dice loss over softmax probabilities, averaged over
// all classes.
type DiceLoss struct {
	Smooth float32
}

func NewDiceLoss() *DiceLoss {
	return &DiceLoss{Smooth: 1e-5}
}

func (d *DiceLoss) Name() string { return "dice" }

func (d *DiceLoss) Compute(scores *tensor.Volume, truth *tensor.LabelVolume) (float64, *tensor.Volume, error) {
	if err := checkLossShapes(scores, truth); err != nil {
		return 0, nil, err
	}
	classes := scores.Channels()
	voxels := scores.VoxelCount()
	probs := tensor.SoftmaxClasses(scores)

	num := make([]float32, classes)  // sum of p*y per class
	pSum := make([]float32, classes) // sum of p per class
	ySum := make([]float32, classes) // truth voxel count per class
	for v, cls := range truth.Data {
		if cls < 0 || int(cls) >= classes {
			return 0, nil, errdefs.ShapeMismatchf("label %d out of range [0, %d)", cls, classes)
		}
		ySum[cls]++
		num[cls] += probs.Data[int(cls)*voxels+v]
	}
	for c := 0; c < classes; c++ {
		var sum float32
		for _, p := range probs.Data[c*voxels : (c+1)*voxels] {
			sum += p
		}
		pSum[c] = sum
	}

	// Loss first, then the gradient with respect to the probabilities:
	//   dice_c       = (2*num_c + s) / (pSum_c + ySum_c + s)
	//   d dice_c/dp  = (2*y - dice_c) / den_c
	gradProbs, err := tensor.Zeros(append([]int{classes}, scores.Spatial()...))
	if err != nil {
		return 0, nil, err
	}
	var lossSum float64
	invClasses := 1 / float32(classes)
	coefY := make([]float32, classes)
	for c := 0; c < classes; c++ {
		den := pSum[c] + ySum[c] + d.Smooth
		dice := (2*num[c] + d.Smooth) / den
		lossSum += float64(1 - dice)

		// Background term applies to every voxel; the truth-indicator term
		// is subtracted below in a single pass over the labels.
		base := dice / den * invClasses
		coefY[c] = 2 / den * invClasses
		gp := gradProbs.Data[c*voxels : (c+1)*voxels]
		for v := range gp {
			gp[v] = base
		}
	}
	for v, cls := range truth.Data {
		gradProbs.Data[int(cls)*voxels+v] -= coefY[cls]
	}

	grad := chainThroughSoftmax(probs, gradProbs)
	return lossSum / float64(classes), grad, nil
}

// chainThroughSoftmax maps a gradient with respect to softmax probabilities
// to a gradient with respect to the underlying scores:
//
//	dL/ds_j = p_j * (dL/dp_j - sum_c dL/dp_c * p_c)
func chainThroughSoftmax(probs, gradProbs *tensor.Volume) *tensor.Volume {
	classes := probs.Channels()
	voxels := probs.VoxelCount()
	grad := probs.Clone()
	for v := 0; v < voxels; v++ {
		var dot float32
		for c := 0; c < classes; c++ {
			idx := c*voxels + v
			dot += gradProbs.Data[idx] * probs.Data[idx]
		}
		for c := 0; c < classes; c++ {
			idx := c*voxels + v
			grad.Data[idx] = probs.Data[idx] * (gradProbs.Data[idx] - dot)
		}
	}
	return grad
}

// FocalLoss down-weights well-classified voxels so the objective is
// dominated by the hard ones.
type FocalLoss struct {
	Gamma float32
}

func NewFocalLoss() *FocalLoss {
	return &FocalLoss{Gamma: 2}
}

func (f *FocalLoss) Name() string { return "focal" }

func (f *FocalLoss) Compute(scores *tensor.Volume, truth *tensor.LabelVolume) (float64, *tensor.Volume, error) {
	if err := checkLossShapes(scores, truth); err != nil {
		return 0, nil, err
	}
	classes := scores.Channels()
	voxels := scores.VoxelCount()
	probs := tensor.SoftmaxClasses(scores)

	grad, err := tensor.Zeros(append([]int{classes}, scores.Spatial()...))
	if err != nil {
		return 0, nil, err
	}
	scale := 1 / float32(voxels)
	var total float64
	for v, cls := range truth.Data {
		if cls < 0 || int(cls) >= classes {
			return 0, nil, errdefs.ShapeMismatchf("label %d out of range [0, %d)", cls, classes)
		}
		pt := probs.Data[int(cls)*voxels+v]
		if pt < logFloor {
			pt = logFloor
		}
		focus := math32.Pow(1-pt, f.Gamma)
		logPt := math32.Log(pt)
		total -= float64(focus * logPt)

		// dL/dpt = gamma*(1-pt)^(gamma-1)*log(pt) - (1-pt)^gamma/pt,
		// chained through dpt/ds_j = pt*(1{j==t} - p_j).
		var dFocus float32
		if f.Gamma > 0 {
			dFocus = f.Gamma * math32.Pow(1-pt, f.Gamma-1)
		}
		dLdpt := dFocus*logPt - focus/pt
		coef := dLdpt * pt * scale
		for c := 0; c < classes; c++ {
			idx := c*voxels + v
			indicator := float32(0)
			if int32(c) == cls {
				indicator = 1
			}
			grad.Data[idx] += coef * (indicator - probs.Data[idx])
		}
	}
	return total / float64(voxels), grad, nil
}

// CombinedLoss is the weighted sum of Dice and cross-entropy terms used as
// the default segmentation objective.
type CombinedLoss struct {
	DiceWeight         float32
	CrossEntropyWeight float32

	dice *DiceLoss
	ce   CrossEntropyLoss
}

func NewCombinedLoss() *CombinedLoss {
	return &CombinedLoss{
		DiceWeight:         0.7,
		CrossEntropyWeight: 0.3,
		dice:               NewDiceLoss(),
	}
}

func (l *CombinedLoss) Name() string { return "dice_ce" }

func (l *CombinedLoss) Compute(scores *tensor.Volume, truth *tensor.LabelVolume) (float64, *tensor.Volume, error) {
	dLoss, dGrad, err := l.dice.Compute(scores, truth)
	if err != nil {
		return 0, nil, err
	}
	cLoss, cGrad, err := l.ce.Compute(scores, truth)
	if err != nil {
		return 0, nil, err
	}

	loss := float64(l.DiceWeight)*dLoss + float64(l.CrossEntropyWeight)*cLoss
	tensor.Scale(dGrad, l.DiceWeight)
	if err := tensor.AddScaled(dGrad, cGrad, l.CrossEntropyWeight); err != nil {
		return 0, nil, err
	}
	return loss, dGrad, nil
}
