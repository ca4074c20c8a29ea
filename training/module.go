// Package training drives the train/validate/checkpoint cycle: the epoch
// loop with mixed-precision scaling, the validation pass over the sliding
// inferer, learning-rate schedules, and the metric sinks that record a run.
package training

import (
	"math"
	"math/rand"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Module is the capability boundary between the orchestration loop and a
// model: the loop forwards volumes, pushes score gradients back, and hands
// the parameter list to an optimizer. Nothing else about the architecture
// is visible.
type Module interface {
	// Forward maps an input volume [channels, spatial...] to class scores
	// [classes, spatial...].
	Forward(input *tensor.Volume) (*tensor.Volume, error)
	// Backward accumulates parameter gradients from the score gradient of
	// the most recent training-mode Forward call.
	Backward(gradScores *tensor.Volume) error
	Parameters() []*tensor.Parameter
	Train()
	Eval()
	IsTraining() bool
}

// VoxelClassifier is the reference model: an independent linear softmax
// classifier at every voxel, mapping input channels to class scores.
type VoxelClassifier struct {
	weight *tensor.Parameter // [numClasses, inChannels], row-major
	bias   *tensor.Parameter // [numClasses]

	inChannels int
	numClasses int
	training   bool
	lastInput  *tensor.Volume
}

// NewVoxelClassifier creates a classifier with Xavier-initialized weights.
// The same seed always produces the same initialization.
func NewVoxelClassifier(inChannels, numClasses int, seed int64) (*VoxelClassifier, error) {
	if inChannels <= 0 {
		return nil, errdefs.Configurationf("input channels must be positive: %d", inChannels)
	}
	if numClasses < 2 {
		return nil, errdefs.Configurationf("need at least 2 classes, got %d", numClasses)
	}

	weight, err := tensor.NewParameter("classifier.weight", []int{numClasses, inChannels})
	if err != nil {
		return nil, err
	}
	bias, err := tensor.NewParameter("classifier.bias", []int{numClasses})
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	bound := math.Sqrt(6.0 / float64(inChannels+numClasses))
	for i := range weight.Data {
		weight.Data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}

	return &VoxelClassifier{
		weight:     weight,
		bias:       bias,
		inChannels: inChannels,
		numClasses: numClasses,
		training:   true,
	}, nil
}

// Forward computes per-voxel class scores. In training mode the input is
// retained for the following Backward call.
func (m *VoxelClassifier) Forward(input *tensor.Volume) (*tensor.Volume, error) {
	if input.Channels() != m.inChannels {
		return nil, errdefs.ShapeMismatchf("input has %d channels, classifier expects %d", input.Channels(), m.inChannels)
	}

	voxels := input.VoxelCount()
	scores, err := tensor.Zeros(append([]int{m.numClasses}, input.Spatial()...))
	if err != nil {
		return nil, err
	}

	for c := 0; c < m.numClasses; c++ {
		out := scores.Data[c*voxels : (c+1)*voxels]
		b := m.bias.Data[c]
		for i := range out {
			out[i] = b
		}
		for ch := 0; ch < m.inChannels; ch++ {
			w := m.weight.Data[c*m.inChannels+ch]
			in := input.Data[ch*voxels : (ch+1)*voxels]
			for i, x := range in {
				out[i] += w * x
			}
		}
	}

	// Only training mode touches shared state. Eval leaves the classifier
	// read-only so the sliding inferer may call Forward from several
	// goroutines at once.
	if m.training {
		m.lastInput = input
	}
	return scores, nil
}

// Backward accumulates weight and bias gradients from the score gradient.
// Gradients add up across calls until ZeroGrad, so minibatch accumulation
// is a sequence of Backward calls.
func (m *VoxelClassifier) Backward(gradScores *tensor.Volume) error {
	if m.lastInput == nil {
		return errdefs.Configurationf("backward requires a preceding training-mode forward pass")
	}
	if gradScores.Channels() != m.numClasses {
		return errdefs.ShapeMismatchf("score gradient has %d channels, classifier produces %d", gradScores.Channels(), m.numClasses)
	}
	voxels := m.lastInput.VoxelCount()
	if gradScores.VoxelCount() != voxels {
		return errdefs.ShapeMismatchf("score gradient covers %d voxels, forward input had %d", gradScores.VoxelCount(), voxels)
	}

	for c := 0; c < m.numClasses; c++ {
		g := gradScores.Data[c*voxels : (c+1)*voxels]
		var gSum float32
		for _, v := range g {
			gSum += v
		}
		m.bias.Grad[c] += gSum
		for ch := 0; ch < m.inChannels; ch++ {
			in := m.lastInput.Data[ch*voxels : (ch+1)*voxels]
			var acc float32
			for i, v := range g {
				acc += v * in[i]
			}
			m.weight.Grad[c*m.inChannels+ch] += acc
		}
	}
	return nil
}

// Parameters returns the trainable parameters.
func (m *VoxelClassifier) Parameters() []*tensor.Parameter {
	return []*tensor.Parameter{m.weight, m.bias}
}

// Train sets the module to training mode.
func (m *VoxelClassifier) Train() {
	m.training = true
}

// Eval sets the module to evaluation mode.
func (m *VoxelClassifier) Eval() {
	m.training = false
	m.lastInput = nil
}

// IsTraining returns true if in training mode.
func (m *VoxelClassifier) IsTraining() bool {
	return m.training
}
