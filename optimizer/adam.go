package optimizer

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// AdamOptimizerState implements the Adam update rule with bias-corrected
// first and second moment estimates. Weight decay, when set, is classic
// L2 regularization folded into the gradient; see AdamWOptimizerState for
// the decoupled variant.
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Exponential decay rate for first moment estimates
	Beta2        float32 // Exponential decay rate for second moment estimates
	Epsilon      float32 // Small constant for numerical stability
	WeightDecay  float32 // L2 regularization coefficient

	// Moment buffers, one per parameter
	MomentumBuffers [][]float32
	VarianceBuffers [][]float32

	// Step tracking for bias correction
	StepCount uint64

	paramShapes [][]int
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer for the given parameter shapes
func NewAdamOptimizer(config AdamConfig, paramShapes [][]int) (*AdamOptimizerState, error) {
	if err := validateAdamConfig(config.LearningRate, config.Beta1, config.Beta2, config.Epsilon, config.WeightDecay); err != nil {
		return nil, err
	}
	if len(paramShapes) == 0 {
		return nil, fmt.Errorf("no parameter shapes provided")
	}

	return &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: zeroBuffers(paramShapes),
		VarianceBuffers: zeroBuffers(paramShapes),
		StepCount:       0,
		paramShapes:     copyShapes(paramShapes),
	}, nil
}

func validateAdamConfig(lr, beta1, beta2, epsilon, weightDecay float32) error {
	if lr < 0 {
		return fmt.Errorf("learning rate cannot be negative: %f", lr)
	}
	if beta1 < 0 || beta1 >= 1 {
		return fmt.Errorf("beta1 must be in [0, 1): %f", beta1)
	}
	if beta2 < 0 || beta2 >= 1 {
		return fmt.Errorf("beta2 must be in [0, 1): %f", beta2)
	}
	if epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive: %f", epsilon)
	}
	if weightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative: %f", weightDecay)
	}
	return nil
}

// biasCorrection returns 1-beta^t computed in float64 to keep late-step
// corrections accurate.
func biasCorrection(beta float32, step uint64) float32 {
	return float32(1 - math.Pow(float64(beta), float64(step)))
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step(params []*tensor.Parameter) error {
	if err := checkParams(params, adam.paramShapes); err != nil {
		return err
	}
	adam.StepCount++

	lr := adam.LearningRate
	beta1 := adam.Beta1
	beta2 := adam.Beta2
	wd := adam.WeightDecay
	bc1 := biasCorrection(beta1, adam.StepCount)
	bc2 := biasCorrection(beta2, adam.StepCount)

	for pi, p := range params {
		data := p.Data
		grad := p.Grad
		m := adam.MomentumBuffers[pi]
		v := adam.VarianceBuffers[pi]
		for i, g := range grad {
			if wd > 0 {
				g += wd * data[i]
			}
			mi := beta1*m[i] + (1-beta1)*g
			vi := beta2*v[i] + (1-beta2)*g*g
			m[i] = mi
			v[i] = vi
			mHat := mi / bc1
			vHat := vi / bc2
			data[i] -= lr * mHat / (math32.Sqrt(vHat) + adam.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float32 {
	return adam.LearningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// Name returns the optimizer type name
func (adam *AdamOptimizerState) Name() string {
	return "Adam"
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 2*len(adam.MomentumBuffers))
	for i, buf := range adam.MomentumBuffers {
		stateData = append(stateData, packBufferState(buf, fmt.Sprintf("momentum_%d", i), "momentum"))
	}
	for i, buf := range adam.VarianceBuffers {
		stateData = append(stateData, packBufferState(buf, fmt.Sprintf("variance_%d", i), "variance"))
	}

	return &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": float64(adam.LearningRate),
			"beta1":         float64(adam.Beta1),
			"beta2":         float64(adam.Beta2),
			"epsilon":       float64(adam.Epsilon),
			"weight_decay":  float64(adam.WeightDecay),
			"step_count":    float64(adam.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	return restoreMomentVariance(state, adam.paramShapes, adam.MomentumBuffers, adam.VarianceBuffers)
}

// restoreMomentVariance restores momentum/variance tensors shared by the
// Adam-family optimizers.
func restoreMomentVariance(state *checkpoints.OptimizerState, paramShapes [][]int, momentum, variance [][]float32) error {
	for _, t := range state.StateData {
		var target [][]float32
		switch t.StateType {
		case "momentum":
			target = momentum
		case "variance":
			target = variance
		default:
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(paramShapes) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if err := restoreBufferState(target[idx], t); err != nil {
			return err
		}
	}
	return nil
}
