package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// AdamWOptimizerState implements Adam with decoupled weight decay: decay
// shrinks the weights directly each step instead of entering the moment
// estimates, so the effective regularization does not depend on the
// gradient magnitude.
type AdamWOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32 // Decoupled decay coefficient

	// Moment buffers, one per parameter
	MomentumBuffers [][]float32
	VarianceBuffers [][]float32

	// Step tracking for bias correction
	StepCount uint64

	paramShapes [][]int
}

// AdamWConfig holds configuration for AdamW optimizer
type AdamWConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamWConfig returns default AdamW optimizer configuration
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.0001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  1e-5,
	}
}

// NewAdamWOptimizer creates a new AdamW optimizer for the given parameter shapes
func NewAdamWOptimizer(config AdamWConfig, paramShapes [][]int) (*AdamWOptimizerState, error) {
	if err := validateAdamConfig(config.LearningRate, config.Beta1, config.Beta2, config.Epsilon, config.WeightDecay); err != nil {
		return nil, err
	}
	if len(paramShapes) == 0 {
		return nil, fmt.Errorf("no parameter shapes provided")
	}

	return &AdamWOptimizerState{
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

// Step performs a single AdamW optimization step
func (aw *AdamWOptimizerState) Step(params []*tensor.Parameter) error {
	if err := checkParams(params, aw.paramShapes); err != nil {
		return err
	}
	aw.StepCount++

	lr := aw.LearningRate
	beta1 := aw.Beta1
	beta2 := aw.Beta2
	wd := aw.WeightDecay
	bc1 := biasCorrection(beta1, aw.StepCount)
	bc2 := biasCorrection(beta2, aw.StepCount)

	for pi, p := range params {
		data := p.Data
		grad := p.Grad
		m := aw.MomentumBuffers[pi]
		v := aw.VarianceBuffers[pi]
		for i, g := range grad {
			if wd > 0 {
				data[i] -= lr * wd * data[i]
			}
			mi := beta1*m[i] + (1-beta1)*g
			vi := beta2*v[i] + (1-beta2)*g*g
			m[i] = mi
			v[i] = vi
			mHat := mi / bc1
			vHat := vi / bc2
			data[i] -= lr * mHat / (math32.Sqrt(vHat) + aw.Epsilon)
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (aw *AdamWOptimizerState) UpdateLearningRate(newLR float32) {
	aw.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (aw *AdamWOptimizerState) GetLearningRate() float32 {
	return aw.LearningRate
}

// GetStepCount returns the current step count
func (aw *AdamWOptimizerState) GetStepCount() uint64 {
	return aw.StepCount
}

// Name returns the optimizer type name
func (aw *AdamWOptimizerState) Name() string {
	return "AdamW"
}

// GetState extracts optimizer state for checkpointing
func (aw *AdamWOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 2*len(aw.MomentumBuffers))
	for i, buf := range aw.MomentumBuffers {
		stateData = append(stateData, packBufferState(buf, fmt.Sprintf("momentum_%d", i), "momentum"))
	}
	for i, buf := range aw.VarianceBuffers {
		stateData = append(stateData, packBufferState(buf, fmt.Sprintf("variance_%d", i), "variance"))
	}

	return &checkpoints.OptimizerState{
		Type: "AdamW",
		Parameters: map[string]interface{}{
			"learning_rate": float64(aw.LearningRate),
			"beta1":         float64(aw.Beta1),
			"beta2":         float64(aw.Beta2),
			"epsilon":       float64(aw.Epsilon),
			"weight_decay":  float64(aw.WeightDecay),
			"step_count":    float64(aw.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (aw *AdamWOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}

	aw.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", aw.LearningRate)
	aw.Beta1 = extractFloat32Param(state.Parameters, "beta1", aw.Beta1)
	aw.Beta2 = extractFloat32Param(state.Parameters, "beta2", aw.Beta2)
	aw.Epsilon = extractFloat32Param(state.Parameters, "epsilon", aw.Epsilon)
	aw.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", aw.WeightDecay)
	aw.StepCount = extractUint64Param(state.Parameters, "step_count", aw.StepCount)

	return restoreMomentVariance(state, aw.paramShapes, aw.MomentumBuffers, aw.VarianceBuffers)
}
