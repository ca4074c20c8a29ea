package optimizer

import (
	"fmt"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// SGDOptimizerState implements stochastic gradient descent with optional
// momentum and Nesterov acceleration.
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// Moment buffers, one per parameter (only if momentum > 0)
	MomentumBuffers [][]float32

	// Step tracking
	StepCount uint64

	paramShapes [][]int
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer for the given parameter shapes
func NewSGDOptimizer(config SGDConfig, paramShapes [][]int) (*SGDOptimizerState, error) {
	if len(paramShapes) == 0 {
		return nil, fmt.Errorf("no parameter shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	sgd := &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		StepCount:    0,
		paramShapes:  copyShapes(paramShapes),
	}
	if config.Momentum > 0 {
		sgd.MomentumBuffers = zeroBuffers(paramShapes)
	}
	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step(params []*tensor.Parameter) error {
	if err := checkParams(params, sgd.paramShapes); err != nil {
		return err
	}
	sgd.StepCount++

	lr := sgd.LearningRate
	mu := sgd.Momentum
	wd := sgd.WeightDecay

	for pi, p := range params {
		data := p.Data
		grad := p.Grad
		if mu > 0 {
			buf := sgd.MomentumBuffers[pi]
			for i, g := range grad {
				if wd > 0 {
					g += wd * data[i]
				}
				m := mu*buf[i] + g
				buf[i] = m
				if sgd.Nesterov {
					g += mu * m
				} else {
					g = m
				}
				data[i] -= lr * g
			}
		} else {
			for i, g := range grad {
				if wd > 0 {
					g += wd * data[i]
				}
				data[i] -= lr * g
			}
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (sgd *SGDOptimizerState) GetLearningRate() float32 {
	return sgd.LearningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// Name returns the optimizer type name
func (sgd *SGDOptimizerState) Name() string {
	return "SGD"
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	if sgd.Momentum > 0 {
		for i, buf := range sgd.MomentumBuffers {
			stateData = append(stateData, packBufferState(buf, fmt.Sprintf("momentum_%d", i), "momentum"))
		}
	}

	return &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": float64(sgd.LearningRate),
			"momentum":      float64(sgd.Momentum),
			"weight_decay":  float64(sgd.WeightDecay),
			"nesterov":      sgd.Nesterov,
			"step_count":    float64(sgd.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	for _, t := range state.StateData {
		if t.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(sgd.paramShapes) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if sgd.MomentumBuffers == nil {
			return fmt.Errorf("momentum buffer %d not allocated", idx)
		}
		if err := restoreBufferState(sgd.MomentumBuffers[idx], t); err != nil {
			return err
		}
	}
	return nil
}
