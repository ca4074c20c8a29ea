package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// RMSPropOptimizerState implements RMSProp with optional momentum and the
// centered variant that subtracts the running gradient mean from the
// second-moment estimate.
type RMSPropOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Alpha        float32 // Smoothing constant (typically 0.99)
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32
	Centered     bool

	// State buffers, one per parameter
	SquaredGradAvgBuffers [][]float32
	MomentumBuffers       [][]float32 // only if momentum > 0
	GradientAvgBuffers    [][]float32 // only if centered

	// Step tracking
	StepCount uint64

	paramShapes [][]int
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float32
	Alpha        float32
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer for the given parameter shapes
func NewRMSPropOptimizer(config RMSPropConfig, paramShapes [][]int) (*RMSPropOptimizerState, error) {
	if len(paramShapes) == 0 {
		return nil, fmt.Errorf("no parameter shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.Momentum < 0 || config.Momentum > 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1]: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	rmsprop := &RMSPropOptimizerState{
		LearningRate:          config.LearningRate,
		Alpha:                 config.Alpha,
		Epsilon:               config.Epsilon,
		WeightDecay:           config.WeightDecay,
		Momentum:              config.Momentum,
		Centered:              config.Centered,
		SquaredGradAvgBuffers: zeroBuffers(paramShapes),
		StepCount:             0,
		paramShapes:           copyShapes(paramShapes),
	}
	if config.Momentum > 0 {
		rmsprop.MomentumBuffers = zeroBuffers(paramShapes)
	}
	if config.Centered {
		rmsprop.GradientAvgBuffers = zeroBuffers(paramShapes)
	}
	return rmsprop, nil
}

// Step performs a single RMSProp optimization step
func (rmsprop *RMSPropOptimizerState) Step(params []*tensor.Parameter) error {
	if err := checkParams(params, rmsprop.paramShapes); err != nil {
		return err
	}
	rmsprop.StepCount++

	lr := rmsprop.LearningRate
	alpha := rmsprop.Alpha
	eps := rmsprop.Epsilon
	wd := rmsprop.WeightDecay
	mu := rmsprop.Momentum

	for pi, p := range params {
		data := p.Data
		grad := p.Grad
		sq := rmsprop.SquaredGradAvgBuffers[pi]
		for i, g := range grad {
			if wd > 0 {
				g += wd * data[i]
			}
			sq[i] = alpha*sq[i] + (1-alpha)*g*g

			var denom float32
			if rmsprop.Centered {
				avg := rmsprop.GradientAvgBuffers[pi]
				avg[i] = alpha*avg[i] + (1-alpha)*g
				// Rounding can push the centered estimate slightly negative.
				centered := sq[i] - avg[i]*avg[i]
				if centered < 0 {
					centered = 0
				}
				denom = math32.Sqrt(centered) + eps
			} else {
				denom = math32.Sqrt(sq[i]) + eps
			}

			upd := g / denom
			if mu > 0 {
				buf := rmsprop.MomentumBuffers[pi]
				buf[i] = mu*buf[i] + upd
				upd = buf[i]
			}
			data[i] -= lr * upd
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (rmsprop *RMSPropOptimizerState) UpdateLearningRate(newLR float32) {
	rmsprop.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (rmsprop *RMSPropOptimizerState) GetLearningRate() float32 {
	return rmsprop.LearningRate
}

// GetStepCount returns the current step count
func (rmsprop *RMSPropOptimizerState) GetStepCount() uint64 {
	return rmsprop.StepCount
}

// Name returns the optimizer type name
func (rmsprop *RMSPropOptimizerState) Name() string {
	return "RMSProp"
}

// GetState extracts optimizer state for checkpointing
func (rmsprop *RMSPropOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)
	for i, buf := range rmsprop.SquaredGradAvgBuffers {
		stateData = append(stateData, packBufferState(buf, fmt.Sprintf("squared_grad_avg_%d", i), "squared_grad_avg"))
	}
	if rmsprop.Momentum > 0 {
		for i, buf := range rmsprop.MomentumBuffers {
			stateData = append(stateData, packBufferState(buf, fmt.Sprintf("momentum_%d", i), "momentum"))
		}
	}
	if rmsprop.Centered {
		for i, buf := range rmsprop.GradientAvgBuffers {
			stateData = append(stateData, packBufferState(buf, fmt.Sprintf("grad_avg_%d", i), "grad_avg"))
		}
	}

	return &checkpoints.OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": float64(rmsprop.LearningRate),
			"alpha":         float64(rmsprop.Alpha),
			"epsilon":       float64(rmsprop.Epsilon),
			"weight_decay":  float64(rmsprop.WeightDecay),
			"momentum":      float64(rmsprop.Momentum),
			"centered":      rmsprop.Centered,
			"step_count":    float64(rmsprop.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (rmsprop *RMSPropOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	rmsprop.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", rmsprop.LearningRate)
	rmsprop.Alpha = extractFloat32Param(state.Parameters, "alpha", rmsprop.Alpha)
	rmsprop.Epsilon = extractFloat32Param(state.Parameters, "epsilon", rmsprop.Epsilon)
	rmsprop.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", rmsprop.WeightDecay)
	rmsprop.Momentum = extractFloat32Param(state.Parameters, "momentum", rmsprop.Momentum)
	rmsprop.Centered = extractBoolParam(state.Parameters, "centered", rmsprop.Centered)
	rmsprop.StepCount = extractUint64Param(state.Parameters, "step_count", rmsprop.StepCount)

	for _, t := range state.StateData {
		var target [][]float32
		switch t.StateType {
		case "squared_grad_avg":
			target = rmsprop.SquaredGradAvgBuffers
		case "momentum":
			target = rmsprop.MomentumBuffers
		case "grad_avg":
			target = rmsprop.GradientAvgBuffers
		default:
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(rmsprop.paramShapes) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if target == nil {
			return fmt.Errorf("%s buffer %d not allocated", t.StateType, idx)
		}
		if err := restoreBufferState(target[idx], t); err != nil {
			return err
		}
	}
	return nil
}
