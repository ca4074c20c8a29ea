// Package optimizer implements the gradient-descent update rules used by
// the training loop: SGD with momentum, Adam, AdamW with decoupled weight
// decay, and RMSProp. Every optimizer owns its moment buffers and can
// export them as checkpoint state, so a resumed run continues with the
// exact trajectory of an uninterrupted one.
package optimizer

import (
	"fmt"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step applies one update to every parameter from its accumulated
	// gradient. The parameter list must match the shapes the optimizer
	// was constructed with.
	Step(params []*tensor.Parameter) error

	// GetState extracts optimizer state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float32)

	// GetLearningRate returns the current learning rate.
	GetLearningRate() float32

	// Name returns the optimizer type name as stored in checkpoints.
	Name() string
}

// calculateTensorSize returns the number of elements for a shape
func calculateTensorSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// checkParams validates that the parameter list matches the shapes the
// optimizer allocated state for.
func checkParams(params []*tensor.Parameter, paramShapes [][]int) error {
	if len(params) != len(paramShapes) {
		return errdefs.ShapeMismatchf("optimizer step: got %d parameters, expected %d", len(params), len(paramShapes))
	}
	for i, p := range params {
		want := calculateTensorSize(paramShapes[i])
		if len(p.Data) != want {
			return errdefs.ShapeMismatchf("optimizer step: parameter %s has %d values, expected %d", p.Name, len(p.Data), want)
		}
		if len(p.Grad) != want {
			return errdefs.ShapeMismatchf("optimizer step: parameter %s has %d gradients, expected %d", p.Name, len(p.Grad), want)
		}
	}
	return nil
}

// copyShapes clones the shape list so callers cannot mutate optimizer state.
func copyShapes(paramShapes [][]int) [][]int {
	out := make([][]int, len(paramShapes))
	for i, shape := range paramShapes {
		out[i] = append([]int(nil), shape...)
	}
	return out
}

// extractBufferIndex extracts the buffer index from state tensor names like
// "momentum_0", "variance_1", "squared_grad_avg_0"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}
	if lastUnderscoreIdx == -1 {
		return -1
	}
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
