package optimizer

import (
	"fmt"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
)

// Common helper functions for optimizer state management

// packBufferState copies one moment buffer into a checkpoint tensor
func packBufferState(buf []float32, name string, stateType string) checkpoints.OptimizerTensor {
	data := make([]float32, len(buf))
	copy(data, buf)
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     []int{len(data)},
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies checkpoint data back into a moment buffer
func restoreBufferState(buf []float32, tensor checkpoints.OptimizerTensor) error {
	if buf == nil {
		return fmt.Errorf("%s buffer is nil", tensor.Name)
	}
	if len(tensor.Data) != len(buf) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			tensor.Name, len(buf), len(tensor.Data))
	}
	copy(buf, tensor.Data)
	return nil
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	if val, ok := params[key].(float64); ok {
		return float32(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	if val, ok := params[key].(float64); ok {
		return uint64(val)
	}
	return defaultValue
}

// zeroBuffers allocates one zeroed float32 buffer per parameter shape
func zeroBuffers(paramShapes [][]int) [][]float32 {
	buffers := make([][]float32, len(paramShapes))
	for i, shape := range paramShapes {
		buffers[i] = make([]float32, calculateTensorSize(shape))
	}
	return buffers
}
