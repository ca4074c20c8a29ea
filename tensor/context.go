package tensor

import (
	"fmt"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

type DeviceType int

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
)

func (d DeviceType) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return "unknown"
	}
}

type Precision int

const (
	PrecisionFull Precision = iota
	PrecisionMixed
)

func (p Precision) String() string {
	switch p {
	case PrecisionFull:
		return "full"
	case PrecisionMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ExecutionContext names the device and numeric precision a component runs
// with. Constructors take it explicitly; nothing consults package state to
// resolve device or precision.
type ExecutionContext struct {
	Device    DeviceType
	Precision Precision
}

// CPUContext is the full-precision CPU context.
func CPUContext() ExecutionContext {
	return ExecutionContext{Device: DeviceCPU, Precision: PrecisionFull}
}

// WithMixedPrecision returns a copy running under the scaled-gradient
// mixed-precision discipline.
func (e ExecutionContext) WithMixedPrecision() ExecutionContext {
	e.Precision = PrecisionMixed
	return e
}

// Mixed reports whether the reduced-precision forward path is active.
func (e ExecutionContext) Mixed() bool {
	return e.Precision == PrecisionMixed
}

// Validate rejects devices this build cannot execute on.
func (e ExecutionContext) Validate() error {
	if e.Device != DeviceCPU {
		return errdefs.Configurationf("device %q is not available in this build, only %q", e.Device, DeviceCPU)
	}
	return nil
}

func (e ExecutionContext) String() string {
	return fmt.Sprintf("%s/%s", e.Device, e.Precision)
}
