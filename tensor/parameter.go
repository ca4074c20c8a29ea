package tensor

import (
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// Parameter is a named trainable tensor with gradient storage. Data and
// Grad always have the same length; Grad is accumulated by the model's
// backward pass and consumed by the optimizer.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParameter allocates a zero-initialized parameter with the given shape.
func NewParameter(name string, shape []int) (*Parameter, error) {
	if name == "" {
		return nil, errdefs.Configurationf("parameter name must not be empty")
	}
	if len(shape) == 0 {
		return nil, errdefs.Configurationf("parameter %s: shape must not be empty", name)
	}
	n := 1
	for i, dim := range shape {
		if dim <= 0 {
			return nil, errdefs.Configurationf("parameter %s: dimension %d must be positive, got %d", name, i, dim)
		}
		n *= dim
	}
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
		Grad:  make([]float32, n),
	}, nil
}

// NumElements returns the number of scalar values in the parameter.
func (p *Parameter) NumElements() int {
	n := 1
	for _, dim := range p.Shape {
		n *= dim
	}
	return n
}

// ZeroGrad clears the accumulated gradient in place.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}
