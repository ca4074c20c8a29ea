// Package tensor provides the volume containers and element-wise kernels
// the segmentation pipeline is built on. A Volume stores one multi-channel
// scan as float32 in channel-major order; a LabelVolume stores the integer
// class map for the same spatial grid.
package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// Volume is an ordered multi-dimensional array with shape
// [channels, spatial...]. Spatial rank is 2 or 3. Data is laid out
// row-major with the channel axis outermost.
type Volume struct {
	Shape []int
	Data  []float32
}

func validateShape(shape []int) error {
	if len(shape) < 3 || len(shape) > 4 {
		return errdefs.Configurationf("volume shape %v must be [channels, spatial...] with 2 or 3 spatial dims", shape)
	}
	for i, dim := range shape {
		if dim <= 0 {
			return errdefs.Configurationf("invalid shape %v: dimension %d has size %d, must be positive", shape, i, dim)
		}
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

// NewVolume builds a volume over data, which must match the shape's element
// count exactly. The data slice is retained, not copied.
func NewVolume(shape []int, data []float32) (*Volume, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if len(data) != numElements(shape) {
		return nil, errdefs.ShapeMismatchf("data length %d does not match shape %v (%d elements)",
			len(data), shape, numElements(shape))
	}
	return &Volume{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero-filled volume.
func Zeros(shape []int) (*Volume, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return &Volume{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, numElements(shape)),
	}, nil
}

// Full allocates a volume with every element set to value.
func Full(shape []int, value float32) (*Volume, error) {
	v, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range v.Data {
		v.Data[i] = value
	}
	return v, nil
}

func (v *Volume) Channels() int {
	return v.Shape[0]
}

// Spatial returns the spatial extents, excluding the channel axis.
func (v *Volume) Spatial() []int {
	return v.Shape[1:]
}

// SpatialRank is the number of spatial axes (2 or 3).
func (v *Volume) SpatialRank() int {
	return len(v.Shape) - 1
}

// VoxelCount is the number of voxels in one channel.
func (v *Volume) VoxelCount() int {
	return numElements(v.Shape[1:])
}

func (v *Volume) Clone() *Volume {
	data := make([]float32, len(v.Data))
	copy(data, v.Data)
	return &Volume{Shape: append([]int(nil), v.Shape...), Data: data}
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume(channels=%d, spatial=%v, elements=%d)", v.Channels(), v.Spatial(), len(v.Data))
}

// spatialStrides returns row-major strides over the spatial axes only.
func spatialStrides(spatial []int) []int {
	strides := make([]int, len(spatial))
	stride := 1
	for i := len(spatial) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= spatial[i]
	}
	return strides
}

func sameExtents(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether two volumes agree on channel count and spatial
// extents.
func (v *Volume) SameShape(o *Volume) bool {
	return sameExtents(v.Shape, o.Shape)
}

// AllClose reports whether two volumes have identical shapes and element-wise
// absolute differences within tol.
func AllClose(a, b *Volume, tol float32) bool {
	if !a.SameShape(b) {
		return false
	}
	for i := range a.Data {
		if math32.Abs(a.Data[i]-b.Data[i]) > tol {
			return false
		}
	}
	return true
}
