package tensor

import (
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// LabelVolume is an integer-encoded per-voxel class map over a spatial grid.
// Shape holds spatial extents only; values lie in [0, numClasses).
type LabelVolume struct {
	Shape []int
	Data  []int32
}

func validateSpatial(shape []int) error {
	if len(shape) < 2 || len(shape) > 3 {
		return errdefs.Configurationf("label shape %v must have 2 or 3 spatial dims", shape)
	}
	for i, dim := range shape {
		if dim <= 0 {
			return errdefs.Configurationf("invalid label shape %v: dimension %d has size %d, must be positive", shape, i, dim)
		}
	}
	return nil
}

// NewLabelVolume builds a label map over data, which must match the spatial
// element count exactly. The data slice is retained, not copied.
func NewLabelVolume(shape []int, data []int32) (*LabelVolume, error) {
	if err := validateSpatial(shape); err != nil {
		return nil, err
	}
	if len(data) != numElements(shape) {
		return nil, errdefs.ShapeMismatchf("label data length %d does not match shape %v (%d elements)",
			len(data), shape, numElements(shape))
	}
	return &LabelVolume{Shape: append([]int(nil), shape...), Data: data}, nil
}

// ZerosLabel allocates an all-background label map.
func ZerosLabel(shape []int) (*LabelVolume, error) {
	if err := validateSpatial(shape); err != nil {
		return nil, err
	}
	return &LabelVolume{
		Shape: append([]int(nil), shape...),
		Data:  make([]int32, numElements(shape)),
	}, nil
}

func (l *LabelVolume) VoxelCount() int {
	return len(l.Data)
}

func (l *LabelVolume) Clone() *LabelVolume {
	data := make([]int32, len(l.Data))
	copy(data, l.Data)
	return &LabelVolume{Shape: append([]int(nil), l.Shape...), Data: data}
}

// Equal reports whether two label maps agree on shape and every voxel.
func (l *LabelVolume) Equal(o *LabelVolume) bool {
	if !sameExtents(l.Shape, o.Shape) {
		return false
	}
	for i := range l.Data {
		if l.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// CountClass returns how many voxels carry class c.
func (l *LabelVolume) CountClass(c int32) int {
	n := 0
	for _, v := range l.Data {
		if v == c {
			n++
		}
	}
	return n
}
