package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// Flip reverses the volume along the given spatial axes and returns a new
// volume. Axes index the spatial dims only (0 = first spatial axis). Flips
// are self-inverse: v.Flip(a).Flip(a) equals v.
func (v *Volume) Flip(axes ...int) (*Volume, error) {
	rank := v.SpatialRank()
	flip := make([]bool, rank)
	for _, a := range axes {
		if a < 0 || a >= rank {
			return nil, errdefs.Configurationf("flip axis %d out of range for %d spatial dims", a, rank)
		}
		if flip[a] {
			return nil, errdefs.Configurationf("flip axis %d repeated", a)
		}
		flip[a] = true
	}

	spatial := v.Spatial()
	strides := spatialStrides(spatial)
	voxels := v.VoxelCount()
	channels := v.Channels()
	out := &Volume{Shape: append([]int(nil), v.Shape...), Data: make([]float32, len(v.Data))}

	for idx := 0; idx < voxels; idx++ {
		rem := idx
		src := 0
		for a := 0; a < rank; a++ {
			c := rem / strides[a]
			rem %= strides[a]
			if flip[a] {
				c = spatial[a] - 1 - c
			}
			src += c * strides[a]
		}
		for ch := 0; ch < channels; ch++ {
			out.Data[ch*voxels+idx] = v.Data[ch*voxels+src]
		}
	}
	return out, nil
}

// Flip reverses a label map along the given spatial axes.
func (l *LabelVolume) Flip(axes ...int) (*LabelVolume, error) {
	rank := len(l.Shape)
	flip := make([]bool, rank)
	for _, a := range axes {
		if a < 0 || a >= rank {
			return nil, errdefs.Configurationf("flip axis %d out of range for %d spatial dims", a, rank)
		}
		if flip[a] {
			return nil, errdefs.Configurationf("flip axis %d repeated", a)
		}
		flip[a] = true
	}

	strides := spatialStrides(l.Shape)
	out := &LabelVolume{Shape: append([]int(nil), l.Shape...), Data: make([]int32, len(l.Data))}
	for idx := range l.Data {
		rem := idx
		src := 0
		for a := 0; a < rank; a++ {
			c := rem / strides[a]
			rem %= strides[a]
			if flip[a] {
				c = l.Shape[a] - 1 - c
			}
			src += c * strides[a]
		}
		out.Data[idx] = l.Data[src]
	}
	return out, nil
}

// ExtractWindow copies the sub-volume of the given spatial size starting at
// origin. Voxels past the volume boundary are zero-filled, which covers the
// final window of a sliding pass on a non-divisible extent.
func (v *Volume) ExtractWindow(origin, size []int) (*Volume, error) {
	rank := v.SpatialRank()
	if len(origin) != rank || len(size) != rank {
		return nil, errdefs.ShapeMismatchf("window origin %v / size %v do not match %d spatial dims", origin, size, rank)
	}
	for a := 0; a < rank; a++ {
		if origin[a] < 0 {
			return nil, errdefs.Configurationf("window origin %v has negative component", origin)
		}
		if size[a] <= 0 {
			return nil, errdefs.Configurationf("window size %v must be positive", size)
		}
	}

	channels := v.Channels()
	srcSpatial := v.Spatial()
	srcStrides := spatialStrides(srcSpatial)
	dstStrides := spatialStrides(size)
	srcVoxels := v.VoxelCount()
	dstVoxels := numElements(size)

	out := &Volume{
		Shape: append([]int{channels}, size...),
		Data:  make([]float32, channels*dstVoxels),
	}

	for idx := 0; idx < dstVoxels; idx++ {
		rem := idx
		src := 0
		inside := true
		for a := 0; a < rank; a++ {
			c := rem / dstStrides[a]
			rem %= dstStrides[a]
			sc := origin[a] + c
			if sc >= srcSpatial[a] {
				inside = false
				break
			}
			src += sc * srcStrides[a]
		}
		if !inside {
			continue
		}
		for ch := 0; ch < channels; ch++ {
			out.Data[ch*dstVoxels+idx] = v.Data[ch*srcVoxels+src]
		}
	}
	return out, nil
}

// AddWeightedWindow accumulates win's values into acc at the given spatial
// origin, scaling each voxel by its importance weight, and adds the same
// weight into weightSum. Window voxels falling outside acc are dropped.
// weight has one entry per window voxel, weightSum one per acc voxel.
func AddWeightedWindow(acc, win *Volume, origin []int, weight, weightSum []float32) error {
	if acc.Channels() != win.Channels() {
		return errdefs.ShapeMismatchf("accumulator has %d channels, window has %d", acc.Channels(), win.Channels())
	}
	rank := acc.SpatialRank()
	if win.SpatialRank() != rank || len(origin) != rank {
		return errdefs.ShapeMismatchf("window rank %d / origin %v do not match accumulator rank %d", win.SpatialRank(), origin, rank)
	}
	if len(weight) != win.VoxelCount() {
		return errdefs.ShapeMismatchf("importance map has %d entries, window has %d voxels", len(weight), win.VoxelCount())
	}
	if len(weightSum) != acc.VoxelCount() {
		return errdefs.ShapeMismatchf("weight-sum buffer has %d entries, accumulator has %d voxels", len(weightSum), acc.VoxelCount())
	}

	channels := acc.Channels()
	accSpatial := acc.Spatial()
	accStrides := spatialStrides(accSpatial)
	winStrides := spatialStrides(win.Spatial())
	accVoxels := acc.VoxelCount()
	winVoxels := win.VoxelCount()

	for idx := 0; idx < winVoxels; idx++ {
		rem := idx
		dst := 0
		inside := true
		for a := 0; a < rank; a++ {
			c := rem / winStrides[a]
			rem %= winStrides[a]
			dc := origin[a] + c
			if dc < 0 || dc >= accSpatial[a] {
				inside = false
				break
			}
			dst += dc * accStrides[a]
		}
		if !inside {
			continue
		}
		w := weight[idx]
		weightSum[dst] += w
		for ch := 0; ch < channels; ch++ {
			acc.Data[ch*accVoxels+dst] += win.Data[ch*winVoxels+idx] * w
		}
	}
	return nil
}

// NormalizeByWeightSum divides every accumulator voxel, per channel, by its
// accumulated weight. A zero weight means a voxel was never covered by any
// window, which the plan invariant rules out.
func NormalizeByWeightSum(acc *Volume, weightSum []float32) error {
	if len(weightSum) != acc.VoxelCount() {
		return errdefs.ShapeMismatchf("weight-sum buffer has %d entries, accumulator has %d voxels", len(weightSum), acc.VoxelCount())
	}
	channels := acc.Channels()
	voxels := acc.VoxelCount()
	for i, w := range weightSum {
		if w == 0 {
			return fmt.Errorf("internal: voxel %d received zero weight during accumulation", i)
		}
		inv := 1 / w
		for ch := 0; ch < channels; ch++ {
			acc.Data[ch*voxels+i] *= inv
		}
	}
	return nil
}

// PadSpatial zero-pads the volume symmetrically so every spatial extent is
// at least minSpatial. It returns the padded volume and the low-side pad per
// axis for cropping results back; when no padding is needed the receiver is
// returned unchanged with zero offsets.
func (v *Volume) PadSpatial(minSpatial []int) (*Volume, []int, error) {
	rank := v.SpatialRank()
	if len(minSpatial) != rank {
		return nil, nil, errdefs.ShapeMismatchf("pad target %v does not match %d spatial dims", minSpatial, rank)
	}

	spatial := v.Spatial()
	lo := make([]int, rank)
	padded := append([]int(nil), spatial...)
	need := false
	for a := 0; a < rank; a++ {
		if minSpatial[a] <= spatial[a] {
			continue
		}
		diff := minSpatial[a] - spatial[a]
		lo[a] = diff / 2
		padded[a] = minSpatial[a]
		need = true
	}
	if !need {
		return v, lo, nil
	}

	channels := v.Channels()
	out := &Volume{
		Shape: append([]int{channels}, padded...),
		Data:  make([]float32, channels*numElements(padded)),
	}
	srcStrides := spatialStrides(spatial)
	dstStrides := spatialStrides(padded)
	srcVoxels := v.VoxelCount()
	dstVoxels := numElements(padded)

	for idx := 0; idx < srcVoxels; idx++ {
		rem := idx
		dst := 0
		for a := 0; a < rank; a++ {
			c := rem / srcStrides[a]
			rem %= srcStrides[a]
			dst += (c + lo[a]) * dstStrides[a]
		}
		for ch := 0; ch < channels; ch++ {
			out.Data[ch*dstVoxels+dst] = v.Data[ch*srcVoxels+idx]
		}
	}
	return out, lo, nil
}

// CropSpatial copies the region of the given size starting at origin, which
// must lie fully inside the volume.
func (v *Volume) CropSpatial(origin, size []int) (*Volume, error) {
	rank := v.SpatialRank()
	if len(origin) != rank || len(size) != rank {
		return nil, errdefs.ShapeMismatchf("crop origin %v / size %v do not match %d spatial dims", origin, size, rank)
	}
	spatial := v.Spatial()
	for a := 0; a < rank; a++ {
		if origin[a] < 0 || size[a] <= 0 || origin[a]+size[a] > spatial[a] {
			return nil, errdefs.Configurationf("crop origin %v size %v exceeds extent %v", origin, size, spatial)
		}
	}

	channels := v.Channels()
	srcStrides := spatialStrides(spatial)
	dstStrides := spatialStrides(size)
	srcVoxels := v.VoxelCount()
	dstVoxels := numElements(size)
	out := &Volume{
		Shape: append([]int{channels}, size...),
		Data:  make([]float32, channels*dstVoxels),
	}

	for idx := 0; idx < dstVoxels; idx++ {
		rem := idx
		src := 0
		for a := 0; a < rank; a++ {
			c := rem / dstStrides[a]
			rem %= dstStrides[a]
			src += (origin[a] + c) * srcStrides[a]
		}
		for ch := 0; ch < channels; ch++ {
			out.Data[ch*dstVoxels+idx] = v.Data[ch*srcVoxels+src]
		}
	}
	return out, nil
}

// SoftmaxClasses converts raw class scores to per-voxel probabilities across
// the channel axis, stabilized by max subtraction.
func SoftmaxClasses(v *Volume) *Volume {
	channels := v.Channels()
	voxels := v.VoxelCount()
	out := &Volume{Shape: append([]int(nil), v.Shape...), Data: make([]float32, len(v.Data))}

	for i := 0; i < voxels; i++ {
		max := v.Data[i]
		for ch := 1; ch < channels; ch++ {
			if s := v.Data[ch*voxels+i]; s > max {
				max = s
			}
		}
		var sum float32
		for ch := 0; ch < channels; ch++ {
			e := math32.Exp(v.Data[ch*voxels+i] - max)
			out.Data[ch*voxels+i] = e
			sum += e
		}
		inv := 1 / sum
		for ch := 0; ch < channels; ch++ {
			out.Data[ch*voxels+i] *= inv
		}
	}
	return out
}

// ArgmaxClasses reduces class scores to a discrete label map, taking the
// lowest class index on ties.
func ArgmaxClasses(v *Volume) *LabelVolume {
	channels := v.Channels()
	voxels := v.VoxelCount()
	out := &LabelVolume{Shape: append([]int(nil), v.Spatial()...), Data: make([]int32, voxels)}

	for i := 0; i < voxels; i++ {
		best := int32(0)
		bestScore := v.Data[i]
		for ch := 1; ch < channels; ch++ {
			if s := v.Data[ch*voxels+i]; s > bestScore {
				bestScore = s
				best = int32(ch)
			}
		}
		out.Data[i] = best
	}
	return out
}

// AddScaled accumulates src*scale into dst element-wise.
func AddScaled(dst, src *Volume, scale float32) error {
	if !dst.SameShape(src) {
		return errdefs.ShapeMismatchf("cannot accumulate %v into %v", src.Shape, dst.Shape)
	}
	for i := range dst.Data {
		dst.Data[i] += src.Data[i] * scale
	}
	return nil
}

// Scale multiplies every element in place.
func Scale(v *Volume, s float32) {
	for i := range v.Data {
		v.Data[i] *= s
	}
}
