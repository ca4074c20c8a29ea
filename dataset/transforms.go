package dataset

import (
	"gonum.org/v1/gonum/stat"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Transform maps an input volume to a new volume. Transforms never modify
// their input.
type Transform interface {
	Apply(v *tensor.Volume) (*tensor.Volume, error)
}

// ScaleIntensityRange linearly maps intensities from [InMin, InMax] to
// [OutMin, OutMax], optionally clipping to the output range.
type ScaleIntensityRange struct {
	InMin, InMax   float32
	OutMin, OutMax float32
	Clip           bool
}

func (t ScaleIntensityRange) Apply(v *tensor.Volume) (*tensor.Volume, error) {
	if t.InMax == t.InMin {
		return nil, errdefs.Configurationf("intensity input range is empty: [%f, %f]", t.InMin, t.InMax)
	}
	scale := (t.OutMax - t.OutMin) / (t.InMax - t.InMin)
	lo, hi := t.OutMin, t.OutMax
	if lo > hi {
		lo, hi = hi, lo
	}
	out := v.Clone()
	for i, x := range v.Data {
		y := (x-t.InMin)*scale + t.OutMin
		if t.Clip {
			if y < lo {
				y = lo
			} else if y > hi {
				y = hi
			}
		}
		out.Data[i] = y
	}
	return out, nil
}

// NormalizeChannels shifts and scales every channel to zero mean and unit
// standard deviation. Constant channels are centered only.
type NormalizeChannels struct{}

func (NormalizeChannels) Apply(v *tensor.Volume) (*tensor.Volume, error) {
	out := v.Clone()
	voxels := v.VoxelCount()
	buf := make([]float64, voxels)
	for c := 0; c < v.Channels(); c++ {
		ch := v.Data[c*voxels : (c+1)*voxels]
		for i, x := range ch {
			buf[i] = float64(x)
		}
		mean, std := stat.MeanStdDev(buf, nil)
		outCh := out.Data[c*voxels : (c+1)*voxels]
		if std > 0 {
			for i, x := range ch {
				outCh[i] = float32((float64(x) - mean) / std)
			}
		} else {
			for i, x := range ch {
				outCh[i] = x - float32(mean)
			}
		}
	}
	return out, nil
}

// Compose chains transforms left to right.
type Compose []Transform

func (c Compose) Apply(v *tensor.Volume) (*tensor.Volume, error) {
	var err error
	for _, t := range c {
		v, err = t.Apply(v)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}
