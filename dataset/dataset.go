// Package dataset defines the sample access boundary for training and
// validation, plus the synthetic volumes used by tests and the demo
// pipeline.
package dataset

import (
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Sample pairs an input volume with its voxel-wise class labels.
type Sample struct {
	Image *tensor.Volume      // [channels, spatial...]
	Label *tensor.LabelVolume // [spatial...]
}

// Dataset provides indexed access to samples. Implementations must be safe
// for concurrent At calls; the loader prefetches from a worker goroutine.
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}
