package inference

import (
	"context"
	"fmt"

	"github.com/cyclopcam/logs"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Predictor maps a multi-channel volume to per-class score maps over the
// same spatial grid. Implementations must be safe for concurrent calls and
// must not mutate the input. Deterministic given fixed parameters.
type Predictor interface {
	Predict(v *tensor.Volume) (*tensor.Volume, error)
}

// PredictorFunc adapts an ordinary function to the Predictor interface.
type PredictorFunc func(v *tensor.Volume) (*tensor.Volume, error)

func (f PredictorFunc) Predict(v *tensor.Volume) (*tensor.Volume, error) {
	return f(v)
}

// Config holds the sliding-window settings.
type Config struct {
	// ROI is the model's spatial input size per window.
	ROI []int
	// Overlap is the fraction of each window shared with its neighbor,
	// in [0,1).
	Overlap float64
	// SWBatchSize caps how many windows run through the predictor
	// concurrently per batch.
	SWBatchSize int
	// NumClasses is the channel count the predictor must emit.
	NumClasses int
	// Importance selects the blending weight profile.
	Importance ImportanceMode
	// PadIfNeeded zero-pads volumes smaller than ROI instead of failing.
	PadIfNeeded bool
}

// DefaultConfig mirrors the usual deployment settings: half-window overlap,
// four windows in flight, uniform blending, padding enabled.
func DefaultConfig(roi []int, numClasses int) Config {
	return Config{
		ROI:         append([]int(nil), roi...),
		Overlap:     0.5,
		SWBatchSize: 4,
		NumClasses:  numClasses,
		Importance:  ImportanceUniform,
		PadIfNeeded: true,
	}
}

// SlidingInferer reconstructs a full-volume class-score map by tiling the
// input into overlapping ROI-sized windows, running the predictor on each,
// and blending the per-window scores by weighted averaging.
type SlidingInferer struct {
	cfg    Config
	exec   tensor.ExecutionContext
	log    logs.Log
	weight []float32
}

func NewSlidingInferer(cfg Config, exec tensor.ExecutionContext, logger logs.Log) (*SlidingInferer, error) {
	if len(cfg.ROI) < 2 || len(cfg.ROI) > 3 {
		return nil, errdefs.Configurationf("roi %v must have 2 or 3 spatial dims", cfg.ROI)
	}
	for _, n := range cfg.ROI {
		if n < 1 {
			return nil, errdefs.Configurationf("roi %v must be positive on every axis", cfg.ROI)
		}
	}
	if cfg.Overlap < 0 || cfg.Overlap >= 1 {
		return nil, errdefs.Configurationf("overlap %v out of range [0,1)", cfg.Overlap)
	}
	if cfg.SWBatchSize < 1 {
		return nil, errdefs.Configurationf("sw batch size %d must be at least 1", cfg.SWBatchSize)
	}
	if cfg.NumClasses < 2 {
		return nil, errdefs.Configurationf("class count %d must be at least 2", cfg.NumClasses)
	}
	if err := exec.Validate(); err != nil {
		return nil, err
	}
	weight, err := ImportanceMap(cfg.Importance, cfg.ROI)
	if err != nil {
		return nil, err
	}
	return &SlidingInferer{cfg: cfg, exec: exec, log: logger, weight: weight}, nil
}

// Infer produces the blended class-score map for vol. The output spatial
// shape equals vol's. Window batches run concurrently up to SWBatchSize; a
// batch that exhausts device memory is retried once at half concurrency.
// ctx is checked between batches.
func (s *SlidingInferer) Infer(ctx context.Context, vol *tensor.Volume, p Predictor) (*tensor.Volume, error) {
	if vol.SpatialRank() != len(s.cfg.ROI) {
		return nil, errdefs.ShapeMismatchf("volume rank %d does not match roi %v", vol.SpatialRank(), s.cfg.ROI)
	}

	origSpatial := append([]int(nil), vol.Spatial()...)
	work := vol
	var lo []int
	if padTarget, need := padTarget(origSpatial, s.cfg.ROI); need {
		if !s.cfg.PadIfNeeded {
			return nil, errdefs.Configurationf("roi %v exceeds volume extent %v and padding is disabled", s.cfg.ROI, origSpatial)
		}
		var err error
		work, lo, err = vol.PadSpatial(padTarget)
		if err != nil {
			return nil, fmt.Errorf("window construction: %w", err)
		}
	}

	plan, err := PlanWindows(work.Spatial(), s.cfg.ROI, s.cfg.Overlap)
	if err != nil {
		return nil, fmt.Errorf("window construction: %w", err)
	}

	acc, err := tensor.Zeros(append([]int{s.cfg.NumClasses}, work.Spatial()...))
	if err != nil {
		return nil, fmt.Errorf("window construction: %w", err)
	}
	weightSum := make([]float32, acc.VoxelCount())

	s.log.Debugf("Sliding inference: %d windows over %v, roi %v, overlap %.2f, batch %d",
		len(plan), work.Spatial(), s.cfg.ROI, s.cfg.Overlap, s.cfg.SWBatchSize)

	for start := 0; start < len(plan); start += s.cfg.SWBatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + s.cfg.SWBatchSize
		if end > len(plan) {
			end = len(plan)
		}
		batch := plan[start:end]

		results, err := s.runBatch(work, p, batch, len(batch))
		if errdefs.IsResourceExhausted(err) {
			reduced := len(batch) / 2
			if reduced < 1 {
				reduced = 1
			}
			s.log.Warnf("Predictor exhausted device memory on a %d-window batch, retrying at %d", len(batch), reduced)
			results, err = s.runBatch(work, p, batch, reduced)
		}
		if err != nil {
			return nil, err
		}

		// buffer adds stay on this goroutine so overlapping windows never race
		for i, scores := range results {
			if err := tensor.AddWeightedWindow(acc, scores, batch[i].Origin, s.weight, weightSum); err != nil {
				return nil, fmt.Errorf("accumulation at %v: %w", batch[i].Origin, err)
			}
		}
	}

	if err := tensor.NormalizeByWeightSum(acc, weightSum); err != nil {
		return nil, fmt.Errorf("accumulation: %w", err)
	}

	if work != vol {
		cropped, err := acc.CropSpatial(lo, origSpatial)
		if err != nil {
			return nil, fmt.Errorf("accumulation: %w", err)
		}
		acc = cropped
	}
	return acc, nil
}

// PredictorWith binds the inferer and a window predictor into a full-volume
// Predictor, the shape the TTA ensembler wraps.
func (s *SlidingInferer) PredictorWith(ctx context.Context, p Predictor) PredictorFunc {
	return func(v *tensor.Volume) (*tensor.Volume, error) {
		return s.Infer(ctx, v, p)
	}
}

// runBatch extracts and predicts every window of the batch with up to
// `workers` goroutines, storing outputs into per-window slots.
func (s *SlidingInferer) runBatch(vol *tensor.Volume, p Predictor, batch []Window, workers int) ([]*tensor.Volume, error) {
	if workers > len(batch) {
		workers = len(batch)
	}
	results := make([]*tensor.Volume, len(batch))
	jobs := make(chan int, len(batch))
	for i := range batch {
		jobs <- i
	}
	close(jobs)

	errc := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				sub, err := vol.ExtractWindow(batch[i].Origin, batch[i].Size)
				if err != nil {
					errc <- fmt.Errorf("window construction at %v: %w", batch[i].Origin, err)
					return
				}
				scores, err := p.Predict(sub)
				if err != nil {
					errc <- fmt.Errorf("predictor call at %v: %w", batch[i].Origin, err)
					return
				}
				if err := s.checkOutput(scores); err != nil {
					errc <- err
					return
				}
				results[i] = scores
			}
			errc <- nil
		}()
	}

	var firstErr error
	for w := 0; w < workers; w++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (s *SlidingInferer) checkOutput(scores *tensor.Volume) error {
	if scores.Channels() != s.cfg.NumClasses {
		return errdefs.ShapeMismatchf("predictor call: output has %d classes, configured for %d",
			scores.Channels(), s.cfg.NumClasses)
	}
	if !sameInts(scores.Spatial(), s.cfg.ROI) {
		return errdefs.ShapeMismatchf("predictor call: output spatial shape %v does not match roi %v",
			scores.Spatial(), s.cfg.ROI)
	}
	return nil
}

// padTarget returns the element-wise max of extent and roi, and whether any
// axis actually needs padding.
func padTarget(spatial, roi []int) ([]int, bool) {
	target := append([]int(nil), spatial...)
	need := false
	for a := range roi {
		if roi[a] > spatial[a] {
			target[a] = roi[a]
			need = true
		}
	}
	return target, need
}

func sameInts(a, b []int) bool {
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
