package training

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// History retains epoch records in memory. It implements MetricSink so it
// can sit alongside the log and file sinks.
type History struct {
	mu      sync.Mutex
	records []EpochRecord
}

func NewHistory() *History { return &History{} }

func (h *History) RecordEpoch(rec EpochRecord) error {
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (h *History) Records() []EpochRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EpochRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Summary condenses a run. BestEpoch is zero when no epoch was validated.
type Summary struct {
	Epochs     int
	Validated  int
	MeanLoss   float64
	BestEpoch  int
	BestMetric float64
}

func (h *History) Summary() (Summary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return Summary{}, errdefs.Configurationf("history is empty")
	}
	losses := make([]float64, 0, len(h.records))
	sum := Summary{Epochs: len(h.records)}
	best := -1.0
	for _, rec := range h.records {
		losses = append(losses, rec.TrainLoss)
		if rec.ValMetric == nil {
			continue
		}
		sum.Validated++
		if *rec.ValMetric > best {
			best = *rec.ValMetric
			sum.BestEpoch = rec.Epoch
			sum.BestMetric = *rec.ValMetric
		}
	}
	sum.MeanLoss = stat.Mean(losses, nil)
	return sum, nil
}
