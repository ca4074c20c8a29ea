package training

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/hkevin01/tumor-detection-segmentation/dataset"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// Batch is an ordered group of samples drawn from a dataset.
type Batch struct {
	Samples []dataset.Sample
	Indices []int
}

func (b Batch) Size() int { return len(b.Samples) }

// BatchResult carries either a batch or a load failure through the
// prefetch channel.
type BatchResult struct {
	Batch Batch
	Err   error
}

// LoaderConfig controls batching and sample order.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
}

// Loader groups dataset samples into batches and prefetches them on a
// background goroutine. The sample order for an epoch is a pure function of
// (seed, epoch), so a resumed run sees exactly the sequence an uninterrupted
// run would have seen.
type Loader struct {
	ds  dataset.Dataset
	cfg LoaderConfig

	mu    sync.Mutex
	order []int
}

func NewLoader(ds dataset.Dataset, cfg LoaderConfig) (*Loader, error) {
	if ds == nil {
		return nil, errdefs.Configurationf("loader needs a dataset")
	}
	if ds.Len() == 0 {
		return nil, errdefs.Configurationf("dataset is empty")
	}
	if cfg.BatchSize <= 0 {
		return nil, errdefs.Configurationf("batch size must be positive, got %d", cfg.BatchSize)
	}
	l := &Loader{ds: ds, cfg: cfg}
	l.ResetFor(0)
	return l, nil
}

// Len returns the number of samples per epoch.
func (l *Loader) Len() int { return l.ds.Len() }

// Batches returns the number of batches per epoch. The final batch may be
// short.
func (l *Loader) Batches() int {
	return (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// ResetFor rebuilds the sample order for the given epoch. Shuffling always
// starts from the identity order, never from the previous epoch's
// permutation, so the order depends only on the seed and the epoch number.
func (l *Loader) ResetFor(epoch int) {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		rng := rand.New(rand.NewSource(l.cfg.Seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	l.mu.Lock()
	l.order = order
	l.mu.Unlock()
}

// Iterate streams the epoch's batches. Samples are loaded on a producer
// goroutine so the next batch is usually ready before the consumer asks for
// it. The channel is closed after the last batch or after the first load
// error. Callers that stop consuming early must cancel ctx, otherwise the
// producer goroutine leaks.
func (l *Loader) Iterate(ctx context.Context) <-chan BatchResult {
	l.mu.Lock()
	order := make([]int, len(l.order))
	copy(order, l.order)
	l.mu.Unlock()

	out := make(chan BatchResult, 2)
	go func() {
		defer close(out)
		for start := 0; start < len(order); start += l.cfg.BatchSize {
			end := start + l.cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := Batch{
				Samples: make([]dataset.Sample, 0, end-start),
				Indices: make([]int, 0, end-start),
			}
			for _, idx := range order[start:end] {
				if ctx.Err() != nil {
					return
				}
				sample, err := l.ds.At(idx)
				if err != nil {
					res := BatchResult{Err: fmt.Errorf("load sample %d: %w", idx, err)}
					select {
					case out <- res:
					case <-ctx.Done():
					}
					return
				}
				batch.Samples = append(batch.Samples, sample)
				batch.Indices = append(batch.Indices, idx)
			}
			select {
			case out <- BatchResult{Batch: batch}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
