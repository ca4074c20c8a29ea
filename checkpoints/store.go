package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// Store manages the two named checkpoint variants in a run directory:
// "latest", rewritten after every epoch, and "best", rewritten only when
// the validation metric strictly improves. A crash therefore never loses
// more than one epoch of progress.
type Store struct {
	dir   string
	saver *CheckpointSaver
	log   logs.Log
}

// NewStore creates the run directory if needed and returns a store
// writing checkpoints into it.
func NewStore(dir string, saver *CheckpointSaver, logger logs.Log) (*Store, error) {
	if dir == "" {
		return nil, errdefs.Configurationf("checkpoint directory must not be empty")
	}
	if saver == nil {
		return nil, errdefs.Configurationf("checkpoint saver must not be nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint write: create directory %s: %w", dir, err)
	}
	return &Store{dir: dir, saver: saver, log: logger}, nil
}

// LatestPath returns the on-disk path of the "latest" checkpoint.
func (s *Store) LatestPath() string {
	return filepath.Join(s.dir, "latest"+s.saver.Ext())
}

// BestPath returns the on-disk path of the "best" checkpoint.
func (s *Store) BestPath() string {
	return filepath.Join(s.dir, "best"+s.saver.Ext())
}

// SaveLatest writes the per-epoch checkpoint.
func (s *Store) SaveLatest(cp *Checkpoint) error {
	if err := s.saver.SaveCheckpoint(cp, s.LatestPath()); err != nil {
		return err
	}
	s.log.Debugf("Saved latest checkpoint for epoch %v to %v", cp.Epoch, s.LatestPath())
	return nil
}

// SaveBest writes the best-metric checkpoint.
func (s *Store) SaveBest(cp *Checkpoint) error {
	if err := s.saver.SaveCheckpoint(cp, s.BestPath()); err != nil {
		return err
	}
	s.log.Infof("Saved best checkpoint (metric %.4f) for epoch %v to %v", cp.BestMetric, cp.Epoch, s.BestPath())
	return nil
}

// HasLatest reports whether a "latest" checkpoint exists on disk.
func (s *Store) HasLatest() bool {
	_, err := os.Stat(s.LatestPath())
	return err == nil
}

// LoadLatest loads the "latest" checkpoint.
func (s *Store) LoadLatest() (*Checkpoint, error) {
	return s.saver.LoadCheckpoint(s.LatestPath())
}

// LoadBest loads the "best" checkpoint.
func (s *Store) LoadBest() (*Checkpoint, error) {
	return s.saver.LoadCheckpoint(s.BestPath())
}

// LoadPath loads a checkpoint from an explicit path, e.g. a --resume flag.
func (s *Store) LoadPath(path string) (*Checkpoint, error) {
	return s.saver.LoadCheckpoint(path)
}
