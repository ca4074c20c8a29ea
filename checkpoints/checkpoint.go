// Package checkpoints persists and restores training state. A checkpoint
// is a single serialized record holding model weights, optimizer state,
// scheduler state, the epoch counter, and the best validation metric, so
// a run can resume exactly where it stopped. Writes are atomic:
// write-to-temp-then-rename, never in place.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ParseFormat maps a config string to a checkpoint format.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "", "binary":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatBinary, errdefs.Configurationf("unknown checkpoint format %q (want json or binary)", s)
	}
}

// Checkpoint represents a complete training snapshot: weights, optimizer
// state, scheduler state, and progress metadata.
type Checkpoint struct {
	RunID      string          `json:"run_id"`
	Epoch      int             `json:"epoch"`
	BestMetric float64         `json:"best_metric"`
	Weights    []WeightTensor  `json:"weights"`
	Optimizer  *OptimizerState `json:"optimizer_state,omitempty"`
	Scheduler  *SchedulerState `json:"scheduler_state,omitempty"`
	SavedAt    time.Time       `json:"saved_at"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", "AdamW"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "variance", etc.
}

// SchedulerState captures learning-rate scheduler state. Only the plateau
// scheduler carries mutable fields; the others restore from Name alone.
type SchedulerState struct {
	Name        string  `json:"name"`
	BestMetric  float64 `json:"best_metric"`
	BadEpochs   int     `json:"bad_epochs"`
	CurrentLR   float64 `json:"current_lr"`
	Initialized bool    `json:"initialized"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format   CheckpointFormat
	compress bool
}

// NewCheckpointSaver creates a new checkpoint saver for the specified
// format. When compress is true the serialized record is xz-compressed.
func NewCheckpointSaver(format CheckpointFormat, compress bool) *CheckpointSaver {
	return &CheckpointSaver{
		format:   format,
		compress: compress,
	}
}

// Ext returns the file extension for this saver's format, including the
// compression suffix.
func (cs *CheckpointSaver) Ext() string {
	ext := ".json"
	if cs.format == FormatBinary {
		ext = ".ckpt"
	}
	if cs.compress {
		ext += ".xz"
	}
	return ext
}

// SaveCheckpoint saves a complete checkpoint to path. The record is
// written to a temp file in the target directory, synced, then renamed
// over the destination so a crash never leaves a partial checkpoint.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint write: nil checkpoint")
	}
	if checkpoint.SavedAt.IsZero() {
		checkpoint.SavedAt = time.Now()
	}

	data, err := cs.encode(checkpoint)
	if err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint write: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a checkpoint from path.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint read: %w", err)
	}
	checkpoint, err := cs.decode(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint read %s: %w", path, err)
	}
	return checkpoint, nil
}

func (cs *CheckpointSaver) encode(checkpoint *Checkpoint) ([]byte, error) {
	var data []byte
	var err error
	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatBinary:
		data, err = marshalBinary(checkpoint)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return nil, err
	}
	if cs.compress {
		return compressXZ(data)
	}
	return data, nil
}

func (cs *CheckpointSaver) decode(data []byte) (*Checkpoint, error) {
	if cs.compress {
		var err error
		data, err = decompressXZ(data)
		if err != nil {
			return nil, err
		}
	}
	switch cs.format {
	case FormatJSON:
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("decode json checkpoint: %w", err)
		}
		return &checkpoint, nil
	case FormatBinary:
		return unmarshalBinary(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}
