// Package config defines the run configuration shared by the training and
// inference CLIs. A config file only needs to name the fields it changes;
// everything else keeps its default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

// RunConfig collects every knob of a training or inference run.
type RunConfig struct {
	// Sliding-window inference.
	ROISize     []int   `yaml:"roi_size" json:"roi_size"`
	Overlap     float64 `yaml:"overlap" json:"overlap"`
	SWBatchSize int     `yaml:"sw_batch_size" json:"sw_batch_size"`

	// Training loop.
	BatchSize     int     `yaml:"batch_size" json:"batch_size"`
	MaxEpochs     int     `yaml:"max_epochs" json:"max_epochs"`
	ValInterval   int     `yaml:"val_interval" json:"val_interval"`
	ValMaxBatches int     `yaml:"val_max_batches" json:"val_max_batches"`
	LearningRate  float64 `yaml:"learning_rate" json:"learning_rate"`
	WeightDecay   float64 `yaml:"weight_decay" json:"weight_decay"`
	Optimizer     string  `yaml:"optimizer" json:"optimizer"`
	Scheduler     string  `yaml:"scheduler" json:"scheduler"`

	// Precision and augmentation.
	UseMixedPrecision bool    `yaml:"use_mixed_precision" json:"use_mixed_precision"`
	UseTTA            bool    `yaml:"use_tta" json:"use_tta"`
	TTAFlips          [][]int `yaml:"tta_flips" json:"tta_flips"`

	// Stability.
	GradientClipMaxNorm float64 `yaml:"gradient_clip_max_norm" json:"gradient_clip_max_norm"`
	EarlyStopPatience   int     `yaml:"early_stop_patience" json:"early_stop_patience"`

	// Checkpointing. An empty CheckpointDir disables persistence.
	CheckpointDir       string `yaml:"checkpoint_dir" json:"checkpoint_dir"`
	CheckpointFormat    string `yaml:"checkpoint_format" json:"checkpoint_format"`
	CompressCheckpoints bool   `yaml:"compress_checkpoints" json:"compress_checkpoints"`

	// Model surface.
	NumClasses int   `yaml:"num_classes" json:"num_classes"`
	InChannels int   `yaml:"in_channels" json:"in_channels"`
	Seed       int64 `yaml:"seed" json:"seed"`
}

// DefaultRunConfig mirrors the settings the system ships with: a 96-cube
// window at half overlap, AdamW with cosine annealing, mixed precision on,
// TTA off during training-time validation.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ROISize:           []int{96, 96, 96},
		Overlap:           0.5,
		SWBatchSize:       4,
		BatchSize:         2,
		MaxEpochs:         100,
		ValInterval:       1,
		LearningRate:      1e-4,
		WeightDecay:       1e-5,
		Optimizer:         "adamw",
		Scheduler:         "cosine",
		UseMixedPrecision: true,
		CheckpointFormat:  "binary",
		NumClasses:        2,
		InChannels:        4,
		Seed:              42,
	}
}

// Load reads a YAML or JSON config file on top of the defaults and
// validates the result. The extension picks the codec: .json is JSON,
// everything else is parsed as YAML.
func Load(path string) (*RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultRunConfig()
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errdefs.Configurationf("parse %s: %v", path, err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errdefs.Configurationf("parse %s: %v", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with. The error names
// the offending field.
func (c *RunConfig) Validate() error {
	if len(c.ROISize) < 2 || len(c.ROISize) > 3 {
		return errdefs.Configurationf("roi_size must have 2 or 3 dims, got %d", len(c.ROISize))
	}
	for _, ext := range c.ROISize {
		if ext <= 0 {
			return errdefs.Configurationf("roi_size extents must be positive, got %v", c.ROISize)
		}
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		return errdefs.Configurationf("overlap must be in [0, 1), got %g", c.Overlap)
	}
	if c.SWBatchSize < 1 {
		return errdefs.Configurationf("sw_batch_size must be at least 1, got %d", c.SWBatchSize)
	}
	if c.BatchSize < 1 {
		return errdefs.Configurationf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxEpochs < 1 {
		return errdefs.Configurationf("max_epochs must be at least 1, got %d", c.MaxEpochs)
	}
	if c.ValInterval < 0 {
		return errdefs.Configurationf("val_interval cannot be negative, got %d", c.ValInterval)
	}
	if c.ValMaxBatches < 0 {
		return errdefs.Configurationf("val_max_batches cannot be negative, got %d", c.ValMaxBatches)
	}
	if c.LearningRate <= 0 {
		return errdefs.Configurationf("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return errdefs.Configurationf("weight_decay cannot be negative, got %g", c.WeightDecay)
	}
	switch c.Optimizer {
	case "sgd", "adam", "adamw", "rmsprop":
	default:
		return errdefs.Configurationf("unknown optimizer %q (want sgd, adam, adamw or rmsprop)", c.Optimizer)
	}
	switch c.Scheduler {
	case "", "none", "cosine", "step", "exponential", "plateau":
	default:
		return errdefs.Configurationf("unknown scheduler %q (want none, cosine, step, exponential or plateau)", c.Scheduler)
	}
	for _, axes := range c.TTAFlips {
		for _, a := range axes {
			if a < 0 || a >= len(c.ROISize) {
				return errdefs.Configurationf("tta_flips axis %d out of range for %d spatial dims", a, len(c.ROISize))
			}
		}
	}
	if c.GradientClipMaxNorm < 0 {
		return errdefs.Configurationf("gradient_clip_max_norm cannot be negative, got %g", c.GradientClipMaxNorm)
	}
	if c.EarlyStopPatience < 0 {
		return errdefs.Configurationf("early_stop_patience cannot be negative, got %d", c.EarlyStopPatience)
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	if c.NumClasses < 2 {
		return errdefs.Configurationf("num_classes must be at least 2, got %d", c.NumClasses)
	}
	if c.InChannels < 1 {
		return errdefs.Configurationf("in_channels must be at least 1, got %d", c.InChannels)
	}
	return nil
}
