package dataset

import (
	"testing"

	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

func TestSyntheticSpheresDeterministic(t *testing.T) {
	cfg := DefaultSyntheticSpheresConfig()
	cfg.Samples = 3
	cfg.Spatial = []int{16, 16, 16}
	ds, err := NewSyntheticSpheres(cfg)
	if err != nil {
		t.Fatalf("NewSyntheticSpheres: %v", err)
	}

	first, err := ds.At(1)
	if err != nil {
		t.Fatalf("At(1): %v", err)
	}
	// Access another index in between; samples must not depend on order.
	if _, err := ds.At(0); err != nil {
		t.Fatalf("At(0): %v", err)
	}
	second, err := ds.At(1)
	if err != nil {
		t.Fatalf("At(1) again: %v", err)
	}

	if !tensor.AllClose(first.Image, second.Image, 0) {
		t.Error("repeated At(1) produced different images")
	}
	if !first.Label.Equal(second.Label) {
		t.Error("repeated At(1) produced different labels")
	}

	other, err := ds.At(2)
	if err != nil {
		t.Fatalf("At(2): %v", err)
	}
	if first.Label.Equal(other.Label) {
		t.Error("distinct indices produced identical labels")
	}
}

func TestSyntheticSpheresLabelsInRange(t *testing.T) {
	cfg := DefaultSyntheticSpheresConfig()
	cfg.Samples = 4
	cfg.Spatial = []int{12, 12, 12}
	cfg.NumClasses = 4
	ds, err := NewSyntheticSpheres(cfg)
	if err != nil {
		t.Fatalf("NewSyntheticSpheres: %v", err)
	}

	for i := 0; i < ds.Len(); i++ {
		sample, err := ds.At(i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		foreground := 0
		for _, cls := range sample.Label.Data {
			if cls < 0 || cls >= int32(cfg.NumClasses) {
				t.Fatalf("sample %d: label %d out of range [0, %d)", i, cls, cfg.NumClasses)
			}
			if cls != 0 {
				foreground++
			}
		}
		if foreground == 0 {
			t.Errorf("sample %d has no foreground voxels", i)
		}
	}
}

func TestSyntheticSpheres2D(t *testing.T) {
	cfg := DefaultSyntheticSpheresConfig()
	cfg.Samples = 2
	cfg.Spatial = []int{24, 24}
	ds, err := NewSyntheticSpheres(cfg)
	if err != nil {
		t.Fatalf("NewSyntheticSpheres: %v", err)
	}
	sample, err := ds.At(0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if sample.Image.SpatialRank() != 2 {
		t.Errorf("spatial rank = %d, want 2", sample.Image.SpatialRank())
	}
	if sample.Label.VoxelCount() != 24*24 {
		t.Errorf("label voxels = %d, want %d", sample.Label.VoxelCount(), 24*24)
	}
}

func TestSyntheticSpheresTransformApplied(t *testing.T) {
	cfg := DefaultSyntheticSpheresConfig()
	cfg.Samples = 1
	cfg.Spatial = []int{8, 8}
	plain, err := NewSyntheticSpheres(cfg)
	if err != nil {
		t.Fatalf("NewSyntheticSpheres: %v", err)
	}

	cfg.Transform = ScaleIntensityRange{InMin: 0, InMax: 1, OutMin: 0, OutMax: 10}
	scaled, err := NewSyntheticSpheres(cfg)
	if err != nil {
		t.Fatalf("NewSyntheticSpheres with transform: %v", err)
	}

	a, err := plain.At(0)
	if err != nil {
		t.Fatalf("plain At(0): %v", err)
	}
	b, err := scaled.At(0)
	if err != nil {
		t.Fatalf("scaled At(0): %v", err)
	}
	for i := range a.Image.Data {
		want := a.Image.Data[i] * 10
		if diff := b.Image.Data[i] - want; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("voxel %d: transformed %f, want %f", i, b.Image.Data[i], want)
		}
	}
}

func TestNewSyntheticSpheresValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyntheticSpheresConfig)
	}{
		{"zero samples", func(c *SyntheticSpheresConfig) { c.Samples = 0 }},
		{"zero channels", func(c *SyntheticSpheresConfig) { c.Channels = 0 }},
		{"rank 1 spatial", func(c *SyntheticSpheresConfig) { c.Spatial = []int{16} }},
		{"rank 4 spatial", func(c *SyntheticSpheresConfig) { c.Spatial = []int{4, 4, 4, 4} }},
		{"zero extent", func(c *SyntheticSpheresConfig) { c.Spatial = []int{16, 0, 16} }},
		{"one class", func(c *SyntheticSpheresConfig) { c.NumClasses = 1 }},
		{"zero spheres", func(c *SyntheticSpheresConfig) { c.MaxSpheres = 0 }},
		{"negative noise", func(c *SyntheticSpheresConfig) { c.Noise = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSyntheticSpheresConfig()
			tt.mutate(&cfg)
			if _, err := NewSyntheticSpheres(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSyntheticSpheresIndexOutOfRange(t *testing.T) {
	ds, err := NewSyntheticSpheres(DefaultSyntheticSpheresConfig())
	if err != nil {
		t.Fatalf("NewSyntheticSpheres: %v", err)
	}
	if _, err := ds.At(-1); err == nil {
		t.Error("At(-1) should fail")
	}
	if _, err := ds.At(ds.Len()); err == nil {
		t.Error("At(Len()) should fail")
	}
}
