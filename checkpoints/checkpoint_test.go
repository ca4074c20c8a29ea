package checkpoints

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testCheckpoint() *Checkpoint {
	weights := []WeightTensor{
		{Name: "classifier.weight", Shape: []int{3, 4}, Data: make([]float32, 12)},
		{Name: "classifier.bias", Shape: []int{3}, Data: make([]float32, 3)},
	}
	for i := range weights[0].Data {
		weights[0].Data[i] = float32(i%100) * 0.01
	}
	for i := range weights[1].Data {
		weights[1].Data[i] = float32(i%10) * 0.1
	}
	return &Checkpoint{
		RunID:      "run-42",
		Epoch:      7,
		BestMetric: 0.8125,
		Weights:    weights,
		Optimizer: &OptimizerState{
			Type: "AdamW",
			Parameters: map[string]interface{}{
				"learning_rate": float64(0.0001),
				"beta1":         float64(0.9),
				"step_count":    float64(350),
			},
			StateData: []OptimizerTensor{
				{Name: "momentum_0", Shape: []int{3, 4}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, StateType: "momentum"},
				{Name: "variance_0", Shape: []int{3, 4}, Data: []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.1, 1.2}, StateType: "variance"},
			},
		},
		Scheduler: &SchedulerState{
			Name:        "plateau",
			BestMetric:  0.8125,
			BadEpochs:   2,
			CurrentLR:   0.00005,
			Initialized: true,
		},
		SavedAt: time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC),
	}
}

func requireCheckpointEqual(t *testing.T, want, got *Checkpoint) {
	t.Helper()
	require.Equal(t, want.RunID, got.RunID)
	require.Equal(t, want.Epoch, got.Epoch)
	require.Equal(t, want.BestMetric, got.BestMetric)
	require.Equal(t, want.Weights, got.Weights)
	require.Equal(t, want.Optimizer, got.Optimizer)
	require.Equal(t, want.Scheduler, got.Scheduler)
	require.True(t, want.SavedAt.Equal(got.SavedAt), "saved_at mismatch: want %v, got %v", want.SavedAt, got.SavedAt)
}

func TestCheckpointRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		format   CheckpointFormat
		compress bool
	}{
		{"json", FormatJSON, false},
		{"json_xz", FormatJSON, true},
		{"binary", FormatBinary, false},
		{"binary_xz", FormatBinary, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := NewCheckpointSaver(tt.format, tt.compress)
			path := filepath.Join(t.TempDir(), "ckpt"+saver.Ext())

			want := testCheckpoint()
			require.NoError(t, saver.SaveCheckpoint(want, path))

			got, err := saver.LoadCheckpoint(path)
			require.NoError(t, err)
			requireCheckpointEqual(t, want, got)
		})
	}
}

func TestSaverExt(t *testing.T) {
	tests := []struct {
		format   CheckpointFormat
		compress bool
		want     string
	}{
		{FormatJSON, false, ".json"},
		{FormatJSON, true, ".json.xz"},
		{FormatBinary, false, ".ckpt"},
		{FormatBinary, true, ".ckpt.xz"},
	}
	for _, tt := range tests {
		got := NewCheckpointSaver(tt.format, tt.compress).Ext()
		if got != tt.want {
			t.Errorf("Ext(%v, compress=%v) = %q, want %q", tt.format, tt.compress, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckpointFormat
		wantErr bool
	}{
		{"", FormatBinary, false},
		{"binary", FormatBinary, false},
		{"json", FormatJSON, false},
		{"onnx", FormatBinary, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	saver := NewCheckpointSaver(FormatBinary, false)
	path := filepath.Join(dir, "latest"+saver.Ext())

	first := testCheckpoint()
	require.NoError(t, saver.SaveCheckpoint(first, path))

	second := testCheckpoint()
	second.Epoch = 8
	second.BestMetric = 0.85
	require.NoError(t, saver.SaveCheckpoint(second, path))

	got, err := saver.LoadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, 8, got.Epoch)

	// No temp files may survive a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	tests := []struct {
		name  string
		saver *CheckpointSaver
		data  []byte
	}{
		{"truncated binary", NewCheckpointSaver(FormatBinary, false), []byte{0x09}},
		{"bad json", NewCheckpointSaver(FormatJSON, false), []byte("not json at all")},
		{"bad xz stream", NewCheckpointSaver(FormatBinary, true), []byte("not an xz stream")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ckpt")
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))
			_, err := tt.saver.LoadCheckpoint(path)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	saver := NewCheckpointSaver(FormatBinary, false)
	_, err := saver.LoadCheckpoint(filepath.Join(t.TempDir(), "nope.ckpt"))
	require.Error(t, err)
}

func TestSaveFillsSavedAt(t *testing.T) {
	saver := NewCheckpointSaver(FormatJSON, false)
	path := filepath.Join(t.TempDir(), "ckpt.json")

	cp := testCheckpoint()
	cp.SavedAt = time.Time{}
	require.NoError(t, saver.SaveCheckpoint(cp, path))

	got, err := saver.LoadCheckpoint(path)
	require.NoError(t, err)
	require.False(t, got.SavedAt.IsZero())
}

func TestStoreLatestAndBest(t *testing.T) {
	dir := t.TempDir()
	saver := NewCheckpointSaver(FormatBinary, true)
	store, err := NewStore(dir, saver, logs.NewTestingLog(t))
	require.NoError(t, err)

	require.False(t, store.HasLatest())
	_, err = store.LoadLatest()
	require.Error(t, err)

	latest := testCheckpoint()
	require.NoError(t, store.SaveLatest(latest))
	require.True(t, store.HasLatest())

	best := testCheckpoint()
	best.Epoch = 9
	best.BestMetric = 0.91
	require.NoError(t, store.SaveBest(best))

	gotLatest, err := store.LoadLatest()
	require.NoError(t, err)
	require.Equal(t, 7, gotLatest.Epoch)

	gotBest, err := store.LoadBest()
	require.NoError(t, err)
	require.Equal(t, 9, gotBest.Epoch)
	require.Equal(t, 0.91, gotBest.BestMetric)

	gotPath, err := store.LoadPath(store.BestPath())
	require.NoError(t, err)
	require.Equal(t, 0.91, gotPath.BestMetric)
}

func TestStoreValidation(t *testing.T) {
	logger := logs.NewTestingLog(t)
	saver := NewCheckpointSaver(FormatBinary, false)

	if _, err := NewStore("", saver, logger); err == nil {
		t.Error("NewStore with empty dir should return error")
	}
	if _, err := NewStore(t.TempDir(), nil, logger); err == nil {
		t.Error("NewStore with nil saver should return error")
	}
}
