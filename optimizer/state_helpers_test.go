package optimizer

import (
	"testing"
)

func TestPackRestoreBufferState(t *testing.T) {
	buf := []float32{0.1, -0.2, 0.3, 0.0}
	packed := packBufferState(buf, "momentum_0", "momentum")

	if packed.Name != "momentum_0" {
		t.Errorf("Name = %q, want momentum_0", packed.Name)
	}
	if packed.StateType != "momentum" {
		t.Errorf("StateType = %q, want momentum", packed.StateType)
	}
	if len(packed.Shape) != 1 || packed.Shape[0] != 4 {
		t.Errorf("Shape = %v, want [4]", packed.Shape)
	}

	// Packed data is a copy, not an alias.
	packed.Data[0] = 99
	if buf[0] != 0.1 {
		t.Error("packBufferState aliased the source buffer")
	}
	packed.Data[0] = 0.1

	target := make([]float32, 4)
	if err := restoreBufferState(packed, target); err != nil {
		t.Fatalf("restoreBufferState: %v", err)
	}
	for i := range buf {
		if target[i] != buf[i] {
			t.Errorf("target[%d] = %f, want %f", i, target[i], buf[i])
		}
	}
}

func TestRestoreBufferStateSizeMismatch(t *testing.T) {
	packed := packBufferState([]float32{1, 2, 3}, "variance_0", "variance")
	target := make([]float32, 5)
	if err := restoreBufferState(packed, target); err == nil {
		t.Error("expected size mismatch error, got nil")
	}
}

func TestRestoreBufferStateNilTarget(t *testing.T) {
	packed := packBufferState([]float32{1}, "momentum_0", "momentum")
	if err := restoreBufferState(packed, nil); err == nil {
		t.Error("expected nil buffer error, got nil")
	}
}

func TestZeroBuffers(t *testing.T) {
	buffers := zeroBuffers([][]int{{2, 3}, {5}})
	if len(buffers) != 2 {
		t.Fatalf("buffer count = %d, want 2", len(buffers))
	}
	if len(buffers[0]) != 6 {
		t.Errorf("buffers[0] len = %d, want 6", len(buffers[0]))
	}
	if len(buffers[1]) != 5 {
		t.Errorf("buffers[1] len = %d, want 5", len(buffers[1]))
	}
	for i, buf := range buffers {
		for j, v := range buf {
			if v != 0 {
				t.Errorf("buffers[%d][%d] = %f, want 0", i, j, v)
			}
		}
	}
}

func TestCalculateTensorSize(t *testing.T) {
	tests := []struct {
		shape []int
		want  int
	}{
		{[]int{4}, 4},
		{[]int{2, 3}, 6},
		{[]int{2, 3, 4, 5}, 120},
		{[]int{}, 1},
	}
	for _, tt := range tests {
		if got := calculateTensorSize(tt.shape); got != tt.want {
			t.Errorf("calculateTensorSize(%v) = %d, want %d", tt.shape, got, tt.want)
		}
	}
}
