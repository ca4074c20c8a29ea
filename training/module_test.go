package training

import (
	"testing"

	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

func near(a, b, tol float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func paramByName(t *testing.T, m Module, name string) *tensor.Parameter {
	t.Helper()
	for _, p := range m.Parameters() {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no parameter named %s", name)
	return nil
}

func mustVolume(t *testing.T, shape []int, data []float32) *tensor.Volume {
	t.Helper()
	v, err := tensor.NewVolume(shape, data)
	if err != nil {
		t.Fatalf("NewVolume(%v): %v", shape, err)
	}
	return v
}

func TestNewVoxelClassifierValidation(t *testing.T) {
	tests := []struct {
		name       string
		inChannels int
		numClasses int
		wantErr    bool
	}{
		{"valid", 2, 3, false},
		{"zero channels", 0, 2, true},
		{"negative channels", -1, 2, true},
		{"one class", 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVoxelClassifier(tt.inChannels, tt.numClasses, 1)
			if tt.wantErr {
				if !errdefs.IsConfiguration(err) {
					t.Fatalf("want configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVoxelClassifierDeterministicInit(t *testing.T) {
	a, err := NewVoxelClassifier(3, 4, 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewVoxelClassifier(3, 4, 7)
	if err != nil {
		t.Fatal(err)
	}
	wa := paramByName(t, a, "classifier.weight")
	wb := paramByName(t, b, "classifier.weight")
	for i := range wa.Data {
		if wa.Data[i] != wb.Data[i] {
			t.Fatalf("same seed diverges at weight %d: %v vs %v", i, wa.Data[i], wb.Data[i])
		}
	}

	c, err := NewVoxelClassifier(3, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	wc := paramByName(t, c, "classifier.weight")
	same := true
	for i := range wa.Data {
		if wa.Data[i] != wc.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical weights")
	}

	bias := paramByName(t, a, "classifier.bias")
	for i, v := range bias.Data {
		if v != 0 {
			t.Fatalf("bias[%d] = %v, want zero init", i, v)
		}
	}
}

// setLinear overwrites the classifier with known weights so the arithmetic
// can be checked by hand.
func setLinear(t *testing.T, m Module, weight, bias []float32) {
	t.Helper()
	copy(paramByName(t, m, "classifier.weight").Data, weight)
	copy(paramByName(t, m, "classifier.bias").Data, bias)
}

func TestVoxelClassifierForward(t *testing.T) {
	m, err := NewVoxelClassifier(2, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	setLinear(t, m, []float32{1, 2, 3, 4}, []float32{0.5, -0.5})

	// 2 channels over spatial [1,2]: ch0 = [0.1, 1], ch1 = [0.2, -1].
	input := mustVolume(t, []int{2, 1, 2}, []float32{0.1, 1, 0.2, -1})
	scores, err := m.Forward(input)
	if err != nil {
		t.Fatal(err)
	}

	want := []float32{
		0.5 + 1*0.1 + 2*0.2, 0.5 + 1*1 + 2*-1,
		-0.5 + 3*0.1 + 4*0.2, -0.5 + 3*1 + 4*-1,
	}
	if len(scores.Data) != len(want) {
		t.Fatalf("scores have %d values, want %d", len(scores.Data), len(want))
	}
	for i := range want {
		if !near(scores.Data[i], want[i], 1e-6) {
			t.Fatalf("score[%d] = %v, want %v", i, scores.Data[i], want[i])
		}
	}
}

func TestVoxelClassifierForwardChannelMismatch(t *testing.T) {
	m, err := NewVoxelClassifier(2, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	input := mustVolume(t, []int{3, 1, 2}, make([]float32, 6))
	if _, err := m.Forward(input); !errdefs.IsShapeMismatch(err) {
		t.Fatalf("want shape mismatch, got %v", err)
	}
}

func TestVoxelClassifierBackward(t *testing.T) {
	m, err := NewVoxelClassifier(2, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	setLinear(t, m, []float32{1, 2, 3, 4}, []float32{0.5, -0.5})

	input := mustVolume(t, []int{2, 1, 2}, []float32{0.1, 1, 0.2, -1})
	if _, err := m.Forward(input); err != nil {
		t.Fatal(err)
	}

	grad := mustVolume(t, []int{2, 1, 2}, []float32{1, 0, 0.5, 2})
	if err := m.Backward(grad); err != nil {
		t.Fatal(err)
	}

	wantBias := []float32{1, 2.5}
	wantWeight := []float32{
		1*0.1 + 0*1, 1*0.2 + 0*-1,
		0.5*0.1 + 2*1, 0.5*0.2 + 2*-1,
	}
	biasGrad := paramByName(t, m, "classifier.bias").Grad
	weightGrad := paramByName(t, m, "classifier.weight").Grad
	for i := range wantBias {
		if !near(biasGrad[i], wantBias[i], 1e-6) {
			t.Fatalf("bias grad[%d] = %v, want %v", i, biasGrad[i], wantBias[i])
		}
	}
	for i := range wantWeight {
		if !near(weightGrad[i], wantWeight[i], 1e-6) {
			t.Fatalf("weight grad[%d] = %v, want %v", i, weightGrad[i], wantWeight[i])
		}
	}

	// Gradients accumulate until ZeroGrad.
	if err := m.Backward(grad); err != nil {
		t.Fatal(err)
	}
	for i := range wantWeight {
		if !near(weightGrad[i], 2*wantWeight[i], 1e-6) {
			t.Fatalf("after second backward weight grad[%d] = %v, want %v", i, weightGrad[i], 2*wantWeight[i])
		}
	}
}

func TestVoxelClassifierBackwardShapeChecks(t *testing.T) {
	m, err := NewVoxelClassifier(2, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	input := mustVolume(t, []int{2, 1, 2}, []float32{0.1, 1, 0.2, -1})
	if _, err := m.Forward(input); err != nil {
		t.Fatal(err)
	}

	wrongClasses := mustVolume(t, []int{3, 1, 2}, make([]float32, 6))
	if err := m.Backward(wrongClasses); !errdefs.IsShapeMismatch(err) {
		t.Fatalf("want shape mismatch for class count, got %v", err)
	}
	wrongVoxels := mustVolume(t, []int{2, 1, 3}, make([]float32, 6))
	if err := m.Backward(wrongVoxels); !errdefs.IsShapeMismatch(err) {
		t.Fatalf("want shape mismatch for voxel count, got %v", err)
	}
}

func TestVoxelClassifierBackwardRequiresTrainingForward(t *testing.T) {
	m, err := NewVoxelClassifier(1, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	grad := mustVolume(t, []int{2, 1, 2}, make([]float32, 4))

	if err := m.Backward(grad); !errdefs.IsConfiguration(err) {
		t.Fatalf("backward without forward: want configuration error, got %v", err)
	}

	input := mustVolume(t, []int{1, 1, 2}, []float32{1, 2})
	m.Eval()
	if _, err := m.Forward(input); err != nil {
		t.Fatal(err)
	}
	if err := m.Backward(grad); !errdefs.IsConfiguration(err) {
		t.Fatalf("backward after eval forward: want configuration error, got %v", err)
	}

	m.Train()
	if _, err := m.Forward(input); err != nil {
		t.Fatal(err)
	}
	if err := m.Backward(grad); err != nil {
		t.Fatalf("backward after training forward: %v", err)
	}
}

func TestVoxelClassifierModes(t *testing.T) {
	m, err := NewVoxelClassifier(1, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsTraining() {
		t.Fatal("new classifier should start in training mode")
	}
	m.Eval()
	if m.IsTraining() {
		t.Fatal("Eval did not leave training mode")
	}
	m.Train()
	if !m.IsTraining() {
		t.Fatal("Train did not restore training mode")
	}
}
