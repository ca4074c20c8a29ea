package optimizer

import (
	"encoding/json"
	"testing"

	"github.com/chewxy/math32"
	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

func TestDefaultRMSPropConfig(t *testing.T) {
	config := DefaultRMSPropConfig()
	if config.LearningRate != 0.01 {
		t.Errorf("LearningRate = %f, want 0.01", config.LearningRate)
	}
	if config.Alpha != 0.99 {
		t.Errorf("Alpha = %f, want 0.99", config.Alpha)
	}
	if config.Centered {
		t.Error("Centered = true, want false")
	}
}

func TestNewRMSPropValidation(t *testing.T) {
	shapes := [][]int{{2}}
	tests := []struct {
		name   string
		config RMSPropConfig
		shapes [][]int
	}{
		{"negative lr", RMSPropConfig{LearningRate: -1, Alpha: 0.99, Epsilon: 1e-8}, shapes},
		{"alpha out of range", RMSPropConfig{LearningRate: 0.01, Alpha: 1.0, Epsilon: 1e-8}, shapes},
		{"zero epsilon", RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 0}, shapes},
		{"negative momentum", RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8, Momentum: -0.5}, shapes},
		{"no shapes", DefaultRMSPropConfig(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRMSPropOptimizer(tt.config, tt.shapes); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRMSPropFirstStep(t *testing.T) {
	config := DefaultRMSPropConfig()
	rmsprop, err := NewRMSPropOptimizer(config, [][]int{{1}})
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}

	p, _ := tensor.NewParameter("w", []int{1})
	p.Data[0] = 1.0
	p.Grad[0] = 1.0

	if err := rmsprop.Step([]*tensor.Parameter{p}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// sq = (1-0.99)*1 = 0.01, denom = sqrt(0.01)+eps = 0.1,
	// w = 1 - 0.01*(1/0.1) = 0.9
	want := 1 - config.LearningRate*(1/(math32.Sqrt(1-config.Alpha)+config.Epsilon))
	if absDiff(p.Data[0], want) > 1e-6 {
		t.Errorf("after step w = %f, want %f", p.Data[0], want)
	}
	if absDiff(rmsprop.SquaredGradAvgBuffers[0][0], 0.01) > 1e-7 {
		t.Errorf("squared grad avg = %f, want 0.01", rmsprop.SquaredGradAvgBuffers[0][0])
	}
}

func TestRMSPropCenteredDenominator(t *testing.T) {
	config := DefaultRMSPropConfig()
	config.Centered = true
	rmsprop, err := NewRMSPropOptimizer(config, [][]int{{1}})
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}
	if rmsprop.GradientAvgBuffers == nil {
		t.Fatal("centered optimizer must allocate gradient average buffers")
	}

	plain, err := NewRMSPropOptimizer(DefaultRMSPropConfig(), [][]int{{1}})
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}

	onCentered, _ := tensor.NewParameter("w", []int{1})
	onCentered.Data[0] = 1.0
	onCentered.Grad[0] = 1.0
	onPlain, _ := tensor.NewParameter("w", []int{1})
	onPlain.Data[0] = 1.0
	onPlain.Grad[0] = 1.0

	if err := rmsprop.Step([]*tensor.Parameter{onCentered}); err != nil {
		t.Fatalf("centered step: %v", err)
	}
	if err := plain.Step([]*tensor.Parameter{onPlain}); err != nil {
		t.Fatalf("plain step: %v", err)
	}

	// Subtracting the gradient mean shrinks the denominator, so the
	// centered update must be strictly larger.
	centeredStep := 1 - onCentered.Data[0]
	plainStep := 1 - onPlain.Data[0]
	if centeredStep <= plainStep {
		t.Errorf("centered step %f not larger than plain step %f", centeredStep, plainStep)
	}
}

func TestRMSPropMomentumAccumulates(t *testing.T) {
	config := DefaultRMSPropConfig()
	config.Momentum = 0.9
	rmsprop, err := NewRMSPropOptimizer(config, [][]int{{1}})
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}
	if rmsprop.MomentumBuffers == nil {
		t.Fatal("momentum optimizer must allocate momentum buffers")
	}

	plain, err := NewRMSPropOptimizer(DefaultRMSPropConfig(), [][]int{{1}})
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}

	withMomentum, _ := tensor.NewParameter("w", []int{1})
	withMomentum.Data[0] = 5.0
	without, _ := tensor.NewParameter("w", []int{1})
	without.Data[0] = 5.0

	// Constant gradient: momentum should cover more distance over steps.
	for i := 0; i < 5; i++ {
		withMomentum.Grad[0] = 1.0
		without.Grad[0] = 1.0
		if err := rmsprop.Step([]*tensor.Parameter{withMomentum}); err != nil {
			t.Fatalf("momentum step %d: %v", i, err)
		}
		if err := plain.Step([]*tensor.Parameter{without}); err != nil {
			t.Fatalf("plain step %d: %v", i, err)
		}
	}

	if 5-withMomentum.Data[0] <= 5-without.Data[0] {
		t.Errorf("momentum trajectory %f did not outpace plain %f", withMomentum.Data[0], without.Data[0])
	}
}

func TestRMSPropStateRoundTrip(t *testing.T) {
	shapes := [][]int{{3}}
	config := RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8, Momentum: 0.9, Centered: true}

	first, err := NewRMSPropOptimizer(config, shapes)
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}

	params := testParams(t, shapes, 0.5)
	for i := 0; i < 4; i++ {
		if err := first.Step(params); err != nil {
			t.Fatalf("warmup step %d: %v", i, err)
		}
	}

	state, err := first.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	// squared_grad_avg + momentum + grad_avg
	if len(state.StateData) != 3 {
		t.Fatalf("state tensors = %d, want 3", len(state.StateData))
	}

	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	var restoredState checkpoints.OptimizerState
	if err := json.Unmarshal(raw, &restoredState); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}

	second, err := NewRMSPropOptimizer(config, shapes)
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}
	if err := second.LoadState(&restoredState); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	onFirst := cloneParams(params)
	onSecond := cloneParams(params)
	if err := first.Step(onFirst); err != nil {
		t.Fatalf("first continued step: %v", err)
	}
	if err := second.Step(onSecond); err != nil {
		t.Fatalf("second continued step: %v", err)
	}
	for i := range onFirst[0].Data {
		if onFirst[0].Data[i] != onSecond[0].Data[i] {
			t.Fatalf("index %d: uninterrupted %f vs restored %f", i, onFirst[0].Data[i], onSecond[0].Data[i])
		}
	}
}
