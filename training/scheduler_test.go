package training

import (
	"math"
	"testing"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
)

func TestStepLRSchedule(t *testing.T) {
	s := NewStepLRScheduler(30, 0.1)
	tests := []struct {
		epoch int
		want  float64
	}{
		{0, 0.1},
		{29, 0.1},
		{30, 0.01},
		{59, 0.01},
		{60, 0.001},
	}
	for _, tt := range tests {
		if got := s.GetLR(tt.epoch, 0, 0.1); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("epoch %d: lr %v, want %v", tt.epoch, got, tt.want)
		}
	}
}

func TestExponentialLRSchedule(t *testing.T) {
	s := NewExponentialLRScheduler(0.95)
	for _, epoch := range []int{0, 1, 5, 50} {
		want := 0.01 * math.Pow(0.95, float64(epoch))
		if got := s.GetLR(epoch, 0, 0.01); math.Abs(got-want) > 1e-12 {
			t.Fatalf("epoch %d: lr %v, want %v", epoch, got, want)
		}
	}
}

func TestCosineAnnealingEndpoints(t *testing.T) {
	s := NewCosineAnnealingLRScheduler(100, 1e-6)
	base := 0.1

	if got := s.GetLR(0, 0, base); math.Abs(got-base) > 1e-12 {
		t.Fatalf("epoch 0: lr %v, want baseLR %v", got, base)
	}
	mid := 1e-6 + (base-1e-6)/2
	if got := s.GetLR(50, 0, base); math.Abs(got-mid) > 1e-9 {
		t.Fatalf("midpoint: lr %v, want %v", got, mid)
	}
	for _, epoch := range []int{100, 150} {
		if got := s.GetLR(epoch, 0, base); got != 1e-6 {
			t.Fatalf("epoch %d: lr %v, want eta_min", epoch, got)
		}
	}
}

func TestSchedulerConstructorDefaults(t *testing.T) {
	step := NewStepLRScheduler(0, 5)
	if step.StepSize != 30 || step.Gamma != 0.1 {
		t.Fatalf("StepLR defaults: %+v", step)
	}
	cos := NewCosineAnnealingLRScheduler(-1, -1)
	if cos.TMax != 100 || cos.EtaMin != 0 {
		t.Fatalf("CosineAnnealingLR defaults: %+v", cos)
	}
	exp := NewExponentialLRScheduler(1.5)
	if exp.Gamma != 0.95 {
		t.Fatalf("ExponentialLR default gamma: %v", exp.Gamma)
	}
	plat := NewReduceLROnPlateauScheduler(2, 0, -1, "sideways")
	if plat.Factor != 0.1 || plat.Patience != 10 || plat.Threshold != 1e-4 || plat.Mode != "min" {
		t.Fatalf("ReduceLROnPlateau defaults: %+v", plat)
	}
}

func TestReduceLROnPlateauMaxMode(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(0.5, 2, 0, "max")

	if got := s.Step(0.5, 0.1); got != 0.1 {
		t.Fatalf("first step returned %v, want initial lr", got)
	}
	if got := s.Step(0.6, 0.1); got != 0.1 {
		t.Fatalf("improvement changed lr to %v", got)
	}
	// Equal metric does not count as improvement.
	if got := s.Step(0.6, 0.1); got != 0.1 {
		t.Fatalf("first bad epoch changed lr to %v", got)
	}
	if got := s.Step(0.55, 0.1); got != 0.05 {
		t.Fatalf("after patience exhausted lr = %v, want 0.05", got)
	}
	if got := s.GetLR(99, 0, 0.1); got != 0.05 {
		t.Fatalf("GetLR after reduction = %v, want tracked lr", got)
	}
	// The bad-epoch counter restarts after a reduction.
	if got := s.Step(0.55, 0.1); got != 0.05 {
		t.Fatalf("single bad epoch after reduction changed lr to %v", got)
	}
}

func TestNoOpScheduler(t *testing.T) {
	s := &NoOpScheduler{}
	for _, epoch := range []int{0, 10, 1000} {
		if got := s.GetLR(epoch, 0, 0.02); got != 0.02 {
			t.Fatalf("epoch %d: lr %v, want constant", epoch, got)
		}
	}
	if s.GetName() != "ConstantLR" {
		t.Fatalf("name %q", s.GetName())
	}
}

func TestNewSchedulerForRun(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"", "ConstantLR", false},
		{"none", "ConstantLR", false},
		{"cosine", "CosineAnnealingLR", false},
		{"step", "StepLR", false},
		{"exponential", "ExponentialLR", false},
		{"plateau", "ReduceLROnPlateau", false},
		{"linear", "", true},
	}
	for _, tt := range tests {
		s, err := NewSchedulerForRun(tt.name, 50)
		if tt.wantErr {
			if !errdefs.IsConfiguration(err) {
				t.Fatalf("%q: want configuration error, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.name, err)
		}
		if s.GetName() != tt.wantName {
			t.Fatalf("%q built %s, want %s", tt.name, s.GetName(), tt.wantName)
		}
	}

	// The cosine schedule ends at max_epochs.
	cos, err := NewSchedulerForRun("cosine", 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := cos.GetLR(50, 0, 0.1); got != 0 {
		t.Fatalf("cosine at max_epochs: lr %v, want 0", got)
	}

	// Plateau watches a rising metric.
	plat, err := NewSchedulerForRun("plateau", 50)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := plat.(*ReduceLROnPlateauScheduler); !ok || p.Mode != "max" {
		t.Fatalf("plateau scheduler mode: %+v", plat)
	}
}

func TestSchedulerStateRoundTrip(t *testing.T) {
	s := NewReduceLROnPlateauScheduler(0.5, 1, 0, "max")
	s.Step(0.5, 0.1)
	s.Step(0.4, 0.1) // bad epoch, patience 1 -> lr 0.05

	st := SchedulerStateOf(s)
	if st.Name != "ReduceLROnPlateau" || !st.Initialized {
		t.Fatalf("captured state %+v", st)
	}

	fresh := NewReduceLROnPlateauScheduler(0.5, 1, 0, "max")
	if err := RestoreSchedulerState(fresh, st); err != nil {
		t.Fatal(err)
	}
	if got := fresh.GetLR(0, 0, 0.1); got != 0.05 {
		t.Fatalf("restored lr %v, want 0.05", got)
	}

	// The restored scheduler continues exactly like the original.
	wantNext := s.Step(0.45, 0.1)
	gotNext := fresh.Step(0.45, 0.1)
	if wantNext != gotNext {
		t.Fatalf("restored step -> %v, original -> %v", gotNext, wantNext)
	}
}

func TestRestoreSchedulerStateNameMismatch(t *testing.T) {
	cos := NewCosineAnnealingLRScheduler(100, 0)
	st := SchedulerStateOf(cos)

	plat := NewReduceLROnPlateauScheduler(0.5, 1, 0, "max")
	if err := RestoreSchedulerState(plat, st); !errdefs.IsConfiguration(err) {
		t.Fatalf("want configuration error on scheduler kind change, got %v", err)
	}

	// A record with no name restores nothing and is not an error.
	if err := RestoreSchedulerState(plat, checkpoints.SchedulerState{}); err != nil {
		t.Fatal(err)
	}
}

func TestStatelessSchedulerStateCarriesName(t *testing.T) {
	for _, s := range []LRScheduler{
		&NoOpScheduler{},
		NewStepLRScheduler(30, 0.1),
		NewCosineAnnealingLRScheduler(100, 0),
	} {
		st := SchedulerStateOf(s)
		if st.Name != s.GetName() {
			t.Fatalf("state name %q for scheduler %q", st.Name, s.GetName())
		}
		if err := RestoreSchedulerState(s, st); err != nil {
			t.Fatalf("round trip for %s: %v", s.GetName(), err)
		}
	}
}
