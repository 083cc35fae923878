package mpc

import (
	"testing"

	"github.com/holla2040/reflow-mpc/internal/plant"
	"github.com/holla2040/reflow-mpc/internal/reflow"
)

func TestSolvePeakHitForcesZero(t *testing.T) {
	curve := &reflow.Curve{Times: []int{0, 30, 60}, Temperatures: []float64{25, 150, 210}}
	ref := NewReference(curve)
	o := New()

	u, err := o.Solve(plant.State{T: 220, DT: 0}, ref, 40, 80, true)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if u != 0 {
		t.Errorf("Solve() after peak hit = %d, want 0", u)
	}
}

func TestSolveRespectsDutyBounds(t *testing.T) {
	curve := &reflow.Curve{Times: []int{0, 30, 60}, Temperatures: []float64{25, 150, 210}}
	ref := NewReference(curve)
	o := New()

	u, err := o.Solve(plant.State{T: 25, DT: 0}, ref, 0, 0, false)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if u < 0 || u > 100 {
		t.Errorf("Solve() = %d, want in [0,100]", u)
	}
}

func TestReferenceInterpolatesAndExtrapolates(t *testing.T) {
	curve := &reflow.Curve{Times: []int{0, 30, 60, 90}, Temperatures: []float64{25, 150, 170, 210}}
	ref := NewReference(curve)

	// midpoint of [0,30] shifted by PreCurveTimeS
	mid := ref.Eval(PreCurveTimeS + 15)
	if mid < 80 || mid > 95 {
		t.Errorf("Eval midpoint = %v, want ~87.5", mid)
	}

	// far before the curve domain should extrapolate from the first segment.
	before := ref.Eval(PreCurveTimeS - 100)
	if before >= 25 {
		t.Errorf("Eval before domain = %v, want < 25 (extrapolated down)", before)
	}
}
