package plant

import "testing"

func TestStepZeroDutyDecaysTowardZero(t *testing.T) {
	s := State{T: 200, DT: 0}
	for i := 0; i < 5000; i++ {
		s = Step(s, 0, 1.0)
	}
	if s.T > 5 {
		t.Errorf("expected temperature to decay toward 0 with u=0, got %v", s.T)
	}
}

func TestStepFullDutyRisesTowardSteadyState(t *testing.T) {
	s := State{T: 25, DT: 0}
	for i := 0; i < 20000; i++ {
		s = Step(s, 100, 1.0)
	}
	// steady state: d2T/dt2=0, dT/dt=0 => T = K*u
	want := K * 100
	if diff := s.T - want; diff > 1 || diff < -1 {
		t.Errorf("expected steady-state T near %v, got %v", want, s.T)
	}
}

func TestSimulateLength(t *testing.T) {
	us := make([]float64, 120)
	traj := Simulate(State{T: 25}, us, 1.0)
	if len(traj) != 121 {
		t.Errorf("Simulate() returned %d states, want 121", len(traj))
	}
	if traj[0].T != 25 {
		t.Errorf("Simulate()[0].T = %v, want 25", traj[0].T)
	}
}
