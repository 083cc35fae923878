package monitor

import (
	"path/filepath"
	"testing"

	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
)

func newTestBus(t *testing.T) *sharedstate.Bus {
	t.Helper()
	bus, err := sharedstate.Create(filepath.Join(t.TempDir(), "cells"))
	if err != nil {
		t.Fatalf("sharedstate.Create() error = %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

type fakeSupervisor struct {
	alive bool
}

func (f *fakeSupervisor) Alive() bool { return f.alive }

func TestTickForcesFaultWhenSupervisorDiesWhileRunning(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlRunning))

	m := New(bus, nil)
	m.BeginRun("curve-1", &fakeSupervisor{alive: false})

	m.tick()

	if bus.ControlState() != int64(reflow.ControlFault) {
		t.Errorf("ControlState = %v, want FAULT", bus.ControlState())
	}
	if bus.DesiredOvenState() != int64(reflow.OvenIdle) {
		t.Errorf("DesiredOvenState = %v, want IDLE", bus.DesiredOvenState())
	}
	if bus.DesiredDutyCycle() != 0 {
		t.Errorf("DesiredDutyCycle = %v, want 0", bus.DesiredDutyCycle())
	}
	if m.faultMessage != "Control process died" {
		t.Errorf("faultMessage = %q, want %q", m.faultMessage, "Control process died")
	}
}

// TestTickDoesNotFaultOnLegitimateComplete guards against a regression
// where a normal happy-path completion (S1) raced the supervisor's process
// exit against this tick: the supervisor writes control_state=COMPLETE and
// returns in the same breath, so observing COMPLETE alongside a dead
// process must not be reported as "Control process died".
func TestTickDoesNotFaultOnLegitimateComplete(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlComplete))

	m := New(bus, nil)
	m.BeginRun("curve-1", &fakeSupervisor{alive: false})

	m.tick()

	if bus.ControlState() != int64(reflow.ControlComplete) {
		t.Errorf("ControlState = %v, want COMPLETE (unchanged)", bus.ControlState())
	}
	if m.faultMessage != "" {
		t.Errorf("faultMessage = %q, want empty", m.faultMessage)
	}
}

func TestTickClampsDesiredStateOutsideActiveStates(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlIdle))
	bus.SetDesiredOvenState(int64(reflow.OvenHeating))
	bus.SetDesiredDutyCycle(88)

	m := New(bus, nil)
	m.tick()

	if bus.DesiredOvenState() != int64(reflow.OvenIdle) {
		t.Errorf("DesiredOvenState = %v, want IDLE", bus.DesiredOvenState())
	}
	if bus.DesiredDutyCycle() != 0 {
		t.Errorf("DesiredDutyCycle = %v, want 0", bus.DesiredDutyCycle())
	}
}

func TestTickPublishesDeltaOnlyOnChange(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlRunning))

	var published []reflow.ReflowStatus
	m := New(bus, func(s reflow.ReflowStatus) {
		published = append(published, s)
	})
	m.BeginRun("curve-1", &fakeSupervisor{alive: true})

	m.tick()
	m.tick()
	m.tick()

	if len(published) != 1 {
		t.Fatalf("len(published) = %d, want 1 (no change across ticks)", len(published))
	}

	bus.SetCurveDurationS(1)
	m.tick()

	if len(published) != 2 {
		t.Fatalf("len(published) = %d, want 2 after curve_duration_s changed", len(published))
	}
	if len(published[1].ActualHistory) != 2 {
		t.Errorf("ActualHistory length = %d, want 2 (one sample per distinct curve_duration_s)", len(published[1].ActualHistory))
	}
}

func TestNotifyOvenStatusPinsFaultOnErrorBitmask(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlRunning))

	m := New(bus, nil)
	m.BeginRun("curve-1", &fakeSupervisor{alive: true})

	m.NotifyOvenStatus(reflow.OvenStatus{ErrorMask: 0x10, Errors: []string{"current temperature too high"}})

	if bus.ControlState() != int64(reflow.ControlFault) {
		t.Errorf("ControlState = %v, want FAULT", bus.ControlState())
	}
	if bus.DesiredOvenState() != int64(reflow.OvenIdle) {
		t.Errorf("DesiredOvenState = %v, want IDLE", bus.DesiredOvenState())
	}
}

func TestNotifyOvenStatusIgnoredOutsideActiveRun(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlIdle))

	m := New(bus, nil)
	m.NotifyOvenStatus(reflow.OvenStatus{ErrorMask: 0x10, Errors: []string{"current temperature too high"}})

	if bus.ControlState() != int64(reflow.ControlIdle) {
		t.Errorf("ControlState = %v, want IDLE (unaffected outside an active run)", bus.ControlState())
	}
}
