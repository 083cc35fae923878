package supervisor

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holla2040/reflow-mpc/internal/mpc"
	"github.com/holla2040/reflow-mpc/internal/plant"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
)

// fakeSolver lets tests drive runRunning's solve outcome deterministically,
// without depending on the real optimizer's convergence behavior.
type fakeSolver struct {
	u   int
	err error
}

func (f fakeSolver) Solve(plant.State, *mpc.Reference, float64, float64, bool) (int, error) {
	return f.u, f.err
}

func newTestBus(t *testing.T) *sharedstate.Bus {
	t.Helper()
	bus, err := sharedstate.Create(filepath.Join(t.TempDir(), "cells"))
	if err != nil {
		t.Fatalf("sharedstate.Create() error = %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestRunCancelledImmediatelyOnShouldExit(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlPreparing))
	bus.SetCurrentTemperature(25)
	bus.SetShouldExit(true)

	curve := &reflow.Curve{Times: []int{0, 30, 60}, Temperatures: []float64{25, 150, 210}}

	var result Result
	called := false
	Run(bus, curve, nil, func(r Result) {
		called = true
		result = r
	})

	if !called {
		t.Fatalf("onTerminal was not called")
	}
	if result.Terminal != reflow.ControlCancelled {
		t.Errorf("Terminal = %v, want CANCELLED", result.Terminal)
	}
	if bus.DesiredOvenState() != int64(reflow.OvenIdle) {
		t.Errorf("DesiredOvenState = %v, want IDLE", bus.DesiredOvenState())
	}
	if bus.DesiredDutyCycle() != 0 {
		t.Errorf("DesiredDutyCycle = %v, want 0", bus.DesiredDutyCycle())
	}
}

func TestWaitForSafeStartRequestsCoolingWhenHot(t *testing.T) {
	bus := newTestBus(t)
	bus.SetCurrentTemperature(80)

	done := make(chan bool, 1)
	go func() { done <- waitForSafeStart(bus) }()

	// give the poll loop a tick to observe the hot temperature, then exit.
	time.Sleep(2 * pollInterval)
	bus.SetShouldExit(true)
	if ok := <-done; ok {
		t.Errorf("waitForSafeStart() = true, want false (cancelled while hot)")
	}
	if bus.DesiredOvenState() != int64(reflow.OvenCooling) {
		t.Errorf("DesiredOvenState = %v, want COOLING while above threshold", bus.DesiredOvenState())
	}
}

// TestRunningLoopStopsOnShouldExit guards against a regression where a
// mid-run stop() returned from the RUNNING loop without calling finish,
// leaving control_state stale and onTerminal never invoked (§4.C, §5, §7,
// scenario S5).
func TestRunningLoopStopsOnShouldExit(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlRunning))
	bus.SetCurrentTemperature(100)
	bus.SetDesiredDutyCycle(77)
	bus.SetShouldExit(true)

	curve := &reflow.Curve{Times: []int{0, 30, 60}, Temperatures: []float64{25, 150, 210}}

	history := []reflow.Sample{}
	lastDuration := int64(-1)
	var result Result
	called := false
	finish := func(state reflow.ControlState, msg string) {
		bus.SetControlState(int64(state))
		bus.SetDesiredOvenState(int64(reflow.OvenIdle))
		bus.SetDesiredDutyCycle(0)
		called = true
		result = Result{Terminal: state, FaultMessage: msg}
	}

	runRunning(bus, curve, nil, fakeSolver{u: 50}, &history, &lastDuration, finish)

	if !called {
		t.Fatalf("finish was not called on should_exit")
	}
	if result.Terminal != reflow.ControlCancelled {
		t.Errorf("Terminal = %v, want CANCELLED", result.Terminal)
	}
	if bus.ControlState() != int64(reflow.ControlCancelled) {
		t.Errorf("bus ControlState = %v, want CANCELLED", bus.ControlState())
	}
	if bus.DesiredOvenState() != int64(reflow.OvenIdle) {
		t.Errorf("DesiredOvenState = %v, want IDLE", bus.DesiredOvenState())
	}
	if bus.DesiredDutyCycle() != 0 {
		t.Errorf("DesiredDutyCycle = %v, want 0", bus.DesiredDutyCycle())
	}
}

// TestRunningLoopFaultsAfterThreeConsecutiveSolverFailures exercises
// scenario S6: three consecutive solver failures must escalate to FAULT
// with a non-empty error message, and must not silently keep running.
func TestRunningLoopFaultsAfterThreeConsecutiveSolverFailures(t *testing.T) {
	bus := newTestBus(t)
	bus.SetControlState(int64(reflow.ControlRunning))
	bus.SetCurrentTemperature(25)

	curve := &reflow.Curve{Times: []int{0, 30, 60}, Temperatures: []float64{25, 150, 210}}

	history := []reflow.Sample{}
	lastDuration := int64(-1)
	var result Result
	called := false
	finish := func(state reflow.ControlState, msg string) {
		bus.SetControlState(int64(state))
		called = true
		result = Result{Terminal: state, FaultMessage: msg}
	}

	runRunning(bus, curve, nil, fakeSolver{err: errors.New("solver exploded")}, &history, &lastDuration, finish)

	if !called {
		t.Fatalf("finish was not called after a three-failure streak")
	}
	if result.Terminal != reflow.ControlFault {
		t.Errorf("Terminal = %v, want FAULT", result.Terminal)
	}
	if result.FaultMessage == "" {
		t.Errorf("FaultMessage is empty, want a description of the solver failure streak")
	}
}
