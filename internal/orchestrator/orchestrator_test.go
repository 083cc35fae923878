package orchestrator

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/holla2040/reflow-mpc/internal/archive"
	"github.com/holla2040/reflow-mpc/internal/monitor"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	bus, err := sharedstate.Create(filepath.Join(dir, "cells"))
	if err != nil {
		t.Fatalf("sharedstate.Create() error = %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	arc, err := archive.Open(":memory:")
	if err != nil {
		t.Fatalf("archive.Open() error = %v", err)
	}
	t.Cleanup(func() { arc.Close() })

	mon := monitor.New(bus, func(reflow.ReflowStatus) {})

	o, err := New(bus, mon, arc, "/bin/true", filepath.Join(dir, "work"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestStartCurveSetsControlStatePreparing(t *testing.T) {
	o := newTestOrchestrator(t)
	curve := &reflow.Curve{Times: []int{0, 30}, Temperatures: []float64{25, 150}}

	if err := o.StartCurve(curve); err != nil {
		t.Fatalf("StartCurve() error = %v", err)
	}
	// /bin/true never touches the bus and the Monitor is not running here,
	// so nothing moves control_state off PREPARING after StartCurve sets it.
	if got := o.bus.ControlState(); got != int64(reflow.ControlPreparing) {
		t.Errorf("ControlState() after StartCurve = %d, want PREPARING", got)
	}
}

func TestStartCurveBusyWhileSupervisorAlive(t *testing.T) {
	o := newTestOrchestrator(t)

	cmd := exec.Command("/bin/sleep", "2")
	if err := cmd.Start(); err != nil {
		t.Fatalf("exec.Command(sleep).Start() error = %v", err)
	}
	t.Cleanup(func() { cmd.Process.Kill(); cmd.Wait() })

	o.mu.Lock()
	o.running = cmd
	o.mu.Unlock()

	curve := &reflow.Curve{Times: []int{0, 30}, Temperatures: []float64{25, 150}}
	if err := o.StartCurve(curve); err == nil {
		t.Fatalf("StartCurve() while a run is active, want ErrBusy, got nil")
	}
}

func TestStopCurveWithoutActiveRunIsNoOp(t *testing.T) {
	o := newTestOrchestrator(t)
	if err := o.StopCurve(); err != nil {
		t.Fatalf("StopCurve() with no active run, want nil, got %v", err)
	}
	if o.bus.ShouldExit() {
		t.Errorf("ShouldExit() after no-op StopCurve = true, want false")
	}
}

func TestOnStatusChangeAndOvenStatusRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)

	status := reflow.ReflowStatus{State: reflow.ControlRunning, CurveID: "abc"}
	o.OnStatusChange(status)
	if got := o.CurveStatus(); got.State != reflow.ControlRunning || got.CurveID != "abc" {
		t.Errorf("CurveStatus() = %+v, want %+v", got, status)
	}

	oven := reflow.OvenStatus{Temperature: 123.4, OvenState: reflow.OvenHeating}
	o.OnOvenStatus(oven)
	if got := o.OvenStatus(); got.Temperature != 123.4 || got.OvenState != reflow.OvenHeating {
		t.Errorf("OvenStatus() = %+v, want %+v", got, oven)
	}
}

func TestLogsAreBounded(t *testing.T) {
	o := newTestOrchestrator(t)
	for i := 0; i < maxLogMessages+50; i++ {
		o.OnLogMessage(reflow.LogMessage{Message: "x"})
	}
	if got := len(o.Logs()); got != maxLogMessages {
		t.Fatalf("len(Logs()) = %d, want %d", got, maxLogMessages)
	}
}
