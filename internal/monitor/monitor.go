// Package monitor implements the ~10 Hz supervisory loop (§4.E): it detects
// supervisor-process death, clamps the oven's desired state outside an
// active run, reacts to oven-reported faults, and publishes ReflowStatus
// deltas to external subscribers.
package monitor

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
)

// PollInterval is the Monitor's loop period (~10 Hz per §5).
const PollInterval = 100 * time.Millisecond

// SupervisorHandle abstracts liveness of the supervisor process so Monitor
// can be tested without spawning a real child process.
type SupervisorHandle interface {
	Alive() bool
}

// Monitor polls the shared-state bus and a SupervisorHandle, and publishes
// ReflowStatus deltas via onStatusChange (deep-equality deduplicated, per
// §4.E item 3).
type Monitor struct {
	bus            *sharedstate.Bus
	sup            SupervisorHandle
	onStatusChange func(reflow.ReflowStatus)

	mu            sync.Mutex
	history       []reflow.Sample
	lastDuration  int64
	faultMessage  string
	curveID       string
	lastPublished reflow.ReflowStatus
	published     bool
}

// New constructs a Monitor. sup may be nil before a run is active; Run
// tolerates this by treating liveness checks as vacuously true.
func New(bus *sharedstate.Bus, onStatusChange func(reflow.ReflowStatus)) *Monitor {
	return &Monitor{bus: bus, onStatusChange: onStatusChange}
}

// BeginRun resets the accumulated history and liveness handle for a newly
// started curve. Call this after setting control_state=PREPARING on the bus
// and after spawning the supervisor process, passing its liveness handle.
func (m *Monitor) BeginRun(curveID string, sup SupervisorHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sup = sup
	m.curveID = curveID
	m.history = nil
	m.lastDuration = -1
	m.faultMessage = ""
}

// NotifyOvenStatus reacts to telemetry forwarded by the TMS link: an
// oven-reported FAULT, or any non-zero error bitmask during an active run,
// pins control_state to FAULT (§7's "oven-reported FAULT" error kind).
func (m *Monitor) NotifyOvenStatus(status reflow.OvenStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := reflow.ControlState(m.bus.ControlState())
	active := cs == reflow.ControlPreparing || cs == reflow.ControlRunning
	if !active {
		return
	}
	if status.OvenState == reflow.OvenFault || status.ErrorMask != 0 {
		m.forceFaultLocked("oven reported fault: " + joinErrors(status.Errors))
	}
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "oven state FAULT"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}

// Run polls at PollInterval until ctx is cancelled. should_exit is a
// per-run cancellation signal the Reflow Supervisor alone observes (§5); the
// Monitor must keep running across runs, so it is bound to ctx only — not to
// the bus's should_exit cell, which orchestrator.StopCurve sets on every
// stop() and which would otherwise permanently stop this loop after the
// first cancelled run.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := reflow.ControlState(m.bus.ControlState())

	// Only PREPARING/RUNNING require a live backing process. COMPLETE is
	// excluded even though §4.E names it: the supervisor writes COMPLETE and
	// returns in the same breath, so by the time this tick observes COMPLETE
	// the process exiting is the expected outcome, not a death to report —
	// counting it would race a legitimate finish against this poll and
	// overwrite it with a false "Control process died".
	activeProcess := cs == reflow.ControlPreparing || cs == reflow.ControlRunning
	if activeProcess && m.sup != nil && !m.sup.Alive() {
		m.forceFaultLocked("Control process died")
		cs = reflow.ControlFault
	}

	if cs != reflow.ControlRunning && cs != reflow.ControlPreparing && cs != reflow.ControlComplete {
		m.bus.SetDesiredOvenState(int64(reflow.OvenIdle))
		m.bus.SetDesiredDutyCycle(0)
	}

	duration := m.bus.CurveDurationS()
	if duration != m.lastDuration {
		m.history = append(m.history, reflow.Sample{
			ElapsedS:    int(duration),
			Temperature: m.bus.CurrentTemperature(),
		})
		m.lastDuration = duration
	}

	status := reflow.ReflowStatus{State: cs, Error: m.faultMessage, CurveID: m.curveID}
	if cs == reflow.ControlRunning || cs == reflow.ControlComplete {
		status.ActualHistory = append([]reflow.Sample(nil), m.history...)
	}

	if !m.published || !reflect.DeepEqual(status, m.lastPublished) {
		m.lastPublished = status
		m.published = true
		if m.onStatusChange != nil {
			m.onStatusChange(status)
		}
	}
}

// forceFaultLocked pins control_state to FAULT and clamps the oven to IDLE.
// Callers must hold m.mu.
func (m *Monitor) forceFaultLocked(message string) {
	m.bus.SetControlState(int64(reflow.ControlFault))
	m.bus.SetDesiredOvenState(int64(reflow.OvenIdle))
	m.bus.SetDesiredDutyCycle(0)
	m.faultMessage = message
}
