// Package supervisor implements the reflow phase state machine (§4.C). It
// is meant to run inside its own OS process (cmd/reflow-supervisor) so a
// pathological MPC solve can never take the TMS link down with it — Run
// talks to the rest of the system exclusively through a sharedstate.Bus.
package supervisor

import (
	"log"
	"time"

	"github.com/holla2040/reflow-mpc/internal/metrics"
	"github.com/holla2040/reflow-mpc/internal/mpc"
	"github.com/holla2040/reflow-mpc/internal/plant"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
)

// solver abstracts the MPC optimizer's per-step solve so tests can inject a
// deterministic failure streak (§8 S6) without depending on the real
// Nelder-Mead search's convergence behavior.
type solver interface {
	Solve(x0 plant.State, ref *mpc.Reference, t float64, prevU float64, peakHit bool) (int, error)
}

// Thresholds from §4.C. Do not alter independently of the rest of the
// state machine: they were specified together.
const (
	NewRunThresholdTemperature = 45.0
	SettleTime                 = 10 * time.Second
	PreheatTime                = 30 * time.Second
	PreheatMaxTemperature      = 50.0

	pollInterval   = 100 * time.Millisecond
	solveFailLimit = 3
)

// Result summarizes how a run ended, handed to the archive callback.
type Result struct {
	Curve         *reflow.Curve
	ActualHistory []reflow.Sample
	Terminal      reflow.ControlState
	FaultMessage  string
}

// Run drives one curve from PREPARING (already set on bus by the caller
// before this process was spawned, per the resolution of open question (a))
// through to a terminal state. onTerminal, if non-nil, is invoked once with
// the outcome for archival; it must not block materially since the
// supervisor process exits shortly after.
func Run(bus *sharedstate.Bus, curve *reflow.Curve, m *metrics.Metrics, onTerminal func(Result)) {
	run(bus, curve, m, mpc.New(), onTerminal)
}

func run(bus *sharedstate.Bus, curve *reflow.Curve, m *metrics.Metrics, optimizer solver, onTerminal func(Result)) {
	history := []reflow.Sample{}
	lastDuration := int64(-1)

	finish := func(state reflow.ControlState, faultMsg string) {
		bus.SetControlState(int64(state))
		bus.SetDesiredOvenState(int64(reflow.OvenIdle))
		bus.SetDesiredDutyCycle(0)
		if onTerminal != nil {
			onTerminal(Result{Curve: curve, ActualHistory: history, Terminal: state, FaultMessage: faultMsg})
		}
	}

	if !waitForSafeStart(bus) {
		finish(reflow.ControlCancelled, "")
		return
	}

	if !settle(bus) {
		finish(reflow.ControlCancelled, "")
		return
	}

	if !preheat(bus) {
		finish(reflow.ControlCancelled, "")
		return
	}

	runRunning(bus, curve, m, optimizer, &history, &lastDuration, finish)
}

// runRunning drives the RUNNING phase's once-per-second MPC loop (§4.C)
// until the curve completes, the run is cancelled, or the solver fails
// three consecutive times. It is split out from run so tests can enter
// RUNNING directly, without waiting out the real-time settle/preheat gates.
func runRunning(bus *sharedstate.Bus, curve *reflow.Curve, m *metrics.Metrics, optimizer solver, history *[]reflow.Sample, lastDuration *int64, finish func(reflow.ControlState, string)) {
	bus.SetControlState(int64(reflow.ControlRunning))

	ref := mpc.NewReference(curve)
	peakTemp := curve.PeakTemperature()
	endTemp := curve.EndTemperature()

	prevU := 0.0
	consecFailures := 0
	peakHit := false
	elapsed := 0.0
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		if bus.ShouldExit() {
			finish(reflow.ControlCancelled, "")
			return
		}

		T := bus.CurrentTemperature()
		dT := bus.CurrentTemperatureDerivative()

		if !peakHit && T >= peakTemp {
			peakHit = true
			bus.SetDesiredOvenState(int64(reflow.OvenCooling))
		}

		solveStart := time.Now()
		u, err := optimizer.Solve(plant.State{T: T, DT: dT}, ref, elapsed, prevU, peakHit)
		if m != nil {
			m.SolveDuration.Observe(time.Since(solveStart).Seconds())
		}
		if err != nil {
			consecFailures++
			if m != nil {
				m.SolveFailuresTotal.Inc()
			}
			log.Printf("supervisor: solver failure %d/%d: %v", consecFailures, solveFailLimit, err)
			if consecFailures >= solveFailLimit {
				finish(reflow.ControlFault, "MPC solver failed three consecutive times")
				return
			}
			u = int(prevU)
		} else {
			consecFailures = 0
		}

		bus.SetDesiredDutyCycle(int64(u))
		prevU = float64(u)
		if m != nil {
			m.OvenTemperature.Set(T)
			m.DesiredDutyCycle.Set(float64(u))
			m.ControlState.Set(float64(reflow.ControlRunning))
		}

		duration := bus.CurveDurationS() + 1
		bus.SetCurveDurationS(duration)
		if duration != *lastDuration {
			*history = append(*history, reflow.Sample{ElapsedS: int(duration), Temperature: T})
			*lastDuration = duration
		}

		if peakHit && T <= endTemp {
			finish(reflow.ControlComplete, "")
			return
		}

		elapsed += mpc.TimeStep

		<-tick.C
		if bus.ShouldExit() {
			finish(reflow.ControlCancelled, "")
			return
		}
		if bus.ControlState() == int64(reflow.ControlFault) {
			// the monitor pinned a fault (e.g. oven-reported fault, or
			// process death detection racing us) — stop driving the oven.
			return
		}
	}
}

// waitForSafeStart blocks in the 100ms poll loop described in §5 until the
// oven is cool enough and the door is closed to enter the settle window, or
// until should_exit fires.
func waitForSafeStart(bus *sharedstate.Bus) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if bus.ShouldExit() {
			return false
		}
		if bus.CurrentTemperature() <= NewRunThresholdTemperature && !bus.DoorOpen() {
			return true
		}
		bus.SetDesiredOvenState(int64(reflow.OvenCooling))
		<-ticker.C
	}
}

// settle waits for SettleTime of continuously door-closed time, restarting
// the timer on every door-open edge.
func settle(bus *sharedstate.Bus) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		if bus.ShouldExit() {
			return false
		}
		if bus.DoorOpen() {
			start = time.Now()
		} else if time.Since(start) >= SettleTime {
			return true
		}
		<-ticker.C
	}
}

// preheat drives the heater at full duty until either PreheatTime elapses
// or the oven reaches PreheatMaxTemperature.
func preheat(bus *sharedstate.Bus) bool {
	bus.SetDesiredOvenState(int64(reflow.OvenHeating))
	bus.SetDesiredDutyCycle(100)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		if bus.ShouldExit() {
			return false
		}
		if bus.CurrentTemperature() >= PreheatMaxTemperature || time.Since(start) >= PreheatTime {
			return true
		}
		<-ticker.C
	}
}
