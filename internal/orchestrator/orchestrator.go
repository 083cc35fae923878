// Package orchestrator is the Main process's own wiring (§5): it owns the
// shared-state bus, spawns one cmd/reflow-supervisor child process per run,
// and exposes the gateway.Controller surface the HTTP API drives. It is the
// only package that knows both "there is a supervisor subprocess" and "there
// is an HTTP handler" — the rest of the control stack only knows one side.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/holla2040/reflow-mpc/internal/archive"
	"github.com/holla2040/reflow-mpc/internal/gateway"
	"github.com/holla2040/reflow-mpc/internal/monitor"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
	"github.com/holla2040/reflow-mpc/internal/supervisor"
)

// maxLogMessages bounds the in-memory log buffer the Logs() collaborator
// surface serves, matching the "bounded queue" shape of §5's status/log
// sinks — unbounded growth over a long-lived gateway process is not
// acceptable for something that is never flushed to disk.
const maxLogMessages = 500

// procHandle adapts a spawned *exec.Cmd to monitor.SupervisorHandle.
type procHandle struct {
	cmd *exec.Cmd
}

func (p *procHandle) Alive() bool {
	if p.cmd.Process == nil {
		return false
	}
	// Signal 0 probes for existence without actually signaling the process;
	// ESRCH (or any error) means it is gone.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Orchestrator implements gateway.Controller on top of the shared-state bus
// and a supervisor subprocess spawned fresh for each curve run.
type Orchestrator struct {
	bus           *sharedstate.Bus
	mon           *monitor.Monitor
	archive       *archive.Archive
	supervisorBin string
	workDir       string

	mu      sync.Mutex
	running *exec.Cmd
	curveID string
	started time.Time

	logMu sync.Mutex
	logs  []reflow.LogMessage

	statusMu sync.Mutex
	status   reflow.ReflowStatus
	oven     reflow.OvenStatus
}

// New constructs an Orchestrator. workDir holds the per-run curve/result
// scratch files handed to the spawned supervisor process.
func New(bus *sharedstate.Bus, mon *monitor.Monitor, arc *archive.Archive, supervisorBin, workDir string) (*Orchestrator, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: mkdir %s: %w", workDir, err)
	}
	return &Orchestrator{
		bus:           bus,
		mon:           mon,
		archive:       arc,
		supervisorBin: supervisorBin,
		workDir:       workDir,
	}, nil
}

var _ gateway.Controller = (*Orchestrator)(nil)

// StartCurve spawns a reflow-supervisor subprocess for curve, per §9's
// resolution of open question (a): control_state is set to PREPARING here,
// before the child exists, so no external observer ever sees an exposed
// intermediate IDLE between accepting the request and the run beginning.
func (o *Orchestrator) StartCurve(curve *reflow.Curve) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running != nil {
		handle := &procHandle{cmd: o.running}
		if handle.Alive() {
			return gateway.ErrBusy
		}
	}

	runDir, err := os.MkdirTemp(o.workDir, "run-*")
	if err != nil {
		return fmt.Errorf("orchestrator: scratch dir: %w", err)
	}
	curvePath := filepath.Join(runDir, "curve.json")
	resultPath := filepath.Join(runDir, "result.json")

	data, err := json.Marshal(curve)
	if err != nil {
		return fmt.Errorf("orchestrator: encode curve: %w", err)
	}
	if err := os.WriteFile(curvePath, data, 0o644); err != nil {
		return fmt.Errorf("orchestrator: write curve: %w", err)
	}

	o.bus.SetControlState(int64(reflow.ControlPreparing))
	o.bus.SetShouldExit(false)

	cmd := exec.Command(o.supervisorBin,
		"-cells", o.bus.Path(),
		"-curve", curvePath,
		"-result", resultPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		o.bus.SetControlState(int64(reflow.ControlIdle))
		return fmt.Errorf("orchestrator: start supervisor: %w", err)
	}

	curveID := curve.ID
	if curveID == "" {
		curveID = uuid.NewString()
	}
	o.running = cmd
	o.curveID = curveID
	o.started = time.Now()
	o.mon.BeginRun(curveID, &procHandle{cmd: cmd})

	go o.awaitTermination(cmd, curve, curveID, resultPath, &stderr)
	return nil
}

// awaitTermination reaps the subprocess, reads its result file, and archives
// the finished run. It runs detached from StartCurve's caller since the
// subprocess's lifetime spans many HTTP requests.
func (o *Orchestrator) awaitTermination(cmd *exec.Cmd, curve *reflow.Curve, curveID, resultPath string, stderr *bytes.Buffer) {
	waitErr := cmd.Wait()

	o.mu.Lock()
	started := o.started
	if o.running == cmd {
		o.running = nil
	}
	o.mu.Unlock()

	if waitErr != nil {
		o.appendLog(reflow.SeverityCritical, fmt.Sprintf("supervisor process exited with error: %v; stderr: %s", waitErr, stderr.String()))
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		o.appendLog(reflow.SeverityCritical, fmt.Sprintf("could not read supervisor result: %v", err))
		return
	}
	var result supervisor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		o.appendLog(reflow.SeverityCritical, fmt.Sprintf("could not decode supervisor result: %v", err))
		return
	}

	if o.archive != nil {
		if _, err := o.archive.Record(curveID, started, time.Now(), result.Terminal, result.FaultMessage, result.ActualHistory); err != nil {
			o.appendLog(reflow.SeverityCritical, fmt.Sprintf("archive write failed: %v", err))
		}
	}
}

// StopCurve requests the active run to cancel by setting should_exit. Only
// the Reflow Supervisor process watches this cell (it unwinds to CANCELLED
// on the next poll); the Monitor and TMS link are bound to their own ctx
// instead, so a stop() here never interrupts their loops for subsequent
// runs. With no active run it does nothing and returns nil.
func (o *Orchestrator) StopCurve() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running == nil {
		return nil
	}
	o.bus.SetShouldExit(true)
	return nil
}

// RequestReset asks the TMS link to pulse the hardware reset line the next
// time it observes should_reset, by setting the shared flag directly; the
// link's own silence-timeout path sets and clears the same flag, so this is
// a manually triggered instance of the same mechanism (§4.F).
func (o *Orchestrator) RequestReset() {
	o.bus.SetShouldReset(true)
}

// CurveStatus returns the most recently published ReflowStatus.
func (o *Orchestrator) CurveStatus() reflow.ReflowStatus {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.status
}

// OvenStatus returns the most recently forwarded OvenStatus telemetry.
func (o *Orchestrator) OvenStatus() reflow.OvenStatus {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.oven
}

// Logs returns a snapshot of the bounded in-memory log buffer, oldest first.
func (o *Orchestrator) Logs() []reflow.LogMessage {
	o.logMu.Lock()
	defer o.logMu.Unlock()
	return append([]reflow.LogMessage(nil), o.logs...)
}

// OnStatusChange is wired as the Monitor's onStatusChange callback.
func (o *Orchestrator) OnStatusChange(status reflow.ReflowStatus) {
	o.statusMu.Lock()
	o.status = status
	o.statusMu.Unlock()
}

// OnOvenStatus is wired as the TMS link's onStatus callback: it both
// forwards telemetry to the Monitor's fault-detection path and records the
// latest frame for the /oven_status collaborator surface.
func (o *Orchestrator) OnOvenStatus(status reflow.OvenStatus) {
	o.statusMu.Lock()
	o.oven = status
	o.statusMu.Unlock()
	o.mon.NotifyOvenStatus(status)
}

// OnLogMessage is wired as the TMS link's onLog callback.
func (o *Orchestrator) OnLogMessage(msg reflow.LogMessage) {
	o.logMu.Lock()
	o.logs = append(o.logs, msg)
	if len(o.logs) > maxLogMessages {
		o.logs = o.logs[len(o.logs)-maxLogMessages:]
	}
	o.logMu.Unlock()
}

func (o *Orchestrator) appendLog(sev reflow.LogSeverity, message string) {
	log.Printf("orchestrator: %s", message)
	o.OnLogMessage(reflow.LogMessage{TimeMs: time.Now().UnixMilli(), Severity: sev, Message: message})
}

// Shutdown requests the active run (if any) to stop, called during graceful
// process shutdown. It does not wait for the subprocess to exit: the
// process is about to terminate anyway, and awaitTermination's archive
// write is best-effort at that point.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	active := o.running != nil
	o.mu.Unlock()
	if !active {
		return
	}
	o.bus.SetShouldExit(true)
}
