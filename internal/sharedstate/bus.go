// Package sharedstate implements the fixed set of shared cells exchanged
// across the supervisor process boundary (§4.D). Cells are backed by an
// mmap'd region so the Monitor (in the main process) and the Reflow
// Supervisor (a separate OS process spawned via os/exec) can read and write
// them without any IPC mechanism beyond the shared backing file — the Go
// analogue of the source's multiprocessing.Value/ctypes shared memory.
//
// Each cell is one 8-byte slot accessed with sync/atomic; there is no
// cross-cell atomicity, matching §4.D and §5(iv).
package sharedstate

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// cell offsets within the shared region, one int64/float64 slot (8 bytes)
// each. Booleans and small enums are stored as int64 0/1 or small integers.
const (
	offCurrentTemperature           = 0 * 8
	offCurrentTemperatureDerivative = 1 * 8
	offDoorOpen                     = 2 * 8
	offControlState                 = 3 * 8
	offDesiredOvenState              = 4 * 8
	offDesiredDutyCycle             = 5 * 8
	offCurveDurationS                = 6 * 8
	offShouldExit                    = 7 * 8
	offShouldReset                   = 8 * 8

	regionSize = 9 * 8
)

// Bus is a handle onto the shared-cell region. The zero value is not usable;
// construct with Create or Open.
type Bus struct {
	file *os.File
	data []byte
	own  bool // true if this process created the backing file
}

// Create allocates a new backing file at path, sized to hold every cell, and
// maps it. The caller (Main) does this before spawning the supervisor
// process so the path can be handed to the child as an argument.
func Create(path string) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: create %s: %w", path, err)
	}
	if err := f.Truncate(regionSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: truncate: %w", err)
	}
	return mapFile(f, true)
}

// Open maps an existing backing file created by Create. The supervisor
// process uses this after being handed the path on its command line.
func Open(path string) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open %s: %w", path, err)
	}
	return mapFile(f, false)
}

func mapFile(f *os.File, own bool) (*Bus, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap: %w", err)
	}
	return &Bus{file: f, data: data, own: own}, nil
}

// Close unmaps the region and closes the backing file. If this Bus created
// the file (via Create), the file is also removed.
func (b *Bus) Close() error {
	path := b.file.Name()
	if err := unix.Munmap(b.data); err != nil {
		return fmt.Errorf("sharedstate: munmap: %w", err)
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("sharedstate: close: %w", err)
	}
	if b.own {
		os.Remove(path)
	}
	return nil
}

// Path returns the backing file's path, to be passed to a child process.
func (b *Bus) Path() string {
	return b.file.Name()
}

func (b *Bus) slot(off int) *int64 {
	return (*int64)(unsafe.Pointer(&b.data[off]))
}

func (b *Bus) loadFloat(off int) float64 {
	bits := atomic.LoadInt64(b.slot(off))
	return math.Float64frombits(uint64(bits))
}

func (b *Bus) storeFloat(off int, v float64) {
	atomic.StoreInt64(b.slot(off), int64(math.Float64bits(v)))
}

func (b *Bus) loadInt(off int) int64 {
	return atomic.LoadInt64(b.slot(off))
}

func (b *Bus) storeInt(off int, v int64) {
	atomic.StoreInt64(b.slot(off), v)
}

// CurrentTemperature / SetCurrentTemperature — owned by the TMS Link.
func (b *Bus) CurrentTemperature() float64          { return b.loadFloat(offCurrentTemperature) }
func (b *Bus) SetCurrentTemperature(v float64)      { b.storeFloat(offCurrentTemperature, v) }

// CurrentTemperatureDerivative / SetCurrentTemperatureDerivative — owned by the TMS Link.
func (b *Bus) CurrentTemperatureDerivative() float64     { return b.loadFloat(offCurrentTemperatureDerivative) }
func (b *Bus) SetCurrentTemperatureDerivative(v float64) { b.storeFloat(offCurrentTemperatureDerivative, v) }

// DoorOpen / SetDoorOpen — owned by the TMS Link.
func (b *Bus) DoorOpen() bool       { return b.loadInt(offDoorOpen) != 0 }
func (b *Bus) SetDoorOpen(v bool)   { b.storeInt(offDoorOpen, boolToInt(v)) }

// ControlState / SetControlState — owned by the Reflow Supervisor.
func (b *Bus) ControlState() int64     { return b.loadInt(offControlState) }
func (b *Bus) SetControlState(v int64) { b.storeInt(offControlState, v) }

// DesiredOvenState / SetDesiredOvenState — owned by the Reflow Supervisor.
func (b *Bus) DesiredOvenState() int64     { return b.loadInt(offDesiredOvenState) }
func (b *Bus) SetDesiredOvenState(v int64) { b.storeInt(offDesiredOvenState, v) }

// DesiredDutyCycle / SetDesiredDutyCycle — owned by the Reflow Supervisor.
func (b *Bus) DesiredDutyCycle() int64     { return b.loadInt(offDesiredDutyCycle) }
func (b *Bus) SetDesiredDutyCycle(v int64) { b.storeInt(offDesiredDutyCycle, v) }

// CurveDurationS / SetCurveDurationS — owned by the Reflow Supervisor.
func (b *Bus) CurveDurationS() int64     { return b.loadInt(offCurveDurationS) }
func (b *Bus) SetCurveDurationS(v int64) { b.storeInt(offCurveDurationS, v) }

// ShouldExit is the per-run cancellation event the Reflow Supervisor
// process watches; orchestrator.StopCurve sets it on stop() and
// orchestrator.StartCurve clears it before spawning the next run. The Monitor and TMS link do not watch this
// cell — they are bound to their own context for the process's hard
// shutdown — so setting it never stops anything but the active run.
func (b *Bus) ShouldExit() bool     { return b.loadInt(offShouldExit) != 0 }
func (b *Bus) SetShouldExit(v bool) { b.storeInt(offShouldExit, boolToInt(v)) }

// ShouldReset is the "request hardware reset of TMS" event.
func (b *Bus) ShouldReset() bool     { return b.loadInt(offShouldReset) != 0 }
func (b *Bus) SetShouldReset(v bool) { b.storeInt(offShouldReset, boolToInt(v)) }
func (b *Bus) ClearShouldReset()    { b.storeInt(offShouldReset, 0) }

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
