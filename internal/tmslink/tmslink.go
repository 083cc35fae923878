// Package tmslink maintains the framed JSON-over-serial session with the
// oven's thermal management microcontroller (§4.F): a 2 Hz outbound
// heartbeat that doubles as the only keepalive, inbound status/log frames,
// and a GPIO-driven hardware reset when the MCU goes silent.
package tmslink

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/holla2040/reflow-mpc/internal/derivative"
	"github.com/holla2040/reflow-mpc/internal/metrics"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Timing constants from §4.F/§5.
const (
	HeartbeatSendInterval     = 500 * time.Millisecond // 2 Hz
	HeartbeatReceiveThreshold = 1000 * time.Millisecond
	resetPulseWidth           = 100 * time.Millisecond
	reconnectDelay            = time.Second
	serialReadTimeout         = time.Second
)

// Config configures the serial port and GPIO reset line.
type Config struct {
	Port     string // default /dev/ttyUSB0
	Baud     int    // default 115200
	GPIOLine string // e.g. "GPIO15" as registered by periph for /dev/gpiochip2 line 15
}

// DefaultConfig returns the wire defaults named in §6.
func DefaultConfig() Config {
	return Config{Port: "/dev/ttyUSB0", Baud: 115200, GPIOLine: "GPIO15"}
}

// Link owns the serial port exclusively for its lifetime and forwards
// telemetry into the shared-state bus plus two callback sinks mirroring the
// bounded status/log queues described in §5.
type Link struct {
	cfg    Config
	bus    *sharedstate.Bus
	onStatus func(reflow.OvenStatus)
	onLog    func(reflow.LogMessage)
	metrics  *metrics.Metrics

	estimator  *derivative.Estimator
	resetPin   gpio.PinIO
	lastInbound time.Time
}

// New resolves the reset GPIO line and returns a Link ready to Run. m may
// be nil to disable metrics. An unknown GPIO line is non-fatal at
// construction time — assertReset then logs and skips the pulse, so the
// link can still be exercised against a simulator with no GPIO hardware
// present.
func New(cfg Config, bus *sharedstate.Bus, m *metrics.Metrics, onStatus func(reflow.OvenStatus), onLog func(reflow.LogMessage)) *Link {
	pin := gpioreg.ByName(cfg.GPIOLine)
	if pin == nil {
		log.Printf("tmslink: GPIO line %q not found; hardware reset disabled", cfg.GPIOLine)
	}
	return &Link{
		cfg:       cfg,
		bus:       bus,
		onStatus:  onStatus,
		onLog:     onLog,
		metrics:   m,
		estimator: derivative.New(),
		resetPin:  pin,
	}
}

// Run maintains the connection until ctx is cancelled. ctx is the only
// termination signal this loop observes — the bus's should_exit cell is a
// per-run cancellation event owned by the Reflow Supervisor
// (orchestrator.StopCurve sets it on every stop()), and this link must keep
// running across runs, so it is never wired to that cell.
func (l *Link) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.runOnce(ctx); err != nil {
			log.Printf("tmslink: connection error: %v; reconnecting in %s", err, reconnectDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func (l *Link) runOnce(ctx context.Context) error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        l.cfg.Port,
		Baud:        l.cfg.Baud,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("open port %s: %w", l.cfg.Port, err)
	}
	defer port.Close()

	l.lastInbound = time.Now()

	done := make(chan error, 2)
	go l.writeHeartbeats(ctx, port, done)
	go l.readFrames(ctx, port, done)

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

func (l *Link) writeHeartbeats(ctx context.Context, port *serial.Port, done chan<- error) {
	ticker := time.NewTicker(HeartbeatSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := reflow.OvenState(l.bus.DesiredOvenState())
			pwm := int(l.bus.DesiredDutyCycle())
			frame, err := encodeOutbound(state, pwm)
			if err != nil {
				log.Printf("tmslink: %v", err)
				continue
			}
			if _, err := port.Write(frame); err != nil {
				done <- fmt.Errorf("write heartbeat: %w", err)
				return
			}
			if l.metrics != nil {
				l.metrics.HeartbeatSentTotal.Inc()
			}
		}
	}
}

func (l *Link) readFrames(ctx context.Context, port *serial.Port, done chan<- error) {
	reader := bufio.NewReader(port)
	livenessTicker := time.NewTicker(100 * time.Millisecond)
	defer livenessTicker.Stop()

	lines := make(chan []byte)
	readErrs := make(chan error, 1)
	go func() {
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				lines <- line
			}
			if err != nil {
				if err.Error() == "EOF" {
					continue // read timeout: keep reading
				}
				readErrs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			l.lastInbound = time.Now()
			l.handleLine(line)
		case err := <-readErrs:
			if err.Error() != "EOF" {
				done <- fmt.Errorf("read frame: %w", err)
				return
			}
			// a read timeout is expected and not itself an error; liveness
			// is judged purely on elapsed time since the last good frame.
		case <-livenessTicker.C:
			// should_reset may also be set from outside the link (POST /reset).
			if time.Since(l.lastInbound) >= HeartbeatReceiveThreshold || l.bus.ShouldReset() {
				l.assertReset()
			}
		}
	}
}

func (l *Link) handleLine(line []byte) {
	status, logMsg, ok, err := parseInbound(line)
	if err != nil {
		log.Printf("tmslink: discarding malformed frame: %v", err)
		return
	}
	if l.metrics != nil {
		l.metrics.HeartbeatRecvTotal.Inc()
	}
	if !ok {
		if l.onLog != nil {
			l.onLog(logMsg)
		}
		return
	}

	now := time.Now()
	l.bus.SetCurrentTemperature(status.Temperature)
	l.bus.SetCurrentTemperatureDerivative(l.estimator.Add(now, status.Temperature))
	l.bus.SetDoorOpen(status.DoorOpen)

	if l.onStatus != nil {
		l.onStatus(status)
	}
}

// assertReset requests a hardware reset (§4.F's reset protocol): set
// should_reset, pulse the GPIO line inactive-then-active, clear the flag.
func (l *Link) assertReset() {
	l.bus.SetShouldReset(true)
	if l.resetPin == nil {
		log.Printf("tmslink: should_reset asserted but no GPIO pin bound; skipping pulse")
		l.bus.ClearShouldReset()
		return
	}

	if err := l.resetPin.Out(gpio.Low); err != nil {
		log.Printf("tmslink: reset pin low: %v", err)
	}
	time.Sleep(resetPulseWidth)
	if err := l.resetPin.Out(gpio.High); err != nil {
		log.Printf("tmslink: reset pin high: %v", err)
	}

	l.lastInbound = time.Now()
	l.bus.ClearShouldReset()
}
