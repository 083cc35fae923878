package tmslink

import (
	"encoding/json"
	"fmt"

	"github.com/holla2040/reflow-mpc/internal/reflow"
)

// outboundFrame is the 2 Hz heartbeat sent to the MCU; it doubles as the
// only keepalive the link has (§4.F).
type outboundFrame struct {
	State int `json:"state"`
	PWM   int `json:"pwm"`
}

// rawInboundFrame captures every field either inbound shape might carry.
// Presence of "current" discriminates a status frame from a log frame.
type rawInboundFrame struct {
	Current *float64 `json:"current"`
	Time    int64    `json:"time"`
	State   int      `json:"state"`
	PWM     int      `json:"pwm"`
	Door    string   `json:"door"`
	Error   uint8    `json:"error"`

	Message  string `json:"message"`
	Severity int    `json:"severity"`
}

// parseInbound discriminates and decodes one newline-delimited JSON frame.
// ok reports whether it was a status frame (true) or a log frame (false).
func parseInbound(line []byte) (status reflow.OvenStatus, logMsg reflow.LogMessage, ok bool, err error) {
	var raw rawInboundFrame
	if err := json.Unmarshal(line, &raw); err != nil {
		return reflow.OvenStatus{}, reflow.LogMessage{}, false, fmt.Errorf("tmslink: parse frame: %w", err)
	}

	if raw.Current == nil {
		logMsg = reflow.LogMessage{
			TimeMs:   raw.Time,
			Severity: reflow.LogSeverity(raw.Severity),
			Message:  raw.Message,
		}
		return reflow.OvenStatus{}, logMsg, false, nil
	}

	status = reflow.OvenStatus{
		TimeMs:      raw.Time,
		Temperature: *raw.Current,
		OvenState:   reflow.OvenState(raw.State),
		DutyCycle:   raw.PWM,
		DoorOpen:    raw.Door == "open",
		ErrorMask:   raw.Error,
		Errors:      reflow.DecodeErrors(raw.Error),
	}
	return status, reflow.LogMessage{}, true, nil
}

func encodeOutbound(state reflow.OvenState, pwm int) ([]byte, error) {
	b, err := json.Marshal(outboundFrame{State: int(state), PWM: pwm})
	if err != nil {
		return nil, fmt.Errorf("tmslink: encode heartbeat: %w", err)
	}
	return append(b, '\n'), nil
}
