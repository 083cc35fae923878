package tmslink

import "testing"

func TestParseInboundStatus(t *testing.T) {
	line := []byte(`{"time": 1000, "current": 123.4, "state": 1, "pwm": 50, "door": "closed", "error": 9}`)
	status, _, ok, err := parseInbound(line)
	if err != nil {
		t.Fatalf("parseInbound() error = %v", err)
	}
	if !ok {
		t.Fatalf("parseInbound() ok = false, want true (status frame)")
	}
	if status.Temperature != 123.4 {
		t.Errorf("Temperature = %v, want 123.4", status.Temperature)
	}
	if status.DoorOpen {
		t.Errorf("DoorOpen = true, want false")
	}
	if len(status.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries for mask 0x09", status.Errors)
	}
}

func TestParseInboundLog(t *testing.T) {
	line := []byte(`{"message": "door opened", "severity": 2, "time": 500}`)
	_, logMsg, ok, err := parseInbound(line)
	if err != nil {
		t.Fatalf("parseInbound() error = %v", err)
	}
	if ok {
		t.Fatalf("parseInbound() ok = true, want false (log frame)")
	}
	if logMsg.Message != "door opened" {
		t.Errorf("Message = %q, want %q", logMsg.Message, "door opened")
	}
}

func TestParseInboundMalformed(t *testing.T) {
	if _, _, _, err := parseInbound([]byte(`not json`)); err == nil {
		t.Errorf("parseInbound() expected error for malformed input")
	}
}

func TestEncodeOutbound(t *testing.T) {
	b, err := encodeOutbound(2, 100)
	if err != nil {
		t.Fatalf("encodeOutbound() error = %v", err)
	}
	want := `{"state":2,"pwm":100}` + "\n"
	if string(b) != want {
		t.Errorf("encodeOutbound() = %q, want %q", b, want)
	}
}
