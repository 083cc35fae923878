package sharedstate

import (
	"path/filepath"
	"testing"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells")

	creator, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer creator.Close()

	creator.SetCurrentTemperature(123.5)
	creator.SetDoorOpen(true)
	creator.SetControlState(2)
	creator.SetDesiredDutyCycle(77)
	creator.SetShouldExit(false)

	opener, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer opener.file.Close()
	defer func() { opener.data = nil }()

	if got := opener.CurrentTemperature(); got != 123.5 {
		t.Errorf("CurrentTemperature() = %v, want 123.5", got)
	}
	if got := opener.DoorOpen(); got != true {
		t.Errorf("DoorOpen() = %v, want true", got)
	}
	if got := opener.ControlState(); got != 2 {
		t.Errorf("ControlState() = %v, want 2", got)
	}
	if got := opener.DesiredDutyCycle(); got != 77 {
		t.Errorf("DesiredDutyCycle() = %v, want 77", got)
	}

	opener.SetShouldReset(true)
	if !creator.ShouldReset() {
		t.Errorf("ShouldReset() across handles = false, want true")
	}
}

func TestBoolCellsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells")
	b, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer b.Close()

	if b.ShouldExit() {
		t.Errorf("ShouldExit() initial = true, want false")
	}
	b.SetShouldExit(true)
	if !b.ShouldExit() {
		t.Errorf("ShouldExit() after set = false, want true")
	}
}
