package derivative

import (
	"testing"
	"time"
)

func TestEstimatorFewerThanTwoSamples(t *testing.T) {
	e := New()
	base := time.Now()
	if got := e.Add(base, 25); got != 0 {
		t.Errorf("first sample: got %v, want 0", got)
	}
}

func TestEstimatorConstantRise(t *testing.T) {
	e := New()
	base := time.Now()
	e.Add(base, 25)
	e.Add(base.Add(1*time.Second), 26)
	got := e.Add(base.Add(2*time.Second), 27)
	if got < 0.99 || got > 1.01 {
		t.Errorf("rate of 1 deg/s: got %v, want ~1.0", got)
	}
}

func TestEstimatorEvictsOldSamples(t *testing.T) {
	e := New()
	base := time.Now()
	e.Add(base, 0)
	e.Add(base.Add(1*time.Second), 10)
	// this sample is 3s after base, evicting the base sample (older than now-2s)
	got := e.Add(base.Add(3*time.Second), 10)
	if got != 0 {
		t.Errorf("flat segment after eviction: got %v, want 0", got)
	}
}
