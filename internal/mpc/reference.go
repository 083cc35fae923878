package mpc

import "github.com/holla2040/reflow-mpc/internal/reflow"

// PreCurveTimeS shifts the curve's own time axis so that t=0 of the curve
// lines up with the moment preheat ends and RUNNING begins.
const PreCurveTimeS = 15.0

// Reference is the time-varying setpoint trajectory the MPC tracks. It is
// built from a curve truncated at its peak index: cooldown is open-loop and
// never appears in the reference.
type Reference struct {
	times        []float64
	temperatures []float64
	peak         float64
}

// NewReference truncates curve at its peak and builds the interpolation
// table. curve must already be validated.
func NewReference(curve *reflow.Curve) *Reference {
	peakIdx := curve.PeakIndex()
	times := make([]float64, peakIdx+1)
	temps := make([]float64, peakIdx+1)
	for i := 0; i <= peakIdx; i++ {
		times[i] = float64(curve.Times[i])
		temps[i] = curve.Temperatures[i]
	}
	return &Reference{times: times, temperatures: temps, peak: curve.Temperatures[peakIdx]}
}

// Peak returns the curve's peak temperature.
func (r *Reference) Peak() float64 {
	return r.peak
}

// Eval returns T_ref at controller time t (seconds since end of preheat),
// linearly interpolating between curve points and linearly extrapolating
// past either end of the curve's domain.
func (r *Reference) Eval(t float64) float64 {
	curveT := t - PreCurveTimeS

	if len(r.times) == 1 {
		return r.temperatures[0]
	}

	if curveT <= r.times[0] {
		return extrapolate(r.times[0], r.temperatures[0], r.times[1], r.temperatures[1], curveT)
	}
	last := len(r.times) - 1
	if curveT >= r.times[last] {
		return extrapolate(r.times[last-1], r.temperatures[last-1], r.times[last], r.temperatures[last], curveT)
	}

	for i := 1; i < len(r.times); i++ {
		if curveT <= r.times[i] {
			return extrapolate(r.times[i-1], r.temperatures[i-1], r.times[i], r.temperatures[i], curveT)
		}
	}
	return r.temperatures[last]
}

// extrapolate performs linear interpolation/extrapolation through two
// points (t0,v0) and (t1,v1) evaluated at t.
func extrapolate(t0, v0, t1, v1, t float64) float64 {
	if t1 == t0 {
		return v0
	}
	frac := (t - t0) / (t1 - t0)
	return v0 + frac*(v1-v0)
}
