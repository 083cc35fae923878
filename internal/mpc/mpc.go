// Package mpc implements the finite-horizon model predictive controller:
// each call to Solve re-optimizes a horizon of future duty cycles against
// the plant model and a reference trajectory, and returns the duty cycle to
// apply for the next second.
package mpc

import (
	"fmt"
	"math"

	"github.com/holla2040/reflow-mpc/internal/plant"
	"gonum.org/v1/gonum/optimize"
)

// Tunables from the identified cost function. Do not alter independently of
// the plant constants: they were tuned together.
const (
	Horizon  = 120
	TimeStep = 1.0 // seconds

	WeightTracking    = 1e4 // P_T
	WeightControl     = 1e-8 // P_u
	WeightRateOfChange = 0.01 // r_u

	MaxTemperature = 270.0

	// bigPenalty drives the box constraints (0<=u<=100, T<=270) into the
	// unconstrained Nelder-Mead search as soft quadratic barriers.
	bigPenalty = 1e6
)

// Optimizer solves the per-step reflow MPC problem.
type Optimizer struct {
	horizon int
	dt      float64
}

// New returns an Optimizer with the spec's horizon and step size.
func New() *Optimizer {
	return &Optimizer{horizon: Horizon, dt: TimeStep}
}

// Solve computes the duty cycle to apply for the next TimeStep given the
// current plant state x0, the reference trajectory ref, the controller time
// t (seconds since end of preheat, i.e. since RUNNING's reference clock
// started), and the duty cycle applied on the previous step (for the
// rate-of-change penalty and as the warm-start seed).
//
// peakHit forces u=0 unconditionally, per the output policy in 4.B: once
// the supervisor has observed peak temperature, the solver is bypassed
// entirely.
func (o *Optimizer) Solve(x0 plant.State, ref *Reference, t float64, prevU float64, peakHit bool) (int, error) {
	if peakHit {
		return 0, nil
	}

	guess := make([]float64, o.horizon)
	for i := range guess {
		guess[i] = clamp(prevU, 0, 100)
	}

	problem := optimize.Problem{
		Func: func(us []float64) float64 {
			return o.objective(x0, ref, t, prevU, us)
		},
	}

	result, err := optimize.Minimize(problem, guess, &optimize.Settings{
		MajorIterations: 200,
	}, &optimize.NelderMead{})
	if err != nil {
		return 0, fmt.Errorf("mpc: solve failed: %w", err)
	}
	if result.Status == optimize.Failure {
		return 0, fmt.Errorf("mpc: solver did not converge: %s", result.Status)
	}

	u0 := clamp(result.X[0], 0, 100)
	return int(math.Round(u0)), nil
}

// objective evaluates the running+terminal cost in 4.B for a candidate duty
// sequence us, shooting the plant forward from x0.
func (o *Optimizer) objective(x0 plant.State, ref *Reference, t0 float64, prevU float64, us []float64) float64 {
	traj := plant.Simulate(x0, us, o.dt)

	peak := ref.Peak()
	prev := prevU
	cost := 0.0

	for k := 0; k < len(us); k++ {
		t := t0 + float64(k)*o.dt
		tref := ref.Eval(t)
		Tk := traj[k+1].T
		uk := us[k]

		cost += WeightTracking * (Tk - tref) * (Tk - tref)

		denom := 0.01 + math.Abs(tref-peak)
		cost += WeightTracking * (1 / denom) * (Tk - peak) * (Tk - peak)

		cost += WeightControl * uk * uk
		cost += WeightRateOfChange * (uk - prev) * (uk - prev)
		prev = uk

		if uk < 0 {
			cost += bigPenalty * uk * uk
		}
		if uk > 100 {
			cost += bigPenalty * (uk - 100) * (uk - 100)
		}
		if Tk > MaxTemperature {
			cost += bigPenalty * (Tk - MaxTemperature) * (Tk - MaxTemperature)
		}
	}

	return cost
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
