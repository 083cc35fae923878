// Package plant implements the identified 2nd-order linear thermal model of
// the reflow oven. It is pure and stateless so the MPC optimizer's shooting
// integrator and the mock TMS simulator can both import the same step
// function.
package plant

// Identified plant constants. Do not alter: these come from system
// identification against the physical oven, not from this program.
const (
	K     = 4.7875771211019
	Omega = 0.005328475532226316
	Xi    = 1.54264888649055
)

// State is the plant's continuous state: temperature and its time derivative.
type State struct {
	T  float64 // temperature, degrees C
	DT float64 // dT/dt, degrees C per second
}

// Accel returns d2T/dt2 at the given state under duty cycle u (0..100).
func Accel(s State, u float64) float64 {
	return K*Omega*Omega*u - 2*Xi*Omega*s.DT - Omega*Omega*s.T
}

// Step advances the state by dt seconds using a forward Euler integration of
// the plant ODE, holding duty cycle u constant across the step. A 1 s Euler
// step is accurate enough here because the plant's dominant time constant
// (1/(xi*omega)) is two orders of magnitude larger than the step.
func Step(s State, u float64, dt float64) State {
	a := Accel(s, u)
	return State{
		T:  s.T + s.DT*dt,
		DT: s.DT + a*dt,
	}
}

// Simulate rolls the plant forward n steps of dt seconds under a
// per-step duty-cycle sequence, returning the resulting state trajectory
// (length n+1, including the initial state at index 0).
func Simulate(initial State, us []float64, dt float64) []State {
	traj := make([]State, len(us)+1)
	traj[0] = initial
	cur := initial
	for i, u := range us {
		cur = Step(cur, u, dt)
		traj[i+1] = cur
	}
	return traj
}
