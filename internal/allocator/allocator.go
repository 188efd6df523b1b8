package allocator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrInvalidInput is returned when the expected-return vector is empty
	// or contains NaN/Inf entries. No solver work happens in that case.
	ErrInvalidInput = errors.New("allocator: invalid input")
	// ErrNotConverged is returned when the minimizer exhausts its iteration
	// budget without reaching a stationary point. The returned weights are
	// the best known candidate and must not be treated as optimal.
	ErrNotConverged = errors.New("allocator: optimization did not converge")
)

const (
	// defaultFloor keeps every raw component strictly positive so that
	// x·ln(x) stays defined and the entropy gradient stays finite.
	defaultFloor = 1e-4
	// defaultMaxIterations bounds the quasi-Newton solver so a call always
	// terminates.
	defaultMaxIterations = 500
)

// Allocator computes maximum-entropy portfolio weights for a vector of
// expected per-asset returns. Given μ it minimizes
//
//	f(x) = Σ oᵢ ln(oᵢ) − Σ μᵢ oᵢ   with o = x / Σx
//
// over the box [Floor, 1]ⁿ. Normalizing inside the objective absorbs the
// simplex equality constraint, so the solver only sees box bounds; the raw
// minimizer output is meaningless until normalized.
//
// Zero or out-of-range fields fall back to the defaults.
type Allocator struct {
	// Floor is the lower box bound for each raw component.
	Floor float64
	// MaxIterations is the iteration budget per solver invocation.
	MaxIterations int
	// Rand, when set, draws the starting point uniformly from (Floor, 1).
	// When nil the start is the uniform vector 1/N, which is deterministic
	// and equivalent at convergence.
	Rand *rand.Rand
}

// New returns an Allocator with the default floor and iteration budget.
func New() *Allocator {
	return &Allocator{Floor: defaultFloor, MaxIterations: defaultMaxIterations}
}

// Allocate runs a single maximum-entropy allocation with default settings.
func Allocate(mu []float64) ([]float64, error) {
	return New().Allocate(mu)
}

// Allocate returns weights ω with ωᵢ > 0 and Σωᵢ = 1 that jointly maximize
// portfolio entropy and expected return for the given μ. Calls are
// independent; an Allocator with a nil Rand may be shared across goroutines
// (math/rand.Rand is not safe for concurrent use).
func (a *Allocator) Allocate(mu []float64) ([]float64, error) {
	if len(mu) == 0 {
		return nil, fmt.Errorf("%w: empty return vector", ErrInvalidInput)
	}
	for i, v := range mu {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite return %v at index %d", ErrInvalidInput, v, i)
		}
	}
	// With a single asset the simplex leaves no freedom, and the general
	// solver is numerically shaky at n=1.
	if len(mu) == 1 {
		return []float64{1}, nil
	}

	n := len(mu)
	floor := a.Floor
	if floor <= 0 || floor >= 1 {
		floor = defaultFloor
	}
	maxIter := a.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	x0 := make([]float64, n)
	for i := range x0 {
		if a.Rand != nil {
			x0[i] = floor + (1-floor)*a.Rand.Float64()
		} else {
			x0[i] = 1 / float64(n)
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return objective(mu, clampBox(x, floor))
		},
		Grad: func(grad, x []float64) {
			gradient(grad, mu, clampBox(x, floor))
		},
	}

	settings := &optimize.Settings{MajorIterations: maxIter}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})

	// A stalled line search is expected when components pin against the
	// box (the projected objective is flat past the bounds), so the error
	// and status alone do not decide convergence. The bound-aware
	// stationarity residual does.
	x := x0
	if result != nil {
		x = clampBox(result.X, floor)
	}

	if projectedResidual(mu, x, floor) > convergenceTol(mu) {
		x = stationaryPoint(mu, floor)
	}

	status := "no result"
	if result != nil {
		status = result.Status.String()
	}
	if err != nil {
		status = fmt.Sprintf("%s: %v", status, err)
	}
	return finish(mu, x, floor, status)
}

// finish normalizes the candidate and issues the convergence verdict. A
// candidate that fails the stationarity check is still returned, normalized,
// so callers can inspect the best known weights.
func finish(mu, x []float64, floor float64, status string) ([]float64, error) {
	r, tol := projectedResidual(mu, x, floor), convergenceTol(mu)
	if r > tol {
		return normalize(x), fmt.Errorf("%w: residual %.3g exceeds %.3g (%s)", ErrNotConverged, r, tol, status)
	}
	return normalize(x), nil
}

// objective evaluates f(x) = Σ oᵢ ln(oᵢ) − Σ μᵢ oᵢ with o = x/Σx.
// x must already lie inside the box so every oᵢ is strictly positive.
func objective(mu, x []float64) float64 {
	s := floats.Sum(x)
	f := 0.0
	for i, v := range x {
		o := v / s
		f += o*math.Log(o) - mu[i]*o
	}
	return f
}

// gradient writes ∇f into grad. With s = Σx and oᵢ = xᵢ/s,
//
//	∂f/∂xᵢ = (ln oᵢ − μᵢ − Σⱼ oⱼ(ln oⱼ − μⱼ)) / s
//
// (the +1 from d(o ln o) cancels because Σoⱼ = 1).
func gradient(grad, mu, x []float64) {
	s := floats.Sum(x)
	avg := 0.0
	for i, v := range x {
		o := v / s
		avg += o * (math.Log(o) - mu[i])
	}
	for i, v := range x {
		o := v / s
		grad[i] = (math.Log(o) - mu[i] - avg) / s
	}
}

// projectedResidual is the sup-norm of the gradient restricted to feasible
// directions: components pushing past an active bound are dropped. Zero means
// the point satisfies the first-order conditions for the box-constrained
// minimum.
func projectedResidual(mu, x []float64, floor float64) float64 {
	grad := make([]float64, len(x))
	gradient(grad, mu, x)
	r := 0.0
	for i, v := range x {
		g := grad[i]
		if v <= floor && g > 0 {
			g = 0
		}
		if v >= 1 && g < 0 {
			g = 0
		}
		if math.Abs(g) > r {
			r = math.Abs(g)
		}
	}
	return r
}

// convergenceTol scales the stationarity tolerance with the magnitude of μ so
// large return spreads do not spuriously fail the check.
func convergenceTol(mu []float64) float64 {
	maxAbs := 0.0
	for _, v := range mu {
		if math.Abs(v) > maxAbs {
			maxAbs = math.Abs(v)
		}
	}
	return 1e-6 * (1 + maxAbs)
}

// stationaryPoint solves the first-order conditions directly. Away from the
// box the minimizer is the Gibbs distribution o ∝ exp(μ); assets whose Gibbs
// weight falls below floor relative to the top pin to the floor, and the
// multiplier mass b they inject tilts the remaining components up against the
// top. The floored set and b are iterated to a joint fixed point; the
// residual check in finish verifies the result independently.
func stationaryPoint(mu []float64, floor float64) []float64 {
	n := len(mu)
	m := floats.MaxIdx(mu)
	spreadCap := math.Log(1 / floor)

	floored := make([]bool, n)
	for i, v := range mu {
		floored[i] = i != m && mu[m]-v > spreadCap
	}

	b := 0.0
	for pass := 0; pass <= n; pass++ {
		sum := 0.0
		count := 0
		for i, f := range floored {
			if f {
				sum += mu[m] - mu[i] - spreadCap
				count++
			}
		}
		b = sum / (1 + float64(count)*floor)

		stable := true
		for i := range floored {
			if i == m {
				continue
			}
			f := mu[m]-mu[i]-spreadCap-floor*b > 0
			if f != floored[i] {
				floored[i] = f
				stable = false
			}
		}
		if stable {
			break
		}
	}

	x := make([]float64, n)
	for i, v := range mu {
		switch {
		case i == m:
			x[i] = 1
		case floored[i]:
			x[i] = floor
		default:
			x[i] = math.Exp(v - mu[m] + floor*b)
		}
	}
	return clampBox(x, floor)
}

func clampBox(x []float64, floor float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v < floor {
			v = floor
		} else if v > 1 {
			v = 1
		}
		out[i] = v
	}
	return out
}

func normalize(x []float64) []float64 {
	w := make([]float64, len(x))
	s := floats.Sum(x)
	for i, v := range x {
		w[i] = v / s
	}
	return w
}
