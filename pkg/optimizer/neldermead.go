// Package optimizer minimises a scalar function of many variables with the
// derivative free Nelder-Mead simplex method. Box bounds are enforced by a
// quadratic penalty rather than by clipping, so the simplex can straddle a
// bound while it converges toward it.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ErrNotConverged is returned alongside the best point found when the
// iteration or evaluation budget runs out first.
var ErrNotConverged = errors.New("optimizer did not converge")

const (
	reflection  = 1.0
	expansion   = 2.0
	contraction = 0.5
	shrink      = 0.5

	initialStepFraction = 0.05
	initialStepAtZero   = 1.0
)

// Options bounds the search.
type Options struct {
	MaxIter     int
	MaxEval     int
	FTol        float64
	XTol        float64
	PenaltyCoef float64
}

// DefaultOptions returns the standard budget and tolerances.
func DefaultOptions() Options {
	return Options{
		MaxIter:     2000,
		MaxEval:     100000,
		FTol:        1e-9,
		XTol:        1e-9,
		PenaltyCoef: 1e6,
	}
}

// Result is the outcome of a minimisation.
type Result struct {
	X []float64
	// Cost is the objective at X including any bound penalty.
	Cost        float64
	Penalty     float64
	Iterations  int
	Evaluations int
	Converged   bool
}

// Func is the objective.
type Func func(x []float64) float64

type vertex struct {
	x []float64
	f float64
}

type run struct {
	f      Func
	lo, hi []float64
	opts   Options
	evals  int
}

func (r *run) penalty(x []float64) float64 {
	var p float64
	for i, v := range x {
		if r.lo != nil && v < r.lo[i] {
			p += (r.lo[i] - v) * (r.lo[i] - v)
		}
		if r.hi != nil && v > r.hi[i] {
			p += (v - r.hi[i]) * (v - r.hi[i])
		}
	}
	return r.opts.PenaltyCoef * p
}

func (r *run) eval(x []float64) vertex {
	r.evals++
	return vertex{x: x, f: r.f(x) + r.penalty(x)}
}

// Minimize searches for the minimum of f starting from x0. lo and hi may
// be nil to leave the search unbounded; otherwise they must match x0 in
// length. When the budget is exhausted the best point so far is returned
// together with ErrNotConverged.
func Minimize(ctx context.Context, f Func, x0, lo, hi []float64, opts Options) (Result, error) {
	n := len(x0)
	if n == 0 {
		return Result{}, errors.New("optimizer: empty starting point")
	}
	if lo != nil && len(lo) != n || hi != nil && len(hi) != n {
		return Result{}, fmt.Errorf("optimizer: bounds length does not match %d variables", n)
	}
	def := DefaultOptions()
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.MaxEval <= 0 {
		opts.MaxEval = def.MaxEval
	}
	if opts.FTol <= 0 {
		opts.FTol = def.FTol
	}
	if opts.XTol <= 0 {
		opts.XTol = def.XTol
	}
	if opts.PenaltyCoef <= 0 {
		opts.PenaltyCoef = def.PenaltyCoef
	}

	r := &run{f: f, lo: lo, hi: hi, opts: opts}
	simplex := make([]vertex, n+1)
	simplex[0] = r.eval(append([]float64(nil), x0...))
	for i := 0; i < n; i++ {
		x := append([]float64(nil), x0...)
		if x[i] != 0 {
			x[i] += initialStepFraction * math.Abs(x[i])
		} else {
			x[i] = initialStepAtZero
		}
		simplex[i+1] = r.eval(x)
	}

	centroid := make([]float64, n)
	iter := 0
	converged := false
	for ; iter < opts.MaxIter && r.evals < opts.MaxEval; iter++ {
		if err := ctx.Err(); err != nil {
			return r.result(simplex, iter, false), err
		}
		sort.SliceStable(simplex, func(i, j int) bool { return simplex[i].f < simplex[j].f })
		if r.converged(simplex) {
			converged = true
			break
		}

		best, worst := simplex[0], simplex[n]
		clear(centroid)
		for _, v := range simplex[:n] {
			floats.Add(centroid, v.x)
		}
		floats.Scale(1/float64(n), centroid)

		reflected := r.eval(along(centroid, worst.x, reflection))
		switch {
		case reflected.f < best.f:
			expanded := r.eval(along(centroid, worst.x, expansion))
			if expanded.f < reflected.f {
				simplex[n] = expanded
			} else {
				simplex[n] = reflected
			}
		case reflected.f < simplex[n-1].f:
			simplex[n] = reflected
		default:
			var contracted vertex
			if reflected.f < worst.f {
				contracted = r.eval(along(centroid, worst.x, contraction*reflection))
				if contracted.f <= reflected.f {
					simplex[n] = contracted
					continue
				}
			} else {
				contracted = r.eval(along(centroid, worst.x, -contraction))
				if contracted.f < worst.f {
					simplex[n] = contracted
					continue
				}
			}
			for i := 1; i <= n; i++ {
				x := make([]float64, n)
				floats.SubTo(x, simplex[i].x, best.x)
				floats.Scale(shrink, x)
				floats.Add(x, best.x)
				simplex[i] = r.eval(x)
			}
		}
	}
	sort.SliceStable(simplex, func(i, j int) bool { return simplex[i].f < simplex[j].f })
	if !converged {
		converged = r.converged(simplex)
	}
	res := r.result(simplex, iter, converged)
	if !converged {
		return res, ErrNotConverged
	}
	return res, nil
}

// along returns centroid + coef·(centroid − from).
func along(centroid, from []float64, coef float64) []float64 {
	x := make([]float64, len(centroid))
	floats.SubTo(x, centroid, from)
	floats.Scale(coef, x)
	floats.Add(x, centroid)
	return x
}

// converged requires both a flat simplex and a small one, measured as the
// largest euclidean distance between two vertices. The simplex must be
// sorted.
func (r *run) converged(simplex []vertex) bool {
	if simplex[len(simplex)-1].f-simplex[0].f >= r.opts.FTol {
		return false
	}
	for i := range simplex {
		for j := i + 1; j < len(simplex); j++ {
			if floats.Distance(simplex[i].x, simplex[j].x, 2) >= r.opts.XTol {
				return false
			}
		}
	}
	return true
}

func (r *run) result(simplex []vertex, iter int, converged bool) Result {
	best := simplex[0]
	return Result{
		X:           best.x,
		Cost:        best.f,
		Penalty:     r.penalty(best.x),
		Iterations:  iter,
		Evaluations: r.evals,
		Converged:   converged,
	}
}
