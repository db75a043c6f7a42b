package optimizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumSquaresFrom(c float64) Func {
	return func(x []float64) float64 {
		var s float64
		for _, v := range x {
			s += (v - c) * (v - c)
		}
		return s
	}
}

func TestMinimize(t *testing.T) {
	ctx := context.Background()

	t.Run("Quadratic", func(t *testing.T) {
		res, err := Minimize(ctx, sumSquaresFrom(3), []float64{0, 0, 0}, nil, nil, DefaultOptions())
		require.NoError(t, err)
		assert.True(t, res.Converged)
		for _, v := range res.X {
			assert.InDelta(t, 3, v, 1e-4)
		}
		assert.Less(t, res.Cost, 1e-8)
		assert.Greater(t, res.Evaluations, res.Iterations)
	})

	t.Run("Nonzero Start", func(t *testing.T) {
		res, err := Minimize(ctx, sumSquaresFrom(3), []float64{10, -4}, nil, nil, DefaultOptions())
		require.NoError(t, err)
		assert.InDelta(t, 3, res.X[0], 1e-4)
		assert.InDelta(t, 3, res.X[1], 1e-4)
	})

	t.Run("Penalty Holds Bound", func(t *testing.T) {
		res, err := Minimize(ctx, sumSquaresFrom(3), []float64{0}, []float64{-1}, []float64{1}, DefaultOptions())
		require.NoError(t, err)
		assert.InDelta(t, 1, res.X[0], 1e-4)
		assert.Greater(t, res.Penalty, 0.0)
	})

	t.Run("Budget Exhausted", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxIter = 3
		res, err := Minimize(ctx, sumSquaresFrom(3), []float64{0, 0}, nil, nil, opts)
		assert.True(t, errors.Is(err, ErrNotConverged))
		assert.False(t, res.Converged)
		assert.Len(t, res.X, 2)
		assert.Equal(t, 3, res.Iterations)
		assert.Less(t, res.Cost, 18.0)
	})

	t.Run("Evaluation Budget", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxEval = 10
		res, err := Minimize(ctx, sumSquaresFrom(3), []float64{0, 0}, nil, nil, opts)
		assert.True(t, errors.Is(err, ErrNotConverged))
		assert.GreaterOrEqual(t, res.Evaluations, 10)
	})

	t.Run("Bad Arguments", func(t *testing.T) {
		_, err := Minimize(ctx, sumSquaresFrom(3), nil, nil, nil, DefaultOptions())
		assert.Error(t, err)
		_, err = Minimize(ctx, sumSquaresFrom(3), []float64{0, 0}, []float64{0}, nil, DefaultOptions())
		assert.Error(t, err)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Minimize(cctx, sumSquaresFrom(3), []float64{0}, nil, nil, DefaultOptions())
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestConverged(t *testing.T) {
	r := &run{opts: DefaultOptions()}

	// every coordinate gap is below 1e-9 but the diagonal is not
	wide := []vertex{
		{x: []float64{0, 0}},
		{x: []float64{8e-10, 8e-10}},
		{x: []float64{8e-10, 0}},
	}
	assert.False(t, r.converged(wide))

	tight := []vertex{
		{x: []float64{0, 0}},
		{x: []float64{5e-10, 5e-10}},
		{x: []float64{5e-10, 0}},
	}
	assert.True(t, r.converged(tight))

	steep := []vertex{
		{x: []float64{0, 0}, f: 0},
		{x: []float64{1e-10, 0}, f: 1e-3},
		{x: []float64{0, 1e-10}, f: 2e-3},
	}
	assert.False(t, r.converged(steep))
}
