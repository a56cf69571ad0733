package surface

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRBF_FitInterpolatesCenters(t *testing.T) {
	r, err := NewRBF([]float64{1000, 2000, 3000, 4000}, []float64{0.001, 0.001, 0.001, 0.001})
	require.NoError(t, err)
	assert.Zero(t, r.Eval(1500))

	values := []float64{10, -5, 20, 3}
	require.NoError(t, r.Fit(values))
	for i, c := range r.Centers {
		assert.InDelta(t, values[i], r.Eval(c), 1e-9)
	}
	// Far from every center the perturbation dies out
	assert.InDelta(t, 0, r.Eval(1e6), 1e-12)
}

func TestRBF_AddCenterDropsWeights(t *testing.T) {
	r, err := NewRBF([]float64{0}, []float64{1})
	require.NoError(t, err)
	require.NoError(t, r.Fit([]float64{2}))
	assert.InDelta(t, 2, r.Eval(0), 1e-12)

	require.NoError(t, r.AddCenter(10, 1))
	assert.Nil(t, r.Weights)
	assert.Error(t, r.AddCenter(20, 0))
}

func TestRBF_Randomize(t *testing.T) {
	r, err := NewRBF([]float64{500, 1500, 2500}, []float64{0.002, 0.002, 0.002})
	require.NoError(t, err)
	values, err := r.Randomize(rand.New(rand.NewSource(3)), 40)
	require.NoError(t, err)
	require.Len(t, values, 3)
	for i, v := range values {
		assert.LessOrEqual(t, v, 40.0)
		assert.GreaterOrEqual(t, v, -40.0)
		assert.InDelta(t, v, r.Eval(r.Centers[i]), 1e-9)
	}
}

func TestRBF_Invalid(t *testing.T) {
	_, err := NewRBF([]float64{1, 2}, []float64{1})
	assert.Error(t, err)

	r := &RBF{}
	assert.Error(t, r.Fit(nil))
	r, err = NewRBF([]float64{1}, []float64{1})
	require.NoError(t, err)
	assert.Error(t, r.Fit([]float64{1, 2}))
}

func TestSurface(t *testing.T) {
	flat := &Surface{Top: 300, Bottom: 0}
	top, bottom := flat.At(42)
	assert.Equal(t, 300.0, top)
	assert.Equal(t, 0.0, bottom)
	lo, hi := flat.Range(0, 100, 5)
	assert.Equal(t, 300.0, lo)
	assert.Equal(t, 300.0, hi)

	r, err := NewRBF([]float64{50}, []float64{0.1})
	require.NoError(t, err)
	require.NoError(t, r.Fit([]float64{20}))
	s := &Surface{Top: 300, Bottom: 0, RBF: r}
	top, _ = s.At(50)
	assert.InDelta(t, 320, top, 1e-9)
	lo, hi = s.Range(0, 100, 11)
	assert.InDelta(t, 320, hi, 1e-9)
	assert.InDelta(t, 300, lo, 1e-6)
}
