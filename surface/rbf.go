// Package surface describes the top and bottom elevations the mesh is moved onto
package surface

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RBF is a sum of Gaussian radial basis functions along x:
// f(x) = sum_i Weights[i] * exp(-(Widths[i] * (x - Centers[i]))^2)
type RBF struct {
	Centers []float64
	Widths  []float64 // Inverse length scale of each basis
	Weights []float64 // Nil until Fit or Randomize ran
}

// NewRBF creates a basis without weights
func NewRBF(centers, widths []float64) (*RBF, error) {
	if len(centers) != len(widths) {
		return nil, fmt.Errorf("%d centers but %d widths", len(centers), len(widths))
	}
	r := &RBF{}
	for i := range centers {
		if err := r.AddCenter(centers[i], widths[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddCenter appends a basis. Existing weights are discarded.
func (r *RBF) AddCenter(center, width float64) error {
	if !(width > 0) {
		return fmt.Errorf("center %g: width must be positive, got %g", center, width)
	}
	r.Centers = append(r.Centers, center)
	r.Widths = append(r.Widths, width)
	r.Weights = nil
	return nil
}

func kernel(width, d float64) float64 {
	return math.Exp(-(width * d) * (width * d))
}

// Interpolation returns the matrix A with A[i][j] = basis j evaluated at center i
func (r *RBF) Interpolation() *mat.Dense {
	n := len(r.Centers)
	A := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			A.Set(i, j, kernel(r.Widths[j], r.Centers[i]-r.Centers[j]))
		}
	}
	return A
}

// Fit solves for the weights that reproduce values at the centers
func (r *RBF) Fit(values []float64) error {
	n := len(r.Centers)
	if n == 0 {
		return fmt.Errorf("no centers to fit")
	}
	if len(values) != n {
		return fmt.Errorf("%d values for %d centers", len(values), n)
	}
	var w mat.VecDense
	if err := w.SolveVec(r.Interpolation(), mat.NewVecDense(n, append([]float64(nil), values...))); err != nil {
		return fmt.Errorf("solve rbf weights: %w", err)
	}
	r.Weights = make([]float64, n)
	for i := range r.Weights {
		r.Weights[i] = w.AtVec(i)
	}
	return nil
}

// Randomize fits the basis to heights drawn uniformly from [-amplitude, amplitude]
// and returns those heights
func (r *RBF) Randomize(rng *rand.Rand, amplitude float64) ([]float64, error) {
	values := make([]float64, len(r.Centers))
	for i := range values {
		values[i] = amplitude * (2*rng.Float64() - 1)
	}
	return values, r.Fit(values)
}

// Eval returns f(x); zero before the weights are known
func (r *RBF) Eval(x float64) float64 {
	var sum float64
	for i, w := range r.Weights {
		sum += w * kernel(r.Widths[i], x-r.Centers[i])
	}
	return sum
}

// Profile samples f at n evenly spaced points of [xmin, xmax]
func (r *RBF) Profile(xmin, xmax float64, n int) (xs, ys []float64) {
	if n < 2 {
		n = 2
	}
	xs = make([]float64, n)
	floats.Span(xs, xmin, xmax)
	ys = make([]float64, n)
	for i, x := range xs {
		ys[i] = r.Eval(x)
	}
	return
}

// Surface is a base top elevation perturbed by an RBF over a flat bottom
type Surface struct {
	Top    float64
	Bottom float64
	RBF    *RBF
}

// At returns the top and bottom elevation over x
func (s *Surface) At(x float64) (top, bottom float64) {
	top = s.Top
	if s.RBF != nil {
		top += s.RBF.Eval(x)
	}
	return top, s.Bottom
}

// Range returns the lowest and highest top elevation over n samples of [xmin, xmax]
func (s *Surface) Range(xmin, xmax float64, n int) (lo, hi float64) {
	if s.RBF == nil {
		return s.Top, s.Top
	}
	_, ys := s.RBF.Profile(xmin, xmax, n)
	floats.AddConst(s.Top, ys)
	return floats.Min(ys), floats.Max(ys)
}
