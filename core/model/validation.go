package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// CheckFitInput validates X and the n×1 target column y and returns y as
// integer class codes.
func CheckFitInput(op string, X, y mat.Matrix) ([]int, error) {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, scierrors.NewModelError(op, "empty data", scierrors.ErrEmptyData)
	}
	yr, yc := y.Dims()
	if yc != 1 {
		return nil, scierrors.NewDimensionError(op, 1, yc, 1)
	}
	if yr != n {
		return nil, scierrors.NewDimensionError(op, n, yr, 0)
	}
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		v := y.At(i, 0)
		if v < 0 || v != math.Trunc(v) {
			return nil, scierrors.NewValueError(op, fmt.Sprintf("target value %v at row %d is not a class code", v, i))
		}
		codes[i] = int(v)
	}
	return codes, nil
}

// EncodeClasses maps arbitrary class codes to dense indices 0..k-1.
// classes is ascending; encoded[i] indexes into classes.
func EncodeClasses(codes []int) (classes []int, encoded []int) {
	seen := make(map[int]struct{})
	for _, c := range codes {
		seen[c] = struct{}{}
	}
	classes = make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	index := make(map[int]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded = make([]int, len(codes))
	for i, c := range codes {
		encoded[i] = index[c]
	}
	return classes, encoded
}

// CheckSampleWeight returns unit weights for nil, otherwise validates length
// and sign.
func CheckSampleWeight(op string, n int, w []float64) ([]float64, error) {
	if w == nil {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out, nil
	}
	if len(w) != n {
		return nil, scierrors.NewDimensionError(op, n, len(w), 0)
	}
	for i, v := range w {
		if v < 0 || math.IsNaN(v) {
			return nil, scierrors.NewValueError(op, fmt.Sprintf("negative or NaN sample weight at row %d", i))
		}
	}
	return w, nil
}

// ArgmaxLabels converts a probability matrix into an n×1 column of class
// codes. Ties resolve to the lowest column.
func ArgmaxLabels(proba mat.Matrix, classes []int) *mat.Dense {
	r, c := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

// Seed is a random_state value: unset means a fresh time-based seed per fit.
type Seed struct {
	Value int64
	Set   bool
}

// FixedSeed returns a set seed.
func FixedSeed(v int64) Seed { return Seed{Value: v, Set: true} }

// ParseSeed accepts nil or an integer.
func ParseSeed(name string, v interface{}) (Seed, error) {
	if v == nil {
		return Seed{}, nil
	}
	n, err := ParamInt(name, v)
	if err != nil {
		return Seed{}, err
	}
	if n < 0 {
		return Seed{}, scierrors.NewValidationError(name, "must be non-negative or null", v)
	}
	return FixedSeed(int64(n)), nil
}

// Param returns nil for an unset seed.
func (s Seed) Param() interface{} {
	if !s.Set {
		return nil
	}
	return int(s.Value)
}

// Rand returns a generator for stream offset. Each tree or fold uses its own
// offset so parallel fits stay reproducible.
func (s Seed) Rand(offset int64) *rand.Rand {
	if !s.Set {
		return rand.New(rand.NewSource(time.Now().UnixNano() + offset))
	}
	return rand.New(rand.NewSource(s.Value*1_000_003 + offset))
}
