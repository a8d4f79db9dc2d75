package svm

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// FourierFeatures approximates the RBF kernel exp(-γ‖x−x'‖²) with
// z(x) = √(2/D)·cos(Wx + b), W ~ N(0, 2γ), b ~ U[0, 2π).
type FourierFeatures struct {
	NComponents int
	NFeatures   int
	Gamma       float64
	Weights     []float64 // D×p, row-major
	Offsets     []float64
}

// NewFourierFeatures samples D random features for p inputs.
func NewFourierFeatures(p, d int, gamma float64, rng *rand.Rand) *FourierFeatures {
	std := math.Sqrt(2 * gamma)
	f := &FourierFeatures{
		NComponents: d,
		NFeatures:   p,
		Gamma:       gamma,
		Weights:     make([]float64, d*p),
		Offsets:     make([]float64, d),
	}
	for i := range f.Weights {
		f.Weights[i] = rng.NormFloat64() * std
	}
	for i := range f.Offsets {
		f.Offsets[i] = rng.Float64() * 2 * math.Pi
	}
	return f
}

// Transform maps X (n×p) to the n×D feature space.
func (f *FourierFeatures) Transform(X mat.Matrix) *mat.Dense {
	n, _ := X.Dims()
	W := mat.NewDense(f.NComponents, f.NFeatures, f.Weights)
	out := mat.NewDense(n, f.NComponents, nil)
	out.Mul(X, W.T())
	scale := math.Sqrt(2 / float64(f.NComponents))
	out.Apply(func(_, j int, v float64) float64 {
		return scale * math.Cos(v+f.Offsets[j])
	}, out)
	return out
}
