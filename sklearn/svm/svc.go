// Package svm provides a support vector classifier trained in the primal.
// The RBF kernel is approximated with random Fourier features so training
// stays linear in the number of samples.
package svm

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

func init() {
	model.RegisterGob(&SVC{})
}

// SVC is a one-vs-rest support vector classifier with optional Platt
// probability calibration.
type SVC struct {
	State *model.StateManager

	Kernel      string // "linear" or "rbf"
	C           float64
	Gamma       Gamma
	NComponents int // random Fourier features for rbf
	Probability bool
	ClassWeight model.ClassWeight
	MaxIter     int
	Tol         float64
	RandomState model.Seed

	ClassCodes []int
	NFeatures  int
	Features   *FourierFeatures // nil for the linear kernel
	Coef       [][]float64      // one row per binary problem
	Intercept  []float64
	PlattA     []float64
	PlattB     []float64
}

// Gamma is the rbf gamma parameter: "scale", "auto" or a positive value.
type Gamma struct {
	Mode  string // "scale", "auto" or "value"
	Value float64
}

// ParseGamma accepts "scale", "auto" or a positive number.
func ParseGamma(name string, v interface{}) (Gamma, error) {
	if s, ok := v.(string); ok {
		if s == "scale" || s == "auto" {
			return Gamma{Mode: s}, nil
		}
		return Gamma{}, scierrors.NewValidationError(name, "expected scale, auto or a positive float", v)
	}
	f, err := model.ParamFloat(name, v)
	if err != nil {
		return Gamma{}, err
	}
	if f <= 0 {
		return Gamma{}, scierrors.NewValidationError(name, "must be positive", v)
	}
	return Gamma{Mode: "value", Value: f}, nil
}

// Resolve returns the numeric gamma for X.
func (g Gamma) Resolve(X mat.Matrix) float64 {
	n, p := X.Dims()
	switch g.Mode {
	case "value":
		return g.Value
	case "auto":
		return 1 / float64(p)
	}
	all := make([]float64, 0, n*p)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			all = append(all, X.At(i, j))
		}
	}
	v := stat.PopVariance(all, nil)
	if v == 0 {
		return 1 / float64(p)
	}
	return 1 / (float64(p) * v)
}

// Param returns the scikit-learn facing value.
func (g Gamma) Param() interface{} {
	if g.Mode == "value" {
		return g.Value
	}
	return g.Mode
}

// SVCOption configures an SVC.
type SVCOption func(*SVC)

// WithKernel sets the kernel.
func WithKernel(k string) SVCOption { return func(s *SVC) { s.Kernel = k } }

// WithSVCC sets the penalty C.
func WithSVCC(c float64) SVCOption { return func(s *SVC) { s.C = c } }

// WithProbability enables Platt calibration.
func WithProbability(on bool) SVCOption { return func(s *SVC) { s.Probability = on } }

// WithSVCRandomState fixes the seed of the random features.
func WithSVCRandomState(seed int64) SVCOption {
	return func(s *SVC) { s.RandomState = model.FixedSeed(seed) }
}

// NewSVC creates an rbf SVC with scikit-learn defaults.
func NewSVC(opts ...SVCOption) *SVC {
	s := &SVC{
		State:       model.NewStateManager(),
		Kernel:      "rbf",
		C:           1,
		Gamma:       Gamma{Mode: "scale"},
		NComponents: 300,
		MaxIter:     500,
		Tol:         1e-4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SVC) IsFitted() bool { return s.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (s *SVC) Classes() []int { return append([]int(nil), s.ClassCodes...) }

func (s *SVC) validate() error {
	switch {
	case s.Kernel != "linear" && s.Kernel != "rbf":
		return scierrors.NewValidationError("kernel", "only linear and rbf are supported", s.Kernel)
	case s.C <= 0:
		return scierrors.NewValidationError("C", "must be positive", s.C)
	case s.NComponents < 1:
		return scierrors.NewValidationError("n_components", "must be at least 1", s.NComponents)
	case s.MaxIter < 1:
		return scierrors.NewValidationError("max_iter", "must be at least 1", s.MaxIter)
	}
	return nil
}

// Fit trains one squared-hinge linear machine per class (a single one for
// binary problems) in the kernel feature space, then calibrates them.
func (s *SVC) Fit(X, y mat.Matrix) error {
	start := time.Now()
	if err := s.validate(); err != nil {
		return err
	}
	codes, err := model.CheckFitInput("SVC.Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	classes, enc := model.EncodeClasses(codes)
	if len(classes) < 2 {
		return scierrors.NewValueError("SVC.Fit", "the number of classes has to be greater than one")
	}
	s.Features = nil
	if s.Kernel == "rbf" {
		s.Features = NewFourierFeatures(p, s.NComponents, s.Gamma.Resolve(X), s.RandomState.Rand(0))
	}
	phi := s.transform(X)
	w := s.ClassWeight.SampleWeights(codes, classes[len(classes)-1]+1)

	nModels := len(classes)
	if nModels == 2 {
		nModels = 1
	}
	s.Coef = make([][]float64, nModels)
	s.Intercept = make([]float64, nModels)
	s.PlattA = nil
	s.PlattB = nil
	target := make([]float64, n)
	decision := make([]float64, n)
	for m := 0; m < nModels; m++ {
		positive := m
		if nModels == 1 {
			positive = 1
		}
		for i, c := range enc {
			target[i] = -1
			if c == positive {
				target[i] = 1
			}
		}
		s.Coef[m], s.Intercept[m] = s.solve(phi, target, w)
		if s.Probability {
			for i := 0; i < n; i++ {
				decision[i] = s.Intercept[m] + dot(phi.RawRowView(i), s.Coef[m])
			}
			a, b := plattFit(decision, target)
			s.PlattA = append(s.PlattA, a)
			s.PlattB = append(s.PlattB, b)
		}
	}

	s.ClassCodes = classes
	s.NFeatures = p
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	s.State.MarkFitted(p, n, len(classes))
	log.GetLoggerWithName("svm").Debug("svc fitted",
		log.ModelNameKey, "SVC",
		"kernel", s.Kernel,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *SVC) transform(X mat.Matrix) *mat.Dense {
	if s.Features == nil {
		return mat.DenseCopyOf(X)
	}
	return s.Features.Transform(X)
}

// solve minimises ½‖w‖² + C·Σ wᵢ·max(0, 1 − tᵢ(w·φᵢ + b))².
func (s *SVC) solve(phi *mat.Dense, t, sw []float64) ([]float64, float64) {
	n, d := phi.Dims()
	fn := func(theta []float64) float64 {
		loss := 0.0
		for i := 0; i < n; i++ {
			m := 1 - t[i]*(theta[d]+dot(phi.RawRowView(i), theta[:d]))
			if m > 0 {
				loss += sw[i] * m * m
			}
		}
		return 0.5*dot(theta[:d], theta[:d]) + s.C*loss
	}
	grad := func(g, theta []float64) {
		copy(g[:d], theta[:d])
		g[d] = 0
		for i := 0; i < n; i++ {
			row := phi.RawRowView(i)
			m := 1 - t[i]*(theta[d]+dot(row, theta[:d]))
			if m <= 0 {
				continue
			}
			r := -2 * s.C * sw[i] * m * t[i]
			for j := 0; j < d; j++ {
				g[j] += r * row[j]
			}
			g[d] += r
		}
	}
	settings := &optimize.Settings{GradientThreshold: s.Tol, MajorIterations: s.MaxIter}
	res, err := optimize.Minimize(optimize.Problem{Func: fn, Grad: grad}, make([]float64, d+1), settings, &optimize.LBFGS{})
	if res == nil {
		scierrors.Warn(scierrors.NewConvergenceWarning("svc", 0, fmt.Sprintf("optimisation failed: %v", err)))
		return make([]float64, d), 0
	}
	if res.Status == optimize.IterationLimit {
		scierrors.Warn(scierrors.NewConvergenceWarning("svc", res.Stats.MajorIterations,
			"solver terminated early (max_iter); consider scaling the data"))
	}
	return res.X[:d], res.X[d]
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range b {
		sum += a[i] * b[i]
	}
	return sum
}

// DecisionFunction returns signed distances: n×1 for binary problems,
// n×k one-vs-rest scores otherwise.
func (s *SVC) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := s.State.RequireFitted("SVC", "DecisionFunction"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := s.State.CheckFeatures("SVC.DecisionFunction", p); err != nil {
		return nil, err
	}
	phi := s.transform(X)
	out := mat.NewDense(n, len(s.Coef), nil)
	for i := 0; i < n; i++ {
		row := phi.RawRowView(i)
		for m, coef := range s.Coef {
			out.Set(i, m, s.Intercept[m]+dot(row, coef))
		}
	}
	return out, nil
}

// PredictProba returns Platt-calibrated probabilities normalised per row.
// It requires Probability to have been enabled at fit time.
func (s *SVC) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("SVC", "PredictProba"); err != nil {
		return nil, err
	}
	if len(s.PlattA) == 0 {
		return nil, scierrors.NewValueError("SVC.PredictProba", "predict_proba is not available when probability=false")
	}
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := dec.Dims()
	k := len(s.ClassCodes)
	out := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		if k == 2 {
			p1 := plattProb(dec.At(i, 0), s.PlattA[0], s.PlattB[0])
			out.Set(i, 0, 1-p1)
			out.Set(i, 1, p1)
			continue
		}
		sum := 0.0
		for c := 0; c < k; c++ {
			v := plattProb(dec.At(i, c), s.PlattA[c], s.PlattB[c])
			out.Set(i, c, v)
			sum += v
		}
		for c := 0; c < k; c++ {
			out.Set(i, c, out.At(i, c)/sum)
		}
	}
	return out, nil
}

// Predict returns the class with the largest decision value.
func (s *SVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := dec.Dims()
	if len(s.ClassCodes) == 2 {
		out := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			c := s.ClassCodes[0]
			if dec.At(i, 0) > 0 {
				c = s.ClassCodes[1]
			}
			out.Set(i, 0, float64(c))
		}
		return out, nil
	}
	return model.ArgmaxLabels(dec, s.ClassCodes), nil
}

// GetParams returns hyperparameters under scikit-learn names.
func (s *SVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"kernel":       s.Kernel,
		"C":            s.C,
		"gamma":        s.Gamma.Param(),
		"n_components": s.NComponents,
		"probability":  s.Probability,
		"class_weight": s.ClassWeight.Param(),
		"max_iter":     s.MaxIter,
		"tol":          s.Tol,
		"random_state": s.RandomState.Param(),
	}
}

// SetParams updates hyperparameters by scikit-learn name.
func (s *SVC) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "kernel":
			s.Kernel, err = model.ParamString(k, v)
		case "C":
			s.C, err = model.ParamFloat(k, v)
		case "gamma":
			s.Gamma, err = ParseGamma(k, v)
		case "n_components":
			s.NComponents, err = model.ParamInt(k, v)
		case "probability":
			s.Probability, err = model.ParamBool(k, v)
		case "class_weight":
			s.ClassWeight, err = model.ParseClassWeight(k, v)
		case "max_iter":
			if n, e := model.ParamInt(k, v); e != nil {
				err = e
			} else if n > 0 {
				// -1 (no limit) keeps the current budget
				s.MaxIter = n
			}
		case "tol":
			s.Tol, err = model.ParamFloat(k, v)
		case "random_state":
			s.RandomState, err = model.ParseSeed(k, v)
		case "cache_size", "shrinking", "decision_function_shape", "verbose":
			// libsvm runtime knobs
		default:
			return model.UnknownParam("SVC", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an unfitted copy.
func (s *SVC) Clone() model.Classifier {
	return &SVC{
		State:       model.NewStateManager(),
		Kernel:      s.Kernel,
		C:           s.C,
		Gamma:       s.Gamma,
		NComponents: s.NComponents,
		Probability: s.Probability,
		ClassWeight: s.ClassWeight,
		MaxIter:     s.MaxIter,
		Tol:         s.Tol,
		RandomState: s.RandomState,
	}
}

func (s *SVC) String() string {
	return fmt.Sprintf("SVC(kernel=%s, C=%g, gamma=%v, probability=%t)", s.Kernel, s.C, s.Gamma.Param(), s.Probability)
}
