// Package linear_model provides L2-regularised logistic regression.
package linear_model

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

func init() {
	model.RegisterGob(&LogisticRegression{})
}

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression
//
// Objective: C·Σ wᵢ·lossᵢ + ½‖W‖² (intercept unpenalised), minimised with
// L-BFGS. k>2 classes use the multinomial (softmax) loss unless
// MultiClass is "ovr".
type LogisticRegression struct {
	State *model.StateManager

	// Hyperparameters
	Penalty      string  // "l2" or "none"
	C            float64 // Inverse regularization strength
	FitIntercept bool
	ClassWeight  model.ClassWeight
	Solver       string // accepted for compatibility; always L-BFGS
	MaxIter      int
	MultiClass   string // "auto", "multinomial", "ovr"
	Tol          float64
	RandomState  model.Seed

	// Model parameters
	Coef       [][]float64 // 1×p for binary, k×p otherwise
	Intercept  []float64
	ClassCodes []int
	NFeatures  int
	NIter      []int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		State:        model.NewStateManager(),
		Penalty:      "l2",
		C:            1.0,
		FitIntercept: true,
		Solver:       "lbfgs",
		MaxIter:      100,
		MultiClass:   "auto",
		Tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Penalty = penalty }
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.FitIntercept = fit }
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.MaxIter = maxIter }
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Tol = tol }
}

// WithLRMultiClass selects "auto", "multinomial" or "ovr".
func WithLRMultiClass(mode string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.MultiClass = mode }
}

// WithLRClassWeight sets class_weight.
func WithLRClassWeight(cw model.ClassWeight) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.ClassWeight = cw }
}

func (lr *LogisticRegression) IsFitted() bool { return lr.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (lr *LogisticRegression) Classes() []int { return append([]int(nil), lr.ClassCodes...) }

func (lr *LogisticRegression) validate() error {
	switch {
	case lr.C <= 0:
		return scierrors.NewValidationError("C", "must be positive", lr.C)
	case lr.MaxIter < 1:
		return scierrors.NewValidationError("max_iter", "must be at least 1", lr.MaxIter)
	case lr.Tol <= 0:
		return scierrors.NewValidationError("tol", "must be positive", lr.Tol)
	case lr.Penalty != "l2" && lr.Penalty != "none":
		return scierrors.NewValidationError("penalty", "only l2 and none are supported", lr.Penalty)
	case lr.MultiClass != "auto" && lr.MultiClass != "multinomial" && lr.MultiClass != "ovr":
		return scierrors.NewValidationError("multi_class", "expected auto, multinomial or ovr", lr.MultiClass)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	return lr.FitWeighted(X, y, nil)
}

// FitWeighted trains with per-sample weights multiplied by class weights.
func (lr *LogisticRegression) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	start := time.Now()
	if err := lr.validate(); err != nil {
		return err
	}
	codes, err := model.CheckFitInput("LogisticRegression.Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	w, err := model.CheckSampleWeight("LogisticRegression.Fit", n, sampleWeight)
	if err != nil {
		return err
	}
	classes, enc := model.EncodeClasses(codes)
	if len(classes) < 2 {
		return scierrors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("this solver needs samples of at least 2 classes in the data, but the data contains only one class: %d", classes[0]))
	}
	cw := lr.ClassWeight.SampleWeights(codes, classes[len(classes)-1]+1)
	for i := range w {
		w[i] *= cw[i]
	}
	data := mat.DenseCopyOf(X)
	k := len(classes)

	switch {
	case k == 2:
		targets := make([]float64, n)
		for i, c := range enc {
			targets[i] = float64(c)
		}
		coef, b, it := lr.solveBinary(data, targets, w)
		lr.Coef, lr.Intercept, lr.NIter = [][]float64{coef}, []float64{b}, []int{it}
	case lr.MultiClass == "ovr":
		lr.Coef = make([][]float64, k)
		lr.Intercept = make([]float64, k)
		lr.NIter = make([]int, k)
		targets := make([]float64, n)
		for c := 0; c < k; c++ {
			for i, e := range enc {
				targets[i] = 0
				if e == c {
					targets[i] = 1
				}
			}
			lr.Coef[c], lr.Intercept[c], lr.NIter[c] = lr.solveBinary(data, targets, w)
		}
	default:
		coef, b, it := lr.solveMultinomial(data, enc, k, w)
		lr.Coef, lr.Intercept, lr.NIter = coef, b, []int{it}
	}

	lr.ClassCodes = classes
	lr.NFeatures = p
	if lr.State == nil {
		lr.State = model.NewStateManager()
	}
	lr.State.MarkFitted(p, n, k)
	log.GetLoggerWithName("linear_model").Debug("logistic regression fitted",
		log.ModelNameKey, "LogisticRegression",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.IterationKey, lr.NIter,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (lr *LogisticRegression) alpha(sumW float64) float64 {
	if lr.Penalty == "none" {
		return 0
	}
	return 1 / (lr.C * sumW)
}

// solveBinary minimises the mean weighted log-loss plus the L2 term. The
// parameter vector is [w₀..w_{p-1}, b].
func (lr *LogisticRegression) solveBinary(X *mat.Dense, t, w []float64) ([]float64, float64, int) {
	n, p := X.Dims()
	sumW := 0.0
	for _, v := range w {
		sumW += v
	}
	alpha := lr.alpha(sumW)
	z := make([]float64, n)

	fn := func(theta []float64) float64 {
		loss := 0.0
		for i := 0; i < n; i++ {
			z[i] = theta[p] + dot(X.RawRowView(i), theta[:p])
			// log(1+e^z) - t·z
			loss += w[i] * (softplus(z[i]) - t[i]*z[i])
		}
		return loss/sumW + 0.5*alpha*sqNorm(theta[:p])
	}
	grad := func(g, theta []float64) {
		for j := range g {
			g[j] = 0
		}
		for i := 0; i < n; i++ {
			zi := theta[p] + dot(X.RawRowView(i), theta[:p])
			r := w[i] * (scierrors.Sigmoid(zi) - t[i]) / sumW
			row := X.RawRowView(i)
			for j := 0; j < p; j++ {
				g[j] += r * row[j]
			}
			if lr.FitIntercept {
				g[p] += r
			}
		}
		for j := 0; j < p; j++ {
			g[j] += alpha * theta[j]
		}
	}
	theta, iters := lr.minimize(fn, grad, make([]float64, p+1))
	return theta[:p], theta[p], iters
}

// solveMultinomial minimises the softmax cross-entropy. The parameter vector
// holds k rows of [w₀..w_{p-1}, b].
func (lr *LogisticRegression) solveMultinomial(X *mat.Dense, enc []int, k int, w []float64) ([][]float64, []float64, int) {
	n, p := X.Dims()
	stride := p + 1
	sumW := 0.0
	for _, v := range w {
		sumW += v
	}
	alpha := lr.alpha(sumW)
	scores := make([]float64, k)

	logits := func(theta []float64, row []float64) {
		for c := 0; c < k; c++ {
			off := c * stride
			scores[c] = theta[off+p] + dot(row, theta[off:off+p])
		}
	}
	fn := func(theta []float64) float64 {
		loss := 0.0
		for i := 0; i < n; i++ {
			logits(theta, X.RawRowView(i))
			loss += w[i] * (scierrors.LogSumExp(scores) - scores[enc[i]])
		}
		reg := 0.0
		for c := 0; c < k; c++ {
			reg += sqNorm(theta[c*stride : c*stride+p])
		}
		return loss/sumW + 0.5*alpha*reg
	}
	grad := func(g, theta []float64) {
		for j := range g {
			g[j] = 0
		}
		for i := 0; i < n; i++ {
			row := X.RawRowView(i)
			logits(theta, row)
			scierrors.SoftmaxInPlace(scores)
			for c := 0; c < k; c++ {
				r := scores[c]
				if c == enc[i] {
					r--
				}
				r *= w[i] / sumW
				off := c * stride
				for j := 0; j < p; j++ {
					g[off+j] += r * row[j]
				}
				if lr.FitIntercept {
					g[off+p] += r
				}
			}
		}
		for c := 0; c < k; c++ {
			off := c * stride
			for j := 0; j < p; j++ {
				g[off+j] += alpha * theta[off+j]
			}
		}
	}
	theta, iters := lr.minimize(fn, grad, make([]float64, k*stride))
	coef := make([][]float64, k)
	intercept := make([]float64, k)
	for c := 0; c < k; c++ {
		coef[c] = append([]float64(nil), theta[c*stride:c*stride+p]...)
		intercept[c] = theta[c*stride+p]
	}
	return coef, intercept, iters
}

// minimize runs L-BFGS and emits a ConvergenceWarning when the iteration
// budget runs out.
func (lr *LogisticRegression) minimize(fn func([]float64) float64, grad func(g, x []float64), init []float64) ([]float64, int) {
	problem := optimize.Problem{Func: fn, Grad: grad}
	settings := &optimize.Settings{
		GradientThreshold: lr.Tol,
		MajorIterations:   lr.MaxIter,
	}
	res, err := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if res == nil {
		scierrors.Warn(scierrors.NewConvergenceWarning("lbfgs", 0, fmt.Sprintf("optimisation failed: %v", err)))
		return init, 0
	}
	iters := res.Stats.MajorIterations
	if res.Status == optimize.IterationLimit {
		scierrors.Warn(scierrors.NewConvergenceWarning("lbfgs", iters,
			"lbfgs failed to converge; increase the number of iterations (max_iter) or scale the data"))
	} else if err != nil {
		log.GetLoggerWithName("linear_model").Debug("lbfgs stopped early", "error", err.Error(), log.IterationKey, iters)
	}
	return res.X, iters
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range b {
		s += a[i] * b[i]
	}
	return s
}

func sqNorm(a []float64) float64 { return dot(a, a) }

// softplus computes log(1+e^z) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// DecisionFunction returns raw scores: n×1 for binary problems, n×k otherwise.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := lr.State.RequireFitted("LogisticRegression", "DecisionFunction"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := lr.State.CheckFeatures("LogisticRegression.DecisionFunction", p); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, len(lr.Coef), nil)
	for i := 0; i < n; i++ {
		for c, coef := range lr.Coef {
			z := lr.Intercept[c]
			for j := 0; j < p; j++ {
				z += X.At(i, j) * coef[j]
			}
			out.Set(i, c, z)
		}
	}
	return out, nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := scores.Dims()
	k := len(lr.ClassCodes)
	probas := mat.NewDense(n, k, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		switch {
		case k == 2:
			p1 := scierrors.Sigmoid(scores.At(i, 0))
			probas.Set(i, 0, 1-p1)
			probas.Set(i, 1, p1)
			continue
		case lr.MultiClass == "ovr":
			sum := 0.0
			for c := range row {
				row[c] = scierrors.Sigmoid(scores.At(i, c))
				sum += row[c]
			}
			for c := range row {
				row[c] /= sum
			}
		default:
			mat.Row(row, i, scores)
			scierrors.SoftmaxInPlace(row)
		}
		probas.SetRow(i, row)
	}
	return probas, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxLabels(proba, lr.ClassCodes), nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.Penalty,
		"C":             lr.C,
		"fit_intercept": lr.FitIntercept,
		"class_weight":  lr.ClassWeight.Param(),
		"random_state":  lr.RandomState.Param(),
		"solver":        lr.Solver,
		"max_iter":      lr.MaxIter,
		"multi_class":   lr.MultiClass,
		"tol":           lr.Tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			if value == nil {
				lr.Penalty = "none"
				continue
			}
			lr.Penalty, err = model.ParamString(key, value)
		case "C":
			lr.C, err = model.ParamFloat(key, value)
		case "fit_intercept":
			lr.FitIntercept, err = model.ParamBool(key, value)
		case "class_weight":
			lr.ClassWeight, err = model.ParseClassWeight(key, value)
		case "random_state":
			lr.RandomState, err = model.ParseSeed(key, value)
		case "solver":
			lr.Solver, err = model.ParamString(key, value)
		case "max_iter":
			lr.MaxIter, err = model.ParamInt(key, value)
		case "multi_class":
			lr.MultiClass, err = model.ParamString(key, value)
		case "tol":
			lr.Tol, err = model.ParamFloat(key, value)
		case "n_jobs", "verbose", "warm_start":
			// no effect on a single-process L-BFGS fit
		default:
			return model.UnknownParam("LogisticRegression", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an unfitted copy.
func (lr *LogisticRegression) Clone() model.Classifier {
	return &LogisticRegression{
		State:        model.NewStateManager(),
		Penalty:      lr.Penalty,
		C:            lr.C,
		FitIntercept: lr.FitIntercept,
		ClassWeight:  lr.ClassWeight,
		Solver:       lr.Solver,
		MaxIter:      lr.MaxIter,
		MultiClass:   lr.MultiClass,
		Tol:          lr.Tol,
		RandomState:  lr.RandomState,
	}
}

func (lr *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(C=%g, max_iter=%d, multi_class=%s)", lr.C, lr.MaxIter, lr.MultiClass)
}
