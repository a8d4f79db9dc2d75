package ensemble

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/core/parallel"
	"github.com/YuminosukeSato/exoml/model_selection"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

func init() {
	model.RegisterGob(&StackingClassifier{})
}

// NamedEstimator is a base learner of a StackingClassifier.
type NamedEstimator struct {
	Name      string
	Estimator model.Classifier
}

// StackingClassifier fits a final estimator on out-of-fold class
// probabilities of its base estimators. For binary problems the first
// probability column of every base is dropped.
type StackingClassifier struct {
	State *model.StateManager

	Estimators     []NamedEstimator
	FinalEstimator model.Classifier
	CV             int
	Passthrough    bool
	NJobs          int

	ClassCodes []int
}

// StackingOption configures a StackingClassifier.
type StackingOption func(*StackingClassifier)

// WithCV sets the number of stratified folds.
func WithCV(k int) StackingOption { return func(s *StackingClassifier) { s.CV = k } }

// WithPassthrough also feeds the original features to the final estimator.
func WithPassthrough(on bool) StackingOption {
	return func(s *StackingClassifier) { s.Passthrough = on }
}

// WithStackingNJobs sets the worker count for base fits.
func WithStackingNJobs(n int) StackingOption {
	return func(s *StackingClassifier) { s.NJobs = n }
}

// NewStackingClassifier creates a stacker. Base names must be unique.
func NewStackingClassifier(bases []NamedEstimator, final model.Classifier, opts ...StackingOption) *StackingClassifier {
	s := &StackingClassifier{
		State:          model.NewStateManager(),
		Estimators:     append([]NamedEstimator(nil), bases...),
		FinalEstimator: final,
		CV:             5,
		NJobs:          1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StackingClassifier) IsFitted() bool { return s.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (s *StackingClassifier) Classes() []int { return append([]int(nil), s.ClassCodes...) }

func (s *StackingClassifier) validate() error {
	if len(s.Estimators) == 0 {
		return scierrors.NewValidationError("estimators", "at least one base estimator is required", nil)
	}
	if s.FinalEstimator == nil {
		return scierrors.NewValidationError("final_estimator", "must not be nil", nil)
	}
	if s.CV < 2 {
		return scierrors.NewValidationError("cv", "must be at least 2", s.CV)
	}
	seen := make(map[string]bool, len(s.Estimators))
	for _, b := range s.Estimators {
		switch {
		case b.Name == "" || strings.Contains(b.Name, "__"):
			return scierrors.NewValidationError("estimators", "names must be non-empty and must not contain __", b.Name)
		case seen[b.Name]:
			return scierrors.NewValidationError("estimators", "names must be unique", b.Name)
		case b.Estimator == nil:
			return scierrors.NewValidationError("estimators", "estimator must not be nil", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// Fit builds out-of-fold meta-features, fits the final estimator on them and
// refits every base estimator on all of X.
func (s *StackingClassifier) Fit(X, y mat.Matrix) error {
	start := time.Now()
	if err := s.validate(); err != nil {
		return err
	}
	codes, err := model.CheckFitInput("StackingClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	classes, _ := model.EncodeClasses(codes)
	if len(classes) < 2 {
		return scierrors.NewValueError("StackingClassifier.Fit", "need samples of at least 2 classes")
	}
	folds, err := model_selection.NewStratifiedKFold(s.CV, false, 0).Split(codes)
	if err != nil {
		return scierrors.Wrap(err, "StackingClassifier.Fit")
	}
	logger := log.GetLoggerWithName("ensemble")

	width := metaWidth(len(classes))
	meta := mat.NewDense(n, len(s.Estimators)*width, nil)
	nb := len(s.Estimators)
	err = parallel.ForEach(nb*len(folds), parallel.Workers(s.NJobs), func(job int) error {
		b, f := job/len(folds), job%len(folds)
		base := s.Estimators[b]
		fold := folds[f]
		clf := base.Estimator.Clone()
		if err := clf.Fit(takeRows(X, fold.TrainIndices), takeRows(y, fold.TrainIndices)); err != nil {
			return scierrors.Wrapf(err, "stacking base %q fold %d", base.Name, f)
		}
		proba, err := clf.PredictProba(takeRows(X, fold.TestIndices))
		if err != nil {
			return scierrors.Wrapf(err, "stacking base %q fold %d", base.Name, f)
		}
		aligned := alignProba(proba, clf.Classes(), classes)
		// each job writes a disjoint block of meta
		for r, row := range fold.TestIndices {
			for c := 0; c < width; c++ {
				meta.Set(row, b*width+c, aligned.At(r, c+len(classes)-width))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debug("stacking out-of-fold predictions built",
		log.SamplesKey, n, "n_base", nb, "cv", s.CV)

	fitted := make([]model.Classifier, nb)
	err = parallel.ForEach(nb, parallel.Workers(s.NJobs), func(b int) error {
		clf := s.Estimators[b].Estimator.Clone()
		if err := clf.Fit(X, y); err != nil {
			return scierrors.Wrapf(err, "stacking base %q", s.Estimators[b].Name)
		}
		fitted[b] = clf
		return nil
	})
	if err != nil {
		return err
	}

	final := s.FinalEstimator.Clone()
	if err := final.Fit(s.withPassthrough(meta, X), y); err != nil {
		return scierrors.Wrap(err, "stacking final estimator")
	}
	for b := range s.Estimators {
		s.Estimators[b].Estimator = fitted[b]
	}
	s.FinalEstimator = final
	s.ClassCodes = classes
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	s.State.MarkFitted(p, n, len(classes))
	logger.Debug("stacking fitted",
		log.ModelNameKey, "StackingClassifier",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func metaWidth(k int) int {
	if k == 2 {
		return 1
	}
	return k
}

func (s *StackingClassifier) withPassthrough(meta *mat.Dense, X mat.Matrix) mat.Matrix {
	if !s.Passthrough {
		return meta
	}
	n, m := meta.Dims()
	_, p := X.Dims()
	out := mat.NewDense(n, m+p, nil)
	out.Slice(0, n, 0, m).(*mat.Dense).Copy(meta)
	out.Slice(0, n, m, m+p).(*mat.Dense).Copy(X)
	return out
}

// alignProba reorders proba columns from the estimator's classes to the
// global class order; absent classes get zero probability.
func alignProba(proba mat.Matrix, from, to []int) *mat.Dense {
	n, _ := proba.Dims()
	index := make(map[int]int, len(from))
	for j, c := range from {
		index[c] = j
	}
	out := mat.NewDense(n, len(to), nil)
	for c, code := range to {
		j, ok := index[code]
		if !ok {
			continue
		}
		for i := 0; i < n; i++ {
			out.Set(i, c, proba.At(i, j))
		}
	}
	return out
}

func takeRows(m mat.Matrix, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}

// Transform returns the meta-features the final estimator sees.
func (s *StackingClassifier) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StackingClassifier", "Transform"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := s.State.CheckFeatures("StackingClassifier.Transform", p); err != nil {
		return nil, err
	}
	k := len(s.ClassCodes)
	width := metaWidth(k)
	meta := mat.NewDense(n, len(s.Estimators)*width, nil)
	for b, base := range s.Estimators {
		proba, err := base.Estimator.PredictProba(X)
		if err != nil {
			return nil, scierrors.Wrapf(err, "stacking base %q", base.Name)
		}
		aligned := alignProba(proba, base.Estimator.Classes(), s.ClassCodes)
		meta.Slice(0, n, b*width, (b+1)*width).(*mat.Dense).Copy(aligned.Slice(0, n, k-width, k))
	}
	return s.withPassthrough(meta, X), nil
}

// PredictProba returns the final estimator's probabilities in Classes() order.
func (s *StackingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	meta, err := s.Transform(X)
	if err != nil {
		return nil, err
	}
	proba, err := s.FinalEstimator.PredictProba(meta)
	if err != nil {
		return nil, err
	}
	return alignProba(proba, s.FinalEstimator.Classes(), s.ClassCodes), nil
}

// Predict returns the most probable class code per row.
func (s *StackingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := s.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxLabels(proba, s.ClassCodes), nil
}

// GetParams returns the stacker's own parameters plus nested
// <name>__<param> and final_estimator__<param> entries.
func (s *StackingClassifier) GetParams() map[string]interface{} {
	params := map[string]interface{}{
		"cv":           s.CV,
		"passthrough":  s.Passthrough,
		"stack_method": "predict_proba",
		"n_jobs":       s.NJobs,
	}
	for _, b := range s.Estimators {
		for k, v := range b.Estimator.GetParams() {
			params[b.Name+"__"+k] = v
		}
	}
	if s.FinalEstimator != nil {
		for k, v := range s.FinalEstimator.GetParams() {
			params["final_estimator__"+k] = v
		}
	}
	return params
}

// SetParams updates own parameters and routes nested ones by prefix.
func (s *StackingClassifier) SetParams(params map[string]interface{}) error {
	nested := make(map[string]map[string]interface{})
	for k, v := range params {
		var err error
		switch k {
		case "cv":
			s.CV, err = model.ParamInt(k, v)
		case "passthrough":
			s.Passthrough, err = model.ParamBool(k, v)
		case "n_jobs":
			if v == nil {
				s.NJobs = 1
			} else {
				s.NJobs, err = model.ParamInt(k, v)
			}
		case "stack_method":
			var m string
			m, err = model.ParamString(k, v)
			if err == nil && m != "predict_proba" && m != "auto" {
				err = scierrors.NewValidationError(k, "only predict_proba is supported", v)
			}
		default:
			owner, sub, ok := strings.Cut(k, "__")
			if !ok {
				return model.UnknownParam("StackingClassifier", k)
			}
			if nested[owner] == nil {
				nested[owner] = make(map[string]interface{})
			}
			nested[owner][sub] = v
		}
		if err != nil {
			return err
		}
	}
	for owner, sub := range nested {
		est := s.estimatorNamed(owner)
		if est == nil {
			return model.UnknownParam("StackingClassifier", owner)
		}
		if err := est.SetParams(sub); err != nil {
			return scierrors.Wrapf(err, "stacking %s", owner)
		}
	}
	return nil
}

func (s *StackingClassifier) estimatorNamed(name string) model.Classifier {
	if name == "final_estimator" {
		return s.FinalEstimator
	}
	for _, b := range s.Estimators {
		if b.Name == name {
			return b.Estimator
		}
	}
	return nil
}

// Clone returns an unfitted copy with cloned base and final estimators.
func (s *StackingClassifier) Clone() model.Classifier {
	bases := make([]NamedEstimator, len(s.Estimators))
	for i, b := range s.Estimators {
		bases[i] = NamedEstimator{Name: b.Name, Estimator: b.Estimator.Clone()}
	}
	var final model.Classifier
	if s.FinalEstimator != nil {
		final = s.FinalEstimator.Clone()
	}
	return &StackingClassifier{
		State:          model.NewStateManager(),
		Estimators:     bases,
		FinalEstimator: final,
		CV:             s.CV,
		Passthrough:    s.Passthrough,
		NJobs:          s.NJobs,
	}
}

func (s *StackingClassifier) String() string {
	names := make([]string, len(s.Estimators))
	for i, b := range s.Estimators {
		names[i] = b.Name
	}
	return fmt.Sprintf("StackingClassifier(estimators=[%s], cv=%d, passthrough=%t)",
		strings.Join(names, ", "), s.CV, s.Passthrough)
}
