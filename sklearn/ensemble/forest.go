// Package ensemble provides tree ensembles (random forest, extra trees,
// gradient boosting) and a stacking meta-classifier.
package ensemble

import (
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/core/parallel"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
	"github.com/YuminosukeSato/exoml/sklearn/tree"
)

func init() {
	model.RegisterGob(&RandomForestClassifier{}, &ExtraTreesClassifier{})
}

// Forest holds the hyperparameters and fitted members shared by
// RandomForestClassifier and ExtraTreesClassifier.
type Forest struct {
	State *model.StateManager

	NEstimators     int
	Criterion       string
	MaxDepth        int // 0 = unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     tree.MaxFeatures
	Bootstrap       bool
	ClassWeight     model.ClassWeight
	RandomState     model.Seed
	NJobs           int

	Estimators  []*tree.DecisionTreeClassifier
	ClassCodes  []int
	Importances []float64
}

func newForest(bootstrap bool) Forest {
	return Forest{
		State:           model.NewStateManager(),
		NEstimators:     100,
		Criterion:       "gini",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     tree.Sqrt,
		Bootstrap:       bootstrap,
		NJobs:           -1,
	}
}

// ForestOption configures either forest flavour.
type ForestOption func(*Forest)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) ForestOption { return func(f *Forest) { f.NEstimators = n } }

// WithForestMaxDepth sets max_depth; 0 means unlimited.
func WithForestMaxDepth(d int) ForestOption { return func(f *Forest) { f.MaxDepth = d } }

// WithForestClassWeight sets class_weight.
func WithForestClassWeight(cw model.ClassWeight) ForestOption {
	return func(f *Forest) { f.ClassWeight = cw }
}

// WithForestRandomState fixes the seed.
func WithForestRandomState(seed int64) ForestOption {
	return func(f *Forest) { f.RandomState = model.FixedSeed(seed) }
}

// WithForestMaxFeatures sets max_features.
func WithForestMaxFeatures(m tree.MaxFeatures) ForestOption {
	return func(f *Forest) { f.MaxFeatures = m }
}

// WithNJobs sets the number of parallel workers; -1 uses every CPU.
func WithNJobs(n int) ForestOption { return func(f *Forest) { f.NJobs = n } }

// RandomForestClassifier averages bootstrapped CART trees.
type RandomForestClassifier struct {
	Forest
}

// NewRandomForestClassifier creates a forest with scikit-learn defaults.
func NewRandomForestClassifier(opts ...ForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{Forest: newForest(true)}
	for _, opt := range opts {
		opt(&rf.Forest)
	}
	return rf
}

// Fit grows NEstimators bootstrapped trees.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	return rf.fit("RandomForestClassifier", "best", X, y)
}

func (rf *RandomForestClassifier) GetParams() map[string]interface{} { return rf.params() }

func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	return rf.setParams("RandomForestClassifier", params)
}

// Clone returns an unfitted copy.
func (rf *RandomForestClassifier) Clone() model.Classifier {
	return &RandomForestClassifier{Forest: rf.cloneForest()}
}

// ExtraTreesClassifier averages extremely randomised trees: random
// thresholds and, by default, no bootstrap.
type ExtraTreesClassifier struct {
	Forest
}

// NewExtraTreesClassifier creates an extra-trees ensemble.
func NewExtraTreesClassifier(opts ...ForestOption) *ExtraTreesClassifier {
	et := &ExtraTreesClassifier{Forest: newForest(false)}
	for _, opt := range opts {
		opt(&et.Forest)
	}
	return et
}

// Fit grows NEstimators randomised trees.
func (et *ExtraTreesClassifier) Fit(X, y mat.Matrix) error {
	return et.fit("ExtraTreesClassifier", "random", X, y)
}

func (et *ExtraTreesClassifier) GetParams() map[string]interface{} { return et.params() }

func (et *ExtraTreesClassifier) SetParams(params map[string]interface{}) error {
	return et.setParams("ExtraTreesClassifier", params)
}

// Clone returns an unfitted copy.
func (et *ExtraTreesClassifier) Clone() model.Classifier {
	return &ExtraTreesClassifier{Forest: et.cloneForest()}
}

func (f *Forest) IsFitted() bool { return f.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (f *Forest) Classes() []int { return append([]int(nil), f.ClassCodes...) }

// FeatureImportances is the mean impurity importance over trees.
func (f *Forest) FeatureImportances() []float64 { return append([]float64(nil), f.Importances...) }

func (f *Forest) fit(name, splitter string, X, y mat.Matrix) error {
	start := time.Now()
	if f.NEstimators < 1 {
		return scierrors.NewValidationError("n_estimators", "must be at least 1", f.NEstimators)
	}
	codes, err := model.CheckFitInput(name+".Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	classes, _ := model.EncodeClasses(codes)
	nCodes := classes[len(classes)-1] + 1

	var fullWeights []float64
	if f.ClassWeight.Mode == "balanced" || f.ClassWeight.Weights != nil {
		fullWeights = f.ClassWeight.SampleWeights(codes, nCodes)
	}

	trees := make([]*tree.DecisionTreeClassifier, f.NEstimators)
	err = parallel.ForEach(f.NEstimators, parallel.Workers(f.NJobs), func(t int) error {
		rng := f.RandomState.Rand(int64(t) + 1)
		w := f.memberWeights(rng, codes, nCodes, fullWeights)
		dt := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(f.Criterion),
			tree.WithSplitter(splitter),
			tree.WithMaxDepth(f.MaxDepth),
			tree.WithMinSamplesSplit(f.MinSamplesSplit),
			tree.WithMinSamplesLeaf(f.MinSamplesLeaf),
			tree.WithMaxFeatures(f.MaxFeatures),
		)
		if err := dt.FitRand(X, y, w, rng); err != nil {
			return scierrors.Wrapf(err, "%s: tree %d", name, t)
		}
		trees[t] = dt
		return nil
	})
	if err != nil {
		return err
	}

	f.Estimators = trees
	f.ClassCodes = classes
	f.Importances = make([]float64, p)
	for _, dt := range trees {
		for j, v := range dt.Importances {
			f.Importances[j] += v / float64(len(trees))
		}
	}
	if f.State == nil {
		f.State = model.NewStateManager()
	}
	f.State.MarkFitted(p, n, len(classes))

	log.GetLoggerWithName("ensemble").Debug("forest fitted",
		log.ModelNameKey, name,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"n_estimators", f.NEstimators,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// memberWeights returns one tree's sample weights: bootstrap counts times
// class weights. balanced_subsample weights are computed on the drawn rows.
func (f *Forest) memberWeights(rng *rand.Rand, codes []int, nCodes int, fullWeights []float64) []float64 {
	n := len(codes)
	w := make([]float64, n)
	if f.Bootstrap {
		for i := 0; i < n; i++ {
			w[rng.Intn(n)]++
		}
	} else {
		for i := range w {
			w[i] = 1
		}
	}

	switch {
	case f.ClassWeight.Mode == "balanced_subsample":
		counts := make([]float64, nCodes)
		drawn := 0.0
		for i, c := range codes {
			counts[c] += w[i]
			drawn += w[i]
		}
		present := 0
		for _, c := range counts {
			if c > 0 {
				present++
			}
		}
		for i, c := range codes {
			if w[i] > 0 {
				w[i] *= drawn / (float64(present) * counts[c])
			}
		}
	case fullWeights != nil:
		for i := range w {
			w[i] *= fullWeights[i]
		}
	}
	return w
}

// PredictProba averages member probabilities.
func (f *Forest) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := f.State.RequireFitted("Forest", "PredictProba"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := f.State.CheckFeatures("Forest.PredictProba", p); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, len(f.ClassCodes), nil)
	for _, dt := range f.Estimators {
		proba, err := dt.PredictProba(X)
		if err != nil {
			return nil, err
		}
		out.Add(out, proba)
	}
	out.Scale(1/float64(len(f.Estimators)), out)
	return out, nil
}

// Predict returns the class with the highest mean probability.
func (f *Forest) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxLabels(proba, f.ClassCodes), nil
}

func (f *Forest) params() map[string]interface{} {
	var depth interface{}
	if f.MaxDepth > 0 {
		depth = f.MaxDepth
	}
	return map[string]interface{}{
		"n_estimators":      f.NEstimators,
		"criterion":         f.Criterion,
		"max_depth":         depth,
		"min_samples_split": f.MinSamplesSplit,
		"min_samples_leaf":  f.MinSamplesLeaf,
		"max_features":      f.MaxFeatures.Param(),
		"bootstrap":         f.Bootstrap,
		"class_weight":      f.ClassWeight.Param(),
		"random_state":      f.RandomState.Param(),
		"n_jobs":            f.NJobs,
	}
}

func (f *Forest) setParams(name string, params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			f.NEstimators, err = model.ParamInt(k, v)
		case "criterion":
			f.Criterion, err = model.ParamString(k, v)
		case "max_depth":
			f.MaxDepth, err = model.ParamOptionalInt(k, v)
		case "min_samples_split":
			f.MinSamplesSplit, err = model.ParamInt(k, v)
		case "min_samples_leaf":
			f.MinSamplesLeaf, err = model.ParamInt(k, v)
		case "max_features":
			f.MaxFeatures, err = tree.ParseMaxFeatures(k, v)
		case "bootstrap":
			f.Bootstrap, err = model.ParamBool(k, v)
		case "class_weight":
			f.ClassWeight, err = model.ParseClassWeight(k, v)
		case "random_state":
			f.RandomState, err = model.ParseSeed(k, v)
		case "n_jobs":
			if v == nil {
				f.NJobs = 1
			} else {
				f.NJobs, err = model.ParamInt(k, v)
			}
		default:
			return model.UnknownParam(name, k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *Forest) cloneForest() Forest {
	return Forest{
		State:           model.NewStateManager(),
		NEstimators:     f.NEstimators,
		Criterion:       f.Criterion,
		MaxDepth:        f.MaxDepth,
		MinSamplesSplit: f.MinSamplesSplit,
		MinSamplesLeaf:  f.MinSamplesLeaf,
		MaxFeatures:     f.MaxFeatures,
		Bootstrap:       f.Bootstrap,
		ClassWeight:     f.ClassWeight,
		RandomState:     f.RandomState,
		NJobs:           f.NJobs,
	}
}

func (f *Forest) String() string {
	return fmt.Sprintf("Forest(n_estimators=%d, max_features=%v, bootstrap=%t)",
		f.NEstimators, f.MaxFeatures.Param(), f.Bootstrap)
}
