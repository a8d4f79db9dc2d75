// Package pipeline chains the feature plan and a classifier into the unit
// that is trained, persisted and served. It owns the mapping between the
// string labels of the data and the integer class codes used by estimators.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
	"github.com/YuminosukeSato/exoml/preprocessing"
)

// Step names, also the prefixes of routed parameters.
const (
	StepPreprocessor = "preprocessor"
	StepClassifier   = "clf"
)

// Step is a named pipeline stage.
type Step struct {
	Name      string
	Estimator interface{}
}

// Pipeline is preprocessor → clf. Labels holds the sorted unique training
// labels; class code i stands for Labels[i].
type Pipeline struct {
	State          *model.StateManager
	Preprocessor   *preprocessing.ColumnTransformer
	Classifier     model.Classifier
	Labels         []string
	FeatureColumns []string
}

// New creates an unfitted pipeline.
func New(pre *preprocessing.ColumnTransformer, clf model.Classifier) *Pipeline {
	return &Pipeline{
		State:        model.NewStateManager(),
		Preprocessor: pre,
		Classifier:   clf,
	}
}

func (p *Pipeline) IsFitted() bool { return p.State.IsFitted() }

// NamedSteps returns the steps in execution order.
func (p *Pipeline) NamedSteps() []Step {
	return []Step{
		{Name: StepPreprocessor, Estimator: p.Preprocessor},
		{Name: StepClassifier, Estimator: p.Classifier},
	}
}

// Classes returns the label vocabulary in class-code order.
func (p *Pipeline) Classes() []string { return append([]string(nil), p.Labels...) }

// Fit encodes y, fits the feature plan on X and trains the classifier.
func (p *Pipeline) Fit(X *dataset.Frame, y []string) error {
	start := time.Now()
	if X.NRows() != len(y) {
		return errors.NewDimensionError("Pipeline.Fit", X.NRows(), len(y), 0)
	}
	if p.Preprocessor == nil || p.Classifier == nil {
		return errors.NewValueError("Pipeline.Fit", "pipeline needs a preprocessor and a classifier")
	}
	labels := dataset.UniqueLabels(y)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	codes := mat.NewDense(len(y), 1, nil)
	for i, l := range y {
		codes.Set(i, 0, float64(index[l]))
	}

	features, err := p.Preprocessor.FitTransform(X)
	if err != nil {
		return errors.Wrap(err, "preprocessor fit failed")
	}
	if err := p.Classifier.Fit(features, codes); err != nil {
		return errors.Wrap(err, "classifier fit failed")
	}

	p.Labels = labels
	p.FeatureColumns = X.Names()
	if p.State == nil {
		p.State = model.NewStateManager()
	}
	_, width := features.Dims()
	p.State.MarkFitted(width, X.NRows(), len(labels))
	log.GetLoggerWithName("pipeline").Info("pipeline fitted",
		log.SamplesKey, X.NRows(),
		log.ColumnsKey, len(p.FeatureColumns),
		log.FeaturesKey, width,
		log.ClassesKey, labels,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Pipeline) transform(op string, X *dataset.Frame) (*mat.Dense, error) {
	if err := p.State.RequireFitted("Pipeline", op); err != nil {
		return nil, err
	}
	return p.Preprocessor.Transform(X)
}

// PredictProba returns an n×len(Classes()) matrix.
func (p *Pipeline) PredictProba(X *dataset.Frame) (*mat.Dense, error) {
	features, err := p.transform("PredictProba", X)
	if err != nil {
		return nil, err
	}
	raw, err := p.Classifier.PredictProba(features)
	if err != nil {
		return nil, err
	}
	// 分類器のクラスコード順から語彙順へ並べ替える
	n, _ := raw.Dims()
	out := mat.NewDense(n, len(p.Labels), nil)
	for j, code := range p.Classifier.Classes() {
		if code < 0 || code >= len(p.Labels) {
			return nil, errors.NewValueError("Pipeline.PredictProba",
				fmt.Sprintf("classifier class code %d outside label vocabulary", code))
		}
		for i := 0; i < n; i++ {
			out.Set(i, code, raw.At(i, j))
		}
	}
	return out, nil
}

// Predict returns one label per row.
func (p *Pipeline) Predict(X *dataset.Frame) ([]string, error) {
	features, err := p.transform("Predict", X)
	if err != nil {
		return nil, err
	}
	pred, err := p.Classifier.Predict(features)
	if err != nil {
		return nil, err
	}
	n, _ := pred.Dims()
	out := make([]string, n)
	for i := range out {
		code := int(pred.At(i, 0))
		if code < 0 || code >= len(p.Labels) {
			return nil, errors.NewValueError("Pipeline.Predict",
				fmt.Sprintf("predicted class code %d outside label vocabulary", code))
		}
		out[i] = p.Labels[code]
	}
	return out, nil
}

// GetParams returns every step parameter as "<step>__<param>".
func (p *Pipeline) GetParams() map[string]interface{} {
	params := make(map[string]interface{})
	for k, v := range p.Preprocessor.GetParams() {
		params[StepPreprocessor+"__"+k] = v
	}
	for k, v := range p.Classifier.GetParams() {
		params[StepClassifier+"__"+k] = v
	}
	return params
}

// SetParams routes "clf__*" to the classifier and "preprocessor__*" to the
// feature plan. Anything else is a ValidationError.
func (p *Pipeline) SetParams(params map[string]interface{}) error {
	clf := make(map[string]interface{})
	pre := make(map[string]interface{})
	for k, v := range params {
		step, name, ok := strings.Cut(k, "__")
		switch {
		case ok && step == StepClassifier:
			clf[name] = v
		case ok && step == StepPreprocessor:
			pre[name] = v
		default:
			return model.UnknownParam("Pipeline", k)
		}
	}
	if len(pre) > 0 {
		if err := p.Preprocessor.SetParams(pre); err != nil {
			return err
		}
	}
	if len(clf) > 0 {
		return p.Classifier.SetParams(clf)
	}
	return nil
}

// Clone returns an unfitted pipeline with cloned steps.
func (p *Pipeline) Clone() *Pipeline {
	return New(p.Preprocessor.Clone(), p.Classifier.Clone())
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("Pipeline(steps=[(%s, ColumnTransformer), (%s, %T)])",
		StepPreprocessor, StepClassifier, p.Classifier)
}
