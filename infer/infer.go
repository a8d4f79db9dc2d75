// Package infer applies a trained artifact bundle to new tabular data.
package infer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/exoml/artifact"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// DefaultOutputFile is written inside the artifact directory when
// Options.Output is empty. Concurrent runs against one bundle share it.
const DefaultOutputFile = "predictions.csv"

// Output column names.
const (
	PredLabelColumn   = "pred_label"
	ProbaColumnPrefix = "proba_"
)

// Options configures Run.
type Options struct {
	// Output is the CSV path. Empty means <artifacts>/predictions.csv.
	Output string
	// WithProba adds one proba_<class> column per class.
	WithProba bool
}

// Result is what Run wrote.
type Result struct {
	Path   string
	Frame  *dataset.Frame
	Labels []string
}

// Run loads the bundle in artifactDir, predicts every row of input and
// writes the input (minus drop columns) with the prediction columns
// appended.
func Run(artifactDir, input string, opts Options) (*Result, error) {
	b, err := artifact.Load(artifactDir)
	if err != nil {
		return nil, err
	}
	f, err := dataset.LoadTable(input)
	if err != nil {
		return nil, err
	}
	out, labels, err := Predict(b, f, opts.WithProba)
	if err != nil {
		return nil, err
	}
	path := opts.Output
	if path == "" {
		path = filepath.Join(artifactDir, DefaultOutputFile)
	}
	if err := out.SaveCSV(path); err != nil {
		return nil, err
	}
	log.GetLoggerWithName("infer").Info("predictions written",
		log.DataPathKey, path,
		log.PredsKey, len(labels),
		log.RunIDKey, b.Version(),
	)
	return &Result{Path: path, Frame: out, Labels: labels}, nil
}

// Align drops the bundle's configured columns and reindexes to the stored
// feature order. Absent features become missing values; extra columns are
// discarded.
func Align(b *artifact.Bundle, f *dataset.Frame) (kept, X *dataset.Frame) {
	kept = f.Drop(b.Metadata.DropCols...)
	var absent []string
	for _, c := range b.FeatureColumns {
		if !kept.Has(c) {
			absent = append(absent, c)
		}
	}
	if len(absent) > 0 {
		log.GetLoggerWithName("infer").Warn("feature columns missing from input; filled with missing values",
			log.ColumnsKey, absent)
	}
	return kept, kept.Reindex(b.FeatureColumns)
}

// Predict aligns f, predicts and returns the kept input columns plus
// pred_label and, when withProba is set, the probability columns.
func Predict(b *artifact.Bundle, f *dataset.Frame, withProba bool) (*dataset.Frame, []string, error) {
	start := time.Now()
	kept, X := Align(b, f)
	labels, err := b.Pipeline.Predict(X)
	if err != nil {
		return nil, nil, errors.Wrap(err, "predict")
	}
	out, err := kept.WithColumn(dataset.NewCategorical(PredLabelColumn, labels, nil))
	if err != nil {
		return nil, nil, err
	}
	if withProba {
		proba, err := b.Pipeline.PredictProba(X)
		if err != nil {
			return nil, nil, errors.Wrap(err, "predict_proba")
		}
		n, k := proba.Dims()
		names := ProbaClassNames(b, k)
		for j := 0; j < k; j++ {
			col := make([]float64, n)
			for i := range col {
				col[i] = proba.At(i, j)
			}
			if out, err = out.WithColumn(dataset.NewNumeric(ProbaColumnPrefix+names[j], col)); err != nil {
				return nil, nil, err
			}
		}
	}
	log.GetLoggerWithName("infer").Debug("batch predicted",
		log.SamplesKey, f.NRows(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, labels, nil
}

// ProbaClassNames names k probability columns: the metadata classes, else
// the pipeline's learned classes, else class_<i>.
func ProbaClassNames(b *artifact.Bundle, k int) []string {
	if len(b.Metadata.Classes) == k {
		return b.Metadata.Classes
	}
	if cls := b.Pipeline.Classes(); len(cls) == k {
		return cls
	}
	names := make([]string, k)
	for i := range names {
		names[i] = fmt.Sprintf("class_%d", i)
	}
	return names
}
