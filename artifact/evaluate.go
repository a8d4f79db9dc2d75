package artifact

import (
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/exoml/metrics"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// TestMetrics is <prefix>_metrics.json.
type TestMetrics struct {
	Accuracy             float64  `json:"accuracy"`
	BalancedAccuracy     float64  `json:"balanced_accuracy"`
	F1Macro              float64  `json:"f1_macro"`
	Labels               []string `json:"labels"`
	ConfusionMatrix      [][]int  `json:"confusion_matrix"`
	ClassificationReport string   `json:"classification_report"`
}

// Evaluate computes the held-out metrics. The confusion matrix follows
// labels; the report covers every label seen in either series.
func Evaluate(yTrue, yPred, labels []string) (*TestMetrics, error) {
	acc, err := metrics.Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	bal, err := metrics.BalancedAccuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	f1, err := metrics.F1Macro(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	cm, _, err := metrics.ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	report, err := metrics.ClassificationReport(yTrue, yPred, nil, 4)
	if err != nil {
		return nil, err
	}
	return &TestMetrics{
		Accuracy:             acc,
		BalancedAccuracy:     bal,
		F1Macro:              f1,
		Labels:               append([]string(nil), labels...),
		ConfusionMatrix:      cm,
		ClassificationReport: report,
	}, nil
}

// EvaluateAndSave computes the metrics and writes them with SaveMetrics.
func EvaluateAndSave(dir, prefix string, yTrue, yPred, labels []string) (*TestMetrics, error) {
	m, err := Evaluate(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	if err := SaveMetrics(dir, prefix, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveMetrics writes <prefix>_metrics.json,
// <prefix>_classification_report.txt and <prefix>_cm.png. A plot failure
// is downgraded to <prefix>_plot_warning.txt.
func SaveMetrics(dir, prefix string, m *TestMetrics) error {
	if err := WriteJSON(filepath.Join(dir, prefix+"_metrics.json"), m); err != nil {
		return err
	}
	reportPath := filepath.Join(dir, prefix+"_classification_report.txt")
	if err := os.WriteFile(reportPath, []byte(m.ClassificationReport), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", reportPath)
	}
	plotPath := filepath.Join(dir, prefix+"_cm.png")
	if err := SaveConfusionMatrixPlot(plotPath, m.ConfusionMatrix, m.Labels, "Confusion Matrix ("+prefix+")"); err != nil {
		writePlotWarning(filepath.Join(dir, prefix+"_plot_warning.txt"), plotPath, err)
	}
	log.GetLoggerWithName("artifact").Info("evaluation saved",
		log.ArtifactDirKey, dir,
		log.AccuracyKey, m.Accuracy,
		"metrics.balanced_accuracy", m.BalancedAccuracy,
		log.F1MacroKey, m.F1Macro,
	)
	return nil
}

// writePlotWarning records a rendering failure next to the bundle and
// reports it through the warning handler.
func writePlotWarning(warnPath, plotPath string, cause error) {
	w := errors.NewPlotWarning(plotPath, cause.Error())
	errors.Warn(w)
	if err := os.WriteFile(warnPath, []byte(cause.Error()+"\n"), 0o644); err != nil {
		log.GetLoggerWithName("artifact").Error("failed to write plot warning", err, log.DataPathKey, warnPath)
	}
}
