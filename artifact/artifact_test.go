package artifact

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/exoml"
	"github.com/YuminosukeSato/exoml/dataset"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pipeline"
	"github.com/YuminosukeSato/exoml/preprocessing"
	"github.com/YuminosukeSato/exoml/sklearn/tree"
)

func fittedPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	f := dataset.MustFrame(
		dataset.NewNumeric("pl_rade", []float64{1, 1.2, math.NaN(), 10, 11, 12}),
		dataset.NewNumeric("st_teff", []float64{5000, 5100, 5200, 6000, 6100, 6200}),
	)
	y := []string{"FP", "FP", "FP", "PC", "PC", "PC"}
	p := pipeline.New(preprocessing.BuildPreprocessor(f), tree.NewDecisionTreeClassifier(tree.WithRandomState(0)))
	require.NoError(t, p.Fit(f, y))
	return p
}

func writeBundle(t *testing.T, dir string, p *pipeline.Pipeline) Metadata {
	t.Helper()
	meta := NewMetadata("tfopwg_disp", nil, p.Classes(), "run-1", "random_forest", "notes", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, SavePipeline(dir, p))
	require.NoError(t, SaveFeatureColumns(dir, p.FeatureColumns))
	require.NoError(t, SaveMetadata(dir, meta))
	return meta
}

func TestNewRunDir_Collision(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := NewRunDir(root, now)
	require.NoError(t, err)
	second, err := NewRunDir(root, now)
	require.NoError(t, err)
	third, err := NewRunDir(root, now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "20250102_030405"), first)
	assert.Equal(t, first+"_1", second)
	assert.Equal(t, first+"_2", third)
}

func TestSortRunDirs(t *testing.T) {
	names := []string{
		"20250102_000000",
		"20250101_000000_10",
		"notes",
		"20250101_000000_9",
		"20250101_000000",
		"20250101_000000_1",
	}
	SortRunDirs(names)
	assert.Equal(t, []string{
		"20250101_000000",
		"20250101_000000_1",
		"20250101_000000_9",
		"20250101_000000_10",
		"20250102_000000",
		"notes",
	}, names)
}

func TestMetadata_Fields(t *testing.T) {
	meta := NewMetadata("tfopwg_disp", nil, []string{"FP", "PC"}, "abc", "xgb", "n", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "2025-01-02 03:04:05", meta.CreatedAt)
	assert.Equal(t, exoml.Version, meta.LibraryVersion)
	assert.NotEmpty(t, meta.GoVersion)
	assert.Equal(t, []string{}, meta.DropCols)

	dir := t.TempDir()
	require.NoError(t, SaveMetadata(dir, meta))
	var back Metadata
	require.NoError(t, ReadJSON(filepath.Join(dir, MetadataFile), &back))
	assert.Equal(t, meta, back)
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := fittedPipeline(t)
	writeBundle(t, dir, p)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pl_rade", "st_teff"}, b.FeatureColumns)
	assert.Equal(t, []string{"FP", "PC"}, b.Pipeline.Classes())
	assert.Equal(t, "run-1", b.Version())

	b.Metadata.RunID = ""
	assert.Equal(t, filepath.Base(dir), b.Version())
}

func TestLoad_RejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	p := fittedPipeline(t)
	writeBundle(t, dir, p)
	require.NoError(t, SaveFeatureColumns(dir, []string{"st_teff", "pl_rade"}))

	_, err := Load(dir)
	var se *scierrors.SchemaError
	require.True(t, scierrors.As(err, &se))

	require.NoError(t, SaveFeatureColumns(dir, p.FeatureColumns))
	meta := NewMetadata("tfopwg_disp", nil, []string{"FP", "KP"}, "run-1", "rf", "", time.Now())
	require.NoError(t, SaveMetadata(dir, meta))
	_, err = Load(dir)
	assert.True(t, scierrors.As(err, &se))

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestEvaluateAndSave(t *testing.T) {
	dir := t.TempDir()
	yTrue := []string{"FP", "FP", "PC", "PC", "KP"}
	yPred := []string{"FP", "PC", "PC", "PC", "KP"}
	labels := []string{"FP", "KP", "PC"}

	m, err := EvaluateAndSave(dir, "test", yTrue, yPred, labels)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, m.Accuracy, 1e-12)
	assert.Equal(t, [][]int{{1, 0, 1}, {0, 1, 0}, {0, 0, 2}}, m.ConfusionMatrix)

	for _, name := range []string{"test_metrics.json", "test_classification_report.txt", "test_cm.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	var back TestMetrics
	require.NoError(t, ReadJSON(filepath.Join(dir, "test_metrics.json"), &back))
	assert.Equal(t, *m, back)
}

func TestSaveConfusionMatrixPlot_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cm.png")
	assert.Error(t, SaveConfusionMatrixPlot(path, [][]int{{1}}, []string{"a", "b"}, "x"))
	assert.Error(t, SaveConfusionMatrixPlot(path, nil, nil, "x"))
	// 全セル 0 でも描画できる
	assert.NoError(t, SaveConfusionMatrixPlot(path, [][]int{{0, 0}, {0, 0}}, []string{"a", "b"}, "x"))
}

func TestPlotWarningFallback(t *testing.T) {
	var warned []error
	scierrors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer scierrors.SetWarningHandler(nil)

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	SaveTrainingCurves(dir, nil, nil, nil, nil)
	_, err := os.Stat(filepath.Join(dir, "plot_warn.txt"))
	assert.NoError(t, err)

	writePlotWarning(filepath.Join(dir, "w.txt"), filepath.Join(missing, "cm.png"), scierrors.New("boom"))
	require.Len(t, warned, 2)
	var pw *scierrors.PlotWarning
	assert.True(t, scierrors.As(warned[1], &pw))
}

func TestSaveTrainingCurves(t *testing.T) {
	dir := t.TempDir()
	SaveTrainingCurves(dir, []float64{1, .5, .3}, []float64{1.1, .6, .5}, []float64{.5, .7, .8}, []float64{.4, .6, .7})
	for _, name := range []string{"dl_loss.png", "dl_accuracy.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	_, err := os.Stat(filepath.Join(dir, "plot_warn.txt"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, SaveDLMetadata(dir, DLMetadata{Target: "t", Classes: []string{"a"}, ModelKind: "mlp", InputDim: 7}))
	meta, err := LoadDLMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, meta.InputDim)
	assert.Equal(t, []string{}, meta.DropCols)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c, err := OpenCatalog(root)
	require.NoError(t, err)

	_, err = c.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.Record(ctx, RunRecord{RunID: "a", Dir: "d1", CreatedAt: base, Model: "rf", Accuracy: .8}))
	require.NoError(t, c.Record(ctx, RunRecord{RunID: "b", Dir: "d2", CreatedAt: base.Add(time.Minute), Model: "xgb", F1Macro: .7}))
	assert.Error(t, c.Record(ctx, RunRecord{}))

	latest, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.RunID)
	assert.True(t, latest.CreatedAt.Equal(base.Add(time.Minute)))

	runs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[1].RunID)
	assert.Equal(t, .8, runs[1].Accuracy)

	// 再オープンしても残っている
	require.NoError(t, c.Close())
	c2, err := OpenCatalog(root)
	require.NoError(t, err)
	defer c2.Close()
	runs, err = c2.List(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
