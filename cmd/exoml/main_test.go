package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/exoml/artifact"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/infer"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "warn"))
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func writeTable(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("toi,pl_rade,pl_orbper,st_teff,tfopwg_disp\n")
	labels := []string{"FP", "PC"}
	for i := 0; i < n; i++ {
		k := i % 2
		fmt.Fprintf(&b, "%d.01,%.3f,%.3f,%.1f,%s\n", 100+i,
			1+float64(k)*5+float64(i%5)*0.1,
			3+float64(k)*20+float64(i%7)*0.3,
			5200+float64(k)*600+float64(i%3)*10,
			labels[k])
	}
	path := filepath.Join(dir, "toi.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestTrainInferRuns(t *testing.T) {
	dir := t.TempDir()
	input := writeTable(t, dir, 60)
	cfg := filepath.Join(dir, "fast.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"model": {"name": "rf", "params": {"n_estimators": 15}}}`), 0o644))
	outDir := filepath.Join(dir, "artifacts")

	runDir, err := run(t, "train", "--input", input, "--config", cfg, "--outdir", outDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(runDir, artifact.PipelineFile))
	assert.FileExists(t, filepath.Join(runDir, "test_metrics.json"))

	preds := filepath.Join(dir, "preds.csv")
	got, err := run(t, "infer", "--input", input, "--artifacts", runDir, "--output", preds, "--with-proba")
	require.NoError(t, err)
	assert.Equal(t, preds, got)
	f, err := dataset.LoadTable(preds)
	require.NoError(t, err)
	assert.Equal(t, 60, f.NRows())
	assert.True(t, f.Has(infer.PredLabelColumn))
	assert.True(t, f.Has(infer.ProbaColumnPrefix+"PC"))

	list, err := run(t, "runs", "--outdir", outDir)
	require.NoError(t, err)
	lines := strings.Split(list, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RUN ID")
	assert.Contains(t, lines[1], "random_forest")
	assert.Contains(t, lines[1], runDir)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	input := writeTable(t, dir, 20)

	_, err := run(t, "train")
	assert.Error(t, err, "--input is required")

	_, err = run(t, "train", "--input", input, "--config", "no_such_preset", "--outdir", filepath.Join(dir, "a"))
	assert.ErrorContains(t, err, "no_such_preset")

	_, err = run(t, "train-dl", "--input", input, "--model", "rf", "--outdir", filepath.Join(dir, "b"))
	assert.Error(t, err)

	_, err = run(t, "serve", "--model-path", filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = run(t, "train", "--input", input, "--log-format", "xml")
	assert.ErrorContains(t, err, "log format")
}

func TestTrainPrintsAbsoluteDir(t *testing.T) {
	dir := t.TempDir()
	_ = writeTable(t, dir, 40)
	cfg := filepath.Join(dir, "fast.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"model": {"name": "rf", "params": {"n_estimators": 5}}}`), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	got, err := run(t, "train", "--input", "toi.csv", "--config", cfg, "--outdir", "rel_artifacts")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got), got)
	assert.DirExists(t, got)
	assert.Equal(t, filepath.Join(dir, "rel_artifacts"), filepath.Dir(got))
}
