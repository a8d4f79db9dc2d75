package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/models"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "tfopwg_disp", c.Target())
	assert.Equal(t, []string{"rowid", "toi", "tid", "ctoi_alias", "rastr", "decstr", "toi_created", "rowupdate"}, c.DropCols())
	assert.Equal(t, 0.2, c.TestSize())
	assert.Equal(t, int64(42), c.RandomState())
	assert.False(t, c.UseSMOTE())
	assert.Equal(t, "balanced_accuracy", c.Scoring())

	m := c.Model()
	assert.Equal(t, "random_forest", m.Name)
	assert.Equal(t, 200, m.Params["n_estimators"])

	st, err := c.Stacking()
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	require.Len(t, st.BaseModels, 2)
	assert.Equal(t, "xgb", st.BaseModels[0].Name)
	assert.Equal(t, "logreg", st.FinalModel.Name)
	assert.Equal(t, 5, st.StackerParams["cv"])

	gs, err := c.GridSearch()
	require.NoError(t, err)
	assert.False(t, gs.Active())
	assert.Equal(t, 5, gs.CV)
	assert.Equal(t, 48, gs.ParamGrid.Size())

	cl, err := c.Cleaning()
	require.NoError(t, err)
	assert.Equal(t, dataset.DefaultCleaningOptions(), cl)
}

func TestResolve_FileShallowMerge(t *testing.T) {
	path := writeFile(t, "cfg.json", `{
		"test_size": 0.3,
		"model": {"params": {"n_estimators": 50}},
		"grid_search": {"enabled": true}
	}`)
	c, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, 0.3, c.TestSize())

	// model.name は既定値が残り、params は丸ごと置き換わる
	m := c.Model()
	assert.Equal(t, "random_forest", m.Name)
	assert.Equal(t, map[string]interface{}{"n_estimators": 50.0}, m.Params)

	gs, err := c.GridSearch()
	require.NoError(t, err)
	assert.True(t, gs.Active())
	assert.Equal(t, 5, gs.CV)
	assert.Equal(t, "tfopwg_disp", c.Target())
	assert.Equal(t, path, c.Source())
}

func TestResolve_YAML(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "target: disposition\nmodel:\n  name: xgb\n  params:\n    max_depth: 4\ncleaning:\n  strategy: basic\n")
	c, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, "disposition", c.Target())
	assert.Equal(t, models.Spec{Name: "xgb", Params: map[string]interface{}{"max_depth": 4}}, c.Model())
	cl, err := c.Cleaning()
	require.NoError(t, err)
	assert.Equal(t, dataset.CleanBasic, cl.Strategy)
	assert.Equal(t, 0.8, cl.MaxMissing)
}

func TestResolve_Idempotent(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"scoring": "f1_macro", "stacking": {"enabled": true}}`)
	a, err := Resolve(path)
	require.NoError(t, err)
	b, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, a.Raw(), b.Raw())

	// 解決済みの設定をもう一度マージしても変わらない
	assert.Equal(t, a.Raw(), Merge(a.Raw(), a.Raw()))
}

func TestResolve_Presets(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			c, err := Resolve(name)
			require.NoError(t, err)
			_, err = c.Model().Resolve()
			assert.NoError(t, err)
			prefixed, err := Resolve(PresetPrefix + name)
			require.NoError(t, err)
			assert.Equal(t, c.Raw(), prefixed.Raw())
		})
	}
	assert.Equal(t, []string{"extra_trees", "histgb", "logreg", "mlp", "rf", "rf_grid", "stack_basic", "svc", "xgb"}, PresetNames())

	c, err := Resolve("stack_basic")
	require.NoError(t, err)
	st, err := c.Stacking()
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Len(t, st.BaseModels, 2)
}

func TestResolve_NotFound(t *testing.T) {
	_, err := Resolve("missing.json")
	var nf *scierrors.ConfigNotFoundError
	require.True(t, scierrors.As(err, &nf))
	assert.Equal(t, PresetNames(), nf.Available)

	_, err = Resolve(writeFile(t, "bad.json", "{not json"))
	assert.Error(t, err)
}

func TestConfig_Immutable(t *testing.T) {
	c := Defaults()
	c.Raw()["target"] = "other"
	c.DropCols()[0] = "changed"
	c.Model().Params["n_estimators"] = 1
	assert.Equal(t, "tfopwg_disp", c.Target())
	assert.Equal(t, "rowid", c.DropCols()[0])
	assert.Equal(t, 200, c.Model().Params["n_estimators"])

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"target":"tfopwg_disp"`)
}

func TestConfig_InvalidSections(t *testing.T) {
	c, err := Resolve(writeFile(t, "c.json", `{"cleaning": {"strategy": "aggressive"}}`))
	require.NoError(t, err)
	_, err = c.Cleaning()
	assert.Error(t, err)

	c, err = Resolve(writeFile(t, "s.json", `{"stacking": {"base_models": [[3]]}}`))
	require.NoError(t, err)
	_, err = c.Stacking()
	assert.Error(t, err)
}
