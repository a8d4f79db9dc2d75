// Package config resolves the run configuration: built-in defaults, a JSON
// or YAML file, or a named preset, merged one level deep onto the defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/model_selection"
	"github.com/YuminosukeSato/exoml/models"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// PresetPrefix may precede a preset name in an override.
const PresetPrefix = "preset:"

// Config is an immutable resolved configuration. Accessors return copies.
type Config struct {
	raw    map[string]interface{}
	source string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{raw: defaultMap(), source: "defaults"}
}

func defaultMap() map[string]interface{} {
	return map[string]interface{}{
		"target":       "tfopwg_disp",
		"drop_cols":    []interface{}{"rowid", "toi", "tid", "ctoi_alias", "rastr", "decstr", "toi_created", "rowupdate"},
		"test_size":    0.2,
		"random_state": 42,
		"use_smote":    false,
		"model": map[string]interface{}{
			"name": "random_forest",
			"params": map[string]interface{}{
				"random_state": 42,
				"class_weight": "balanced",
				"n_estimators": 200,
			},
		},
		"stacking": map[string]interface{}{
			"enabled": false,
			"base_models": []interface{}{
				[]interface{}{"xgb", map[string]interface{}{"n_estimators": 600, "learning_rate": 0.05, "max_depth": 6}},
				[]interface{}{"rf", map[string]interface{}{"n_estimators": 500, "class_weight": "balanced_subsample"}},
			},
			"final_model":    []interface{}{"logreg", map[string]interface{}{"C": 1.0}},
			"stacker_params": map[string]interface{}{"cv": 5},
		},
		"scoring": "balanced_accuracy",
		"grid_search": map[string]interface{}{
			"enabled": false,
			"cv":      5,
			"param_grid": map[string]interface{}{
				"clf__n_estimators":      []interface{}{200, 400},
				"clf__max_depth":         []interface{}{nil, 10, 20},
				"clf__min_samples_split": []interface{}{2, 5},
				"clf__min_samples_leaf":  []interface{}{1, 2},
				"clf__max_features":      []interface{}{"sqrt", "log2"},
			},
		},
		"cleaning": map[string]interface{}{
			"strategy":          string(dataset.CleanBasicColumnFilter),
			"max_missing":       0.8,
			"min_unique_ratio":  0.0005,
			"min_numeric_ratio": 0.95,
		},
		"notes": "RF pipeline with scaling+OHE",
	}
}

// Resolve returns the configuration for override:
//   - "" → defaults
//   - an existing file → parsed (JSON, or YAML for .yaml/.yml) and merged
//   - a preset name, optionally prefixed "preset:" → merged
//
// Anything else is a ConfigNotFoundError listing the presets.
func Resolve(override string) (*Config, error) {
	logger := log.GetLoggerWithName("config")
	if strings.TrimSpace(override) == "" {
		return Defaults(), nil
	}
	if info, err := os.Stat(override); err == nil && !info.IsDir() {
		over, err := ParseFile(override)
		if err != nil {
			return nil, err
		}
		logger.Info("config loaded", log.DataPathKey, override)
		return &Config{raw: Merge(defaultMap(), over), source: override}, nil
	}
	name := strings.TrimPrefix(override, PresetPrefix)
	if over, ok := presets[name]; ok {
		logger.Info("config preset applied", log.PresetKey, name)
		return &Config{raw: Merge(defaultMap(), deepCopyMap(over)), source: PresetPrefix + name}, nil
	}
	return nil, errors.NewConfigNotFoundError(override, PresetNames())
}

// ParseFile decodes a configuration file into a nested mapping.
func ParseFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var out map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, errors.Wrapf(err, "parse yaml config %s", path)
		}
	default:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, errors.Wrapf(err, "parse json config %s", path)
		}
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// Merge overlays over onto base one level deep: when both sides hold a
// mapping under the same key the inner keys are updated, otherwise the
// override value replaces the default. Deeper levels are replaced whole.
func Merge(base, over map[string]interface{}) map[string]interface{} {
	merged := deepCopyMap(base)
	for k, v := range over {
		ov, okOver := v.(map[string]interface{})
		bv, okBase := merged[k].(map[string]interface{})
		if okOver && okBase {
			tmp := deepCopyMap(bv)
			for ik, iv := range ov {
				tmp[ik] = deepCopy(iv)
			}
			merged[k] = tmp
			continue
		}
		merged[k] = deepCopy(v)
	}
	return merged
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// Source names where the configuration came from.
func (c *Config) Source() string { return c.source }

// With returns a new configuration with over shallow-merged on top, the
// same way a file override is applied.
func (c *Config) With(over map[string]interface{}) *Config {
	return &Config{raw: Merge(deepCopyMap(c.raw), deepCopyMap(over)), source: c.source}
}

// Raw returns a deep copy of the resolved mapping.
func (c *Config) Raw() map[string]interface{} { return deepCopyMap(c.raw) }

// MarshalJSON encodes the resolved mapping.
func (c *Config) MarshalJSON() ([]byte, error) { return json.Marshal(c.raw) }

func (c *Config) section(key string) map[string]interface{} {
	m, _ := c.raw[key].(map[string]interface{})
	return m
}

// Target is the label column.
func (c *Config) Target() string {
	s, _ := c.raw["target"].(string)
	return s
}

// DropCols lists columns removed before training and inference.
func (c *Config) DropCols() []string { return stringList(c.raw["drop_cols"]) }

// TestSize is the held-out fraction.
func (c *Config) TestSize() float64 { return number(c.raw["test_size"], 0.2) }

// RandomState is the split and model seed.
func (c *Config) RandomState() int64 { return int64(number(c.raw["random_state"], 42)) }

// UseSMOTE reports the oversampling flag. Oversampling is not implemented;
// the trainer logs a warning when it is set.
func (c *Config) UseSMOTE() bool {
	b, _ := c.raw["use_smote"].(bool)
	return b
}

// Scoring is the grid-search refit metric.
func (c *Config) Scoring() string {
	s, _ := c.raw["scoring"].(string)
	if s == "" {
		return "balanced_accuracy"
	}
	return s
}

// Notes is free text stored in the artifact metadata.
func (c *Config) Notes() string {
	s, _ := c.raw["notes"].(string)
	return s
}

// Model returns the single-model spec.
func (c *Config) Model() models.Spec {
	m := c.section("model")
	name, _ := m["name"].(string)
	params, _ := deepCopy(m["params"]).(map[string]interface{})
	return models.Spec{Name: name, Params: params}
}

// StackingConfig is the "stacking" section.
type StackingConfig struct {
	Enabled       bool
	BaseModels    []models.Spec
	FinalModel    models.Spec
	StackerParams map[string]interface{}
}

// Stacking parses the "stacking" section.
func (c *Config) Stacking() (StackingConfig, error) {
	m := c.section("stacking")
	sc := StackingConfig{}
	sc.Enabled, _ = m["enabled"].(bool)
	if raw, ok := m["base_models"].([]interface{}); ok {
		for _, item := range raw {
			spec, err := models.ParseSpec(deepCopy(item))
			if err != nil {
				return sc, errors.Wrap(err, "stacking.base_models")
			}
			sc.BaseModels = append(sc.BaseModels, spec)
		}
	}
	sc.FinalModel = models.Spec{Name: "logreg", Params: map[string]interface{}{"C": 1.0}}
	if raw, ok := m["final_model"]; ok && raw != nil {
		spec, err := models.ParseSpec(deepCopy(raw))
		if err != nil {
			return sc, errors.Wrap(err, "stacking.final_model")
		}
		sc.FinalModel = spec
	}
	sc.StackerParams, _ = deepCopy(m["stacker_params"]).(map[string]interface{})
	return sc, nil
}

// GridSearchConfig is the "grid_search" section.
type GridSearchConfig struct {
	Enabled   bool
	CV        int
	NJobs     int
	ParamGrid model_selection.ParamGrid
}

// Active reports whether a search should run: enabled with a non-empty grid.
func (g GridSearchConfig) Active() bool { return g.Enabled && len(g.ParamGrid) > 0 }

// GridSearch parses the "grid_search" section.
func (c *Config) GridSearch() (GridSearchConfig, error) {
	m := c.section("grid_search")
	gc := GridSearchConfig{CV: int(number(m["cv"], 5)), NJobs: int(number(m["n_jobs"], 1))}
	gc.Enabled, _ = m["enabled"].(bool)
	if raw, ok := m["param_grid"].(map[string]interface{}); ok {
		grid, err := model_selection.ParseParamGrid(deepCopyMap(raw))
		if err != nil {
			return gc, err
		}
		gc.ParamGrid = grid
	}
	return gc, nil
}

// Cleaning parses the "cleaning" section over the default thresholds.
func (c *Config) Cleaning() (dataset.CleaningOptions, error) {
	opts := dataset.DefaultCleaningOptions()
	m := c.section("cleaning")
	if s, ok := m["strategy"].(string); ok {
		opts.Strategy = dataset.CleaningStrategy(s)
	}
	opts.MaxMissing = number(m["max_missing"], opts.MaxMissing)
	opts.MinUniqueRatio = number(m["min_unique_ratio"], opts.MinUniqueRatio)
	opts.MinNumericRatio = number(m["min_numeric_ratio"], opts.MinNumericRatio)
	return opts, opts.Validate()
}

func number(v interface{}, def float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return def
}

func stringList(v interface{}) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PresetNames lists the registered presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
