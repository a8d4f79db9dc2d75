// Package train runs the training workflow:
//
//	Load → Clean → ColumnFilter → Split → Fit → (GridSearch-refit) → Evaluate → Persist
//
// Configuration problems (missing target, unknown model names, an invalid
// parameter grid) are reported before any estimator is fitted, and nothing
// is written to disk before the Persist stage.
package train

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/exoml/artifact"
	"github.com/YuminosukeSato/exoml/config"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/model_selection"
	"github.com/YuminosukeSato/exoml/models"
	"github.com/YuminosukeSato/exoml/pipeline"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
	"github.com/YuminosukeSato/exoml/preprocessing"
)

// Stage names logged under ml.phase.
const (
	StageLoad         = "load"
	StageClean        = "clean"
	StageColumnFilter = "column_filter"
	StageSplit        = "split"
	StageFit          = "fit"
	StageGridSearch   = "grid_search"
	StageEvaluate     = "evaluate"
	StagePersist      = "persist"
)

// DefaultOutDir is the artifact root used when Options.OutDir is empty.
const DefaultOutDir = "artifacts"

// Options configures Run.
type Options struct {
	// Input is the delimited training table.
	Input string
	// Config is the resolved configuration. Nil means defaults.
	Config *config.Config
	// OutDir is the artifact root.
	OutDir string
	// Now stamps the run directory and metadata. Nil means time.Now.
	Now func() time.Time
	// NoCatalog skips recording the run in <OutDir>/runs.db.
	NoCatalog bool
}

// Result describes a finished run.
type Result struct {
	Dir   string
	RunID string
	// ModelName is the normalised family name, or "stacking".
	ModelName string
	Metrics   *artifact.TestMetrics
	// Test holds the held-out feature rows (target removed) in split order.
	Test            *dataset.Frame
	TestTruth       []string
	TestPredictions []string
	DroppedColumns  []string
	// GridSearch is set when a search ran.
	GridSearch *GridSearchSummary
}

// GridSearchSummary is written to grid_search_results.json.
type GridSearchSummary struct {
	Scoring    string                    `json:"scoring"`
	CV         int                       `json:"cv"`
	BestParams map[string]interface{}    `json:"best_params"`
	BestScore  float64                   `json:"best_score"`
	BestIndex  int                       `json:"best_index"`
	Results    model_selection.CVResults `json:"cv_results"`
}

// plan is everything decided from the configuration before data is read.
type plan struct {
	target    string
	dropCols  []string
	cleaning  dataset.CleaningOptions
	model     models.Spec
	modelName string
	stacking  config.StackingConfig
	search    config.GridSearchConfig
	scoring   string
}

type runner struct {
	opts   Options
	cfg    *config.Config
	plan   plan
	logger log.Logger
	runID  string

	frame   *dataset.Frame
	dropped []string
	xTrain  *dataset.Frame
	yTrain  []string
	xTest   *dataset.Frame
	yTest   []string
	pipe    *pipeline.Pipeline
	summary *GridSearchSummary
	yPred   []string
	metrics *artifact.TestMetrics
	runDir  string

	// persistExtra writes variant-specific files before the run is catalogued.
	persistExtra func() error
}

// Run trains one model per the configuration and writes an artifact bundle.
func Run(ctx context.Context, opts Options) (*Result, error) {
	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	r.logger.Info("training started",
		log.RunIDKey, r.runID,
		log.DataPathKey, opts.Input,
		log.PresetKey, r.cfg.Source(),
		log.ModelNameKey, r.plan.modelName,
	)

	if err := r.run(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("training complete",
		log.RunIDKey, r.runID,
		log.ArtifactDirKey, r.runDir,
		log.AccuracyKey, r.metrics.Accuracy,
		log.F1MacroKey, r.metrics.F1Macro,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &Result{
		Dir:             r.runDir,
		RunID:           r.runID,
		ModelName:       r.plan.modelName,
		Metrics:         r.metrics,
		Test:            r.xTest,
		TestTruth:       r.yTest,
		TestPredictions: r.yPred,
		DroppedColumns:  r.dropped,
		GridSearch:      r.summary,
	}, nil
}

func (r *runner) run(ctx context.Context) error {
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageLoad, r.load},
		{StageClean, r.clean},
		{StageColumnFilter, r.columnFilter},
		{StageSplit, r.split},
		{StageFit, r.fit},
		{StageEvaluate, r.evaluate},
		{StagePersist, r.persist},
	}
	for _, s := range stages {
		if err := r.stage(ctx, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func newRunner(opts Options) (*runner, error) {
	if opts.Input == "" {
		return nil, errors.NewValidationError("input", "a training table is required", opts.Input)
	}
	if opts.Config == nil {
		opts.Config = config.Defaults()
	}
	if opts.OutDir == "" {
		opts.OutDir = DefaultOutDir
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p, err := planFrom(opts.Config)
	if err != nil {
		return nil, err
	}
	return &runner{
		opts:   opts,
		cfg:    opts.Config,
		plan:   p,
		logger: log.GetLoggerWithName("train"),
		runID:  uuid.NewString(),
	}, nil
}

// planFrom validates every configuration section that can fail later.
func planFrom(cfg *config.Config) (plan, error) {
	p := plan{
		target:   cfg.Target(),
		dropCols: cfg.DropCols(),
		model:    cfg.Model(),
		scoring:  cfg.Scoring(),
	}
	if p.target == "" {
		return p, errors.NewValidationError("target", "must name the label column", p.target)
	}
	var err error
	if p.cleaning, err = cfg.Cleaning(); err != nil {
		return p, err
	}
	if p.stacking, err = cfg.Stacking(); err != nil {
		return p, err
	}
	if p.search, err = cfg.GridSearch(); err != nil {
		return p, err
	}

	if p.stacking.Enabled {
		if len(p.stacking.BaseModels) == 0 {
			return p, errors.NewValidationError("stacking.base_models", "must not be empty", nil)
		}
		for _, b := range append(append([]models.Spec(nil), p.stacking.BaseModels...), p.stacking.FinalModel) {
			if _, err := b.Resolve(); err != nil {
				return p, err
			}
		}
		p.modelName = "stacking"
	} else {
		k, err := p.model.Resolve()
		if err != nil {
			return p, err
		}
		p.modelName = k.String()
	}

	if p.search.Enabled {
		if len(p.search.ParamGrid) == 0 {
			return p, errors.NewValidationError("grid_search.param_grid", "must not be empty when grid search is enabled", nil)
		}
		if err := p.search.ParamGrid.Validate(pipeline.StepClassifier, pipeline.StepPreprocessor); err != nil {
			return p, err
		}
	}
	if cfg.UseSMOTE() {
		log.GetLoggerWithName("train").Warn("use_smote is set but oversampling is not available; training on the original class balance")
	}
	return p, nil
}

func (r *runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "training interrupted before %s", name)
	}
	start := time.Now()
	r.logger.Debug("stage started", log.PhaseKey, name, log.RunIDKey, r.runID)
	if err := fn(ctx); err != nil {
		r.logger.Error("stage failed", err, log.PhaseKey, name, log.RunIDKey, r.runID)
		return errors.Wrapf(err, "%s stage", name)
	}
	r.logger.Info("stage finished",
		log.PhaseKey, name,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (r *runner) load(context.Context) error {
	f, err := dataset.LoadTable(r.opts.Input)
	if err != nil {
		return err
	}
	r.frame = f
	r.logger.Info("table loaded", log.SamplesKey, f.NRows(), log.ColumnsKey, f.NCols())
	return nil
}

func (r *runner) clean(context.Context) error {
	r.frame = r.plan.cleaning.CleanStage(r.frame)
	if !r.frame.Has(r.plan.target) {
		return errors.NewSchemaError("train.Clean", "target column not found in input", r.plan.target)
	}
	return nil
}

func (r *runner) columnFilter(context.Context) error {
	r.frame, r.dropped = r.plan.cleaning.ColumnFilterStage(r.frame, r.plan.target, r.plan.dropCols)
	if len(r.dropped) > 0 {
		r.logger.Info("columns filtered", log.ColumnsKey, r.dropped)
	}
	if r.frame.NRows() == 0 {
		return errors.Wrap(errors.ErrEmptyData, "no labelled rows left after cleaning")
	}
	return nil
}

func (r *runner) split(context.Context) error {
	tc, _ := r.frame.Column(r.plan.target)
	y := tc.Labels()
	X := r.frame.Drop(r.plan.target)
	trainIdx, testIdx, err := dataset.StratifiedSplit(y, r.cfg.TestSize(), r.cfg.RandomState())
	if err != nil {
		return err
	}
	r.xTrain, r.yTrain = X.Take(trainIdx), pick(y, trainIdx)
	r.xTest, r.yTest = X.Take(testIdx), pick(y, testIdx)
	r.logger.Info("split done",
		"train", len(trainIdx),
		"test", len(testIdx),
		log.ClassesKey, dataset.UniqueLabels(y),
		log.RandomSeedKey, r.cfg.RandomState(),
	)
	return nil
}

func pick(y []string, rows []int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}

func (r *runner) build() (*pipeline.Pipeline, error) {
	pre := preprocessing.BuildPreprocessor(r.xTrain)
	if r.plan.stacking.Enabled {
		st := r.plan.stacking
		return models.BuildStackingPipeline(pre, st.BaseModels, st.FinalModel, st.StackerParams)
	}
	return models.BuildPipeline(pre, r.plan.model.Name, r.plan.model.Params)
}

func (r *runner) fit(ctx context.Context) error {
	pipe, err := r.build()
	if err != nil {
		return err
	}
	if !r.plan.search.Enabled {
		if err := pipe.Fit(r.xTrain, r.yTrain); err != nil {
			return err
		}
		r.pipe = pipe
		return nil
	}
	return r.stage(ctx, StageGridSearch, func(context.Context) error {
		gs := model_selection.NewGridSearchCV(pipe, r.plan.search.ParamGrid, r.plan.scoring)
		gs.CV = r.plan.search.CV
		gs.NJobs = r.plan.search.NJobs
		if err := gs.Fit(r.xTrain, r.yTrain); err != nil {
			return err
		}
		r.pipe = gs.BestEstimator
		r.summary = &GridSearchSummary{
			Scoring:    r.plan.scoring,
			CV:         gs.CV,
			BestParams: gs.BestParams,
			BestScore:  gs.BestScore,
			BestIndex:  gs.BestIndex,
			Results:    gs.CVResults,
		}
		return nil
	})
}

func (r *runner) evaluate(context.Context) error {
	pred, err := r.pipe.Predict(r.xTest)
	if err != nil {
		return err
	}
	r.yPred = pred
	// ラベル順は学習データの語彙 (ソート済み)
	r.metrics, err = artifact.Evaluate(r.yTest, pred, dataset.UniqueLabels(r.yTrain))
	if err != nil {
		return err
	}
	r.logger.Info("held-out evaluation",
		log.AccuracyKey, r.metrics.Accuracy,
		"metrics.balanced_accuracy", r.metrics.BalancedAccuracy,
		log.F1MacroKey, r.metrics.F1Macro,
	)
	return nil
}

func (r *runner) persist(ctx context.Context) error {
	now := r.opts.Now()
	dir, err := artifact.NewRunDir(r.opts.OutDir, now)
	if err != nil {
		return err
	}
	r.runDir = dir
	labels := dataset.UniqueLabels(r.yTrain)
	meta := artifact.NewMetadata(r.plan.target, r.plan.dropCols, labels, r.runID, r.plan.modelName, r.cfg.Notes(), now)

	if err := artifact.SavePipeline(dir, r.pipe); err != nil {
		return err
	}
	if err := artifact.SaveFeatureColumns(dir, r.xTrain.Names()); err != nil {
		return err
	}
	if err := artifact.SaveMetadata(dir, meta); err != nil {
		return err
	}
	if err := artifact.WriteJSON(filepath.Join(dir, ConfigFile), r.cfg); err != nil {
		return err
	}
	if r.summary != nil {
		if err := artifact.WriteJSON(filepath.Join(dir, GridSearchFile), r.summary); err != nil {
			return err
		}
	}
	if err := artifact.SaveMetrics(dir, "test", r.metrics); err != nil {
		return err
	}
	if r.persistExtra != nil {
		if err := r.persistExtra(); err != nil {
			return err
		}
	}
	r.record(ctx, now)
	return nil
}

// Extra bundle files written by the trainer.
const (
	ConfigFile     = "config.json"
	GridSearchFile = "grid_search_results.json"
)

// record indexes the run. The bundle is already complete, so a catalog
// failure is only logged.
func (r *runner) record(ctx context.Context, now time.Time) {
	if r.opts.NoCatalog {
		return
	}
	cat, err := artifact.OpenCatalog(r.opts.OutDir)
	if err != nil {
		r.logger.Warn("run catalog unavailable", log.ArtifactDirKey, r.opts.OutDir, "error", err.Error())
		return
	}
	defer cat.Close()
	abs, err := filepath.Abs(r.runDir)
	if err != nil {
		abs = r.runDir
	}
	err = cat.Record(ctx, artifact.RunRecord{
		RunID:            r.runID,
		Dir:              abs,
		CreatedAt:        now,
		Model:            r.plan.modelName,
		Accuracy:         r.metrics.Accuracy,
		BalancedAccuracy: r.metrics.BalancedAccuracy,
		F1Macro:          r.metrics.F1Macro,
	})
	if err != nil {
		r.logger.Warn("failed to record run", log.RunIDKey, r.runID, "error", err.Error())
	}
}
