package train

import (
	"context"
	"time"

	"github.com/YuminosukeSato/exoml/artifact"
	"github.com/YuminosukeSato/exoml/config"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/models"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
	"github.com/YuminosukeSato/exoml/sklearn/neural_network"
)

// DLOptions configures RunDL. Zero values take the CLI defaults.
type DLOptions struct {
	Input  string
	Config *config.Config
	OutDir string
	// Model is mlp or mlp_bn.
	Model     string
	Epochs    int
	BatchSize int
	// ValSplit is the trailing share of the training rows used for early stopping.
	ValSplit  float64
	Now       func() time.Time
	NoCatalog bool
}

func (o *DLOptions) defaults() {
	if o.Model == "" {
		o.Model = neural_network.KindMLP
	}
	if o.Epochs == 0 {
		o.Epochs = 60
	}
	if o.BatchSize == 0 {
		o.BatchSize = 128
	}
	if o.ValSplit == 0 {
		o.ValSplit = 0.2
	}
}

// RunDL trains a dense network. The neural variant always uses basic
// cleaning and never searches or stacks. The bundle has the same layout as
// Run's, plus dl_metadata.json and the loss and accuracy curves, so the
// inference runner serves it unchanged.
func RunDL(ctx context.Context, opts DLOptions) (*Result, error) {
	opts.defaults()
	k, err := models.ParseKind(opts.Model)
	if err != nil {
		return nil, err
	}
	if !k.Neural() {
		return nil, errors.NewValidationError("model", "train-dl expects mlp or mlp_bn", opts.Model)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	// 深層学習側は basic のみ (列フィルタと数値変換は行わない)
	over := map[string]interface{}{
		"cleaning":    map[string]interface{}{"strategy": string(dataset.CleanBasic)},
		"stacking":    map[string]interface{}{"enabled": false},
		"grid_search": map[string]interface{}{"enabled": false},
		"model": map[string]interface{}{
			"name": k.String(),
			"params": map[string]interface{}{
				"epochs":              opts.Epochs,
				"batch_size":          opts.BatchSize,
				"validation_fraction": opts.ValSplit,
				"random_state":        cfg.RandomState(),
			},
		},
	}
	if cfg.Notes() == config.Defaults().Notes() {
		over["notes"] = "dense network (" + k.String() + ")"
	}
	r, err := newRunner(Options{
		Input:     opts.Input,
		Config:    cfg.With(over),
		OutDir:    opts.OutDir,
		Now:       opts.Now,
		NoCatalog: opts.NoCatalog,
	})
	if err != nil {
		return nil, err
	}
	r.logger = log.GetLoggerWithName("train_dl")
	r.persistExtra = func() error { return r.persistDL(k) }

	start := time.Now()
	r.logger.Info("neural training started",
		log.RunIDKey, r.runID,
		log.DataPathKey, opts.Input,
		log.ModelKindKey, k.String(),
		log.EpochKey, opts.Epochs,
	)
	if err := r.run(ctx); err != nil {
		return nil, err
	}
	r.logger.Info("neural training complete",
		log.ArtifactDirKey, r.runDir,
		log.AccuracyKey, r.metrics.Accuracy,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &Result{
		Dir:             r.runDir,
		RunID:           r.runID,
		ModelName:       k.String(),
		Metrics:         r.metrics,
		Test:            r.xTest,
		TestTruth:       r.yTest,
		TestPredictions: r.yPred,
		DroppedColumns:  r.dropped,
	}, nil
}

func (r *runner) persistDL(k models.Kind) error {
	mlp, ok := r.pipe.Classifier.(*neural_network.MLPClassifier)
	if !ok {
		return errors.NewValueError("train.RunDL", "pipeline classifier is not a dense network")
	}
	meta := artifact.DLMetadata{
		Target:    r.plan.target,
		DropCols:  r.plan.dropCols,
		Classes:   r.pipe.Classes(),
		ModelKind: k.String(),
		InputDim:  r.pipe.Preprocessor.NumOutputFeatures(),
	}
	if err := artifact.SaveDLMetadata(r.runDir, meta); err != nil {
		return err
	}
	h := mlp.History
	artifact.SaveTrainingCurves(r.runDir, h.Loss, h.ValLoss, h.Accuracy, h.ValAccuracy)
	r.logger.Info("network summary",
		log.ModelKindKey, k.String(),
		log.FeaturesKey, meta.InputDim,
		log.EpochKey, len(h.Loss),
		"best_epoch", mlp.BestEpoch,
	)
	return nil
}
