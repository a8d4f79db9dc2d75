package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// Reloader polls the run catalog on a cron schedule and swaps in the
// newest bundle.
type Reloader struct {
	holder  *ModelHolder
	metrics *Metrics
	root    string
	cron    *cron.Cron
	timeout time.Duration
	logger  log.Logger
}

// NewReloader validates spec (standard 5-field cron or a descriptor such
// as "@every 5m") and schedules reloads from root. Call Start to begin.
func NewReloader(holder *ModelHolder, metrics *Metrics, root, spec string) (*Reloader, error) {
	if metrics == nil {
		metrics = NewMetrics()
	}
	rl := &Reloader{
		holder:  holder,
		metrics: metrics,
		root:    root,
		cron:    cron.New(),
		timeout: time.Minute,
		logger:  log.GetLoggerWithName("reloader"),
	}
	if _, err := rl.cron.AddFunc(spec, func() { _ = rl.Reload(context.Background()) }); err != nil {
		return nil, errors.NewValidationError("reload_cron", err.Error(), spec)
	}
	return rl, nil
}

// Start runs the schedule in the background.
func (rl *Reloader) Start() {
	rl.cron.Start()
	rl.logger.Info("model reload scheduled", log.ArtifactDirKey, rl.root)
}

// Stop halts the schedule and waits for a running reload to finish.
func (rl *Reloader) Stop() {
	<-rl.cron.Stop().Done()
}

// Reload runs one reload immediately.
func (rl *Reloader) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()
	changed, err := rl.holder.ReloadLatest(ctx, rl.root)
	switch {
	case err != nil:
		rl.metrics.reloaded(ReloadFailed)
		rl.logger.Error("model reload failed", err, log.ArtifactDirKey, rl.root)
	case changed:
		rl.metrics.reloaded(ReloadChanged)
	default:
		rl.metrics.reloaded(ReloadUnchanged)
	}
	return err
}
