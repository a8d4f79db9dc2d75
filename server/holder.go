package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/YuminosukeSato/exoml/artifact"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// ModelHolder owns the bundle being served. Handlers read it on every
// request; a reload swaps it atomically.
type ModelHolder struct {
	current atomic.Pointer[artifact.Bundle]
}

// NewModelHolder returns a holder serving b (which may be nil).
func NewModelHolder(b *artifact.Bundle) *ModelHolder {
	h := &ModelHolder{}
	if b != nil {
		h.current.Store(b)
	}
	return h
}

// Get returns the served bundle or nil.
func (h *ModelHolder) Get() *artifact.Bundle { return h.current.Load() }

// Set replaces the served bundle.
func (h *ModelHolder) Set(b *artifact.Bundle) { h.current.Store(b) }

// LoadDir loads the bundle at dir and serves it.
func (h *ModelHolder) LoadDir(dir string) error {
	b, err := artifact.Load(dir)
	if err != nil {
		return err
	}
	h.Set(b)
	return nil
}

// ReloadLatest serves the newest catalogued run under root. It reports
// whether the served bundle changed.
func (h *ModelHolder) ReloadLatest(ctx context.Context, root string) (bool, error) {
	dir, runID, err := LatestBundleDir(ctx, root)
	if err != nil {
		return false, err
	}
	if cur := h.Get(); cur != nil && runID != "" && cur.Version() == runID {
		return false, nil
	}
	if err := h.LoadDir(dir); err != nil {
		return false, err
	}
	log.GetLoggerWithName("server").Info("model reloaded",
		log.ArtifactDirKey, dir,
		log.RunIDKey, h.Get().Version(),
	)
	return true, nil
}

// ResolveBundleDir accepts a bundle directory, a path to its pipeline file,
// or an artifact root (newest run).
func ResolveBundleDir(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "model path %s", path)
	}
	if !info.IsDir() {
		return filepath.Dir(path), nil
	}
	if isBundle(path) {
		return path, nil
	}
	dir, _, err := LatestBundleDir(ctx, path)
	return dir, err
}

// LatestBundleDir asks the run catalog for the newest run under root and
// falls back to the lexically newest timestamped directory.
func LatestBundleDir(ctx context.Context, root string) (dir, runID string, err error) {
	if _, statErr := os.Stat(filepath.Join(root, artifact.CatalogFile)); statErr == nil {
		cat, err := artifact.OpenCatalog(root)
		if err == nil {
			defer cat.Close()
			rec, err := cat.Latest(ctx)
			if err == nil && isBundle(rec.Dir) {
				return rec.Dir, rec.RunID, nil
			}
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", "", errors.Wrapf(err, "read artifact root %s", root)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && isBundle(filepath.Join(root, e.Name())) {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", "", errors.Newf("no artifact bundle under %s", root)
	}
	// YYYYMMDD_HHMMSS[_n] をタイムスタンプ、連番の順に並べる
	artifact.SortRunDirs(dirs)
	return filepath.Join(root, dirs[len(dirs)-1]), "", nil
}

func isBundle(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, artifact.PipelineFile))
	return err == nil && !info.IsDir()
}
