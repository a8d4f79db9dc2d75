// Package artifact writes and reads the trained-model bundle: one
// timestamped directory per run holding the pipeline, the feature column
// order, metadata, test metrics and plots.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/exoml"
	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/pipeline"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// Bundle file names.
const (
	PipelineFile       = "pipeline.gob"
	FeatureColumnsFile = "feature_columns.json"
	MetadataFile       = "metadata.json"
)

const (
	dirLayout       = "20060102_150405"
	createdAtLayout = "2006-01-02 15:04:05"
)

// NewRunDir creates <root>/<YYYYMMDD_HHMMSS>. When that directory already
// exists "_1", "_2", ... is appended so every run gets a fresh directory.
func NewRunDir(root string, now time.Time) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", errors.Wrapf(err, "create artifact root %s", root)
	}
	base := filepath.Join(root, now.Format(dirLayout))
	dir := base
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrapf(err, "create run directory %s", dir)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// SortRunDirs orders run directory names oldest first: by timestamp, then
// by collision suffix, so "_10" follows "_9". Names that NewRunDir would
// not produce fall back to plain string order on the whole name.
func SortRunDirs(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		si, ni := runDirKey(names[i])
		sj, nj := runDirKey(names[j])
		if si != sj {
			return si < sj
		}
		return ni < nj
	})
}

func runDirKey(name string) (string, int) {
	if len(name) < len(dirLayout) {
		return name, 0
	}
	stamp, rest := name[:len(dirLayout)], name[len(dirLayout):]
	if _, err := time.Parse(dirLayout, stamp); err != nil {
		return name, 0
	}
	if rest == "" {
		return stamp, 0
	}
	if !strings.HasPrefix(rest, "_") {
		return name, 0
	}
	n, err := strconv.Atoi(rest[1:])
	if err != nil || n < 1 {
		return name, 0
	}
	return stamp, n
}

// Metadata is metadata.json.
type Metadata struct {
	Target         string   `json:"target"`
	DropCols       []string `json:"drop_cols"`
	Classes        []string `json:"classes"`
	CreatedAt      string   `json:"created_at"`
	LibraryVersion string   `json:"library_version"`
	GoVersion      string   `json:"go_version"`
	RunID          string   `json:"run_id,omitempty"`
	Model          string   `json:"model,omitempty"`
	Notes          string   `json:"notes"`
}

// NewMetadata fills the version fields and created_at.
func NewMetadata(target string, dropCols, classes []string, runID, modelName, notes string, now time.Time) Metadata {
	if dropCols == nil {
		dropCols = []string{}
	}
	return Metadata{
		Target:         target,
		DropCols:       dropCols,
		Classes:        classes,
		CreatedAt:      now.Format(createdAtLayout),
		LibraryVersion: exoml.Version,
		GoVersion:      runtime.Version(),
		RunID:          runID,
		Model:          modelName,
		Notes:          notes,
	}
}

// WriteJSON writes v indented by two spaces.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// ReadJSON decodes path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// SavePipeline gob-encodes the trained pipeline.
func SavePipeline(dir string, p *pipeline.Pipeline) error {
	return model.SaveModel(p, filepath.Join(dir, PipelineFile))
}

// SaveFeatureColumns writes the training column order.
func SaveFeatureColumns(dir string, cols []string) error {
	return WriteJSON(filepath.Join(dir, FeatureColumnsFile), cols)
}

// SaveMetadata writes metadata.json.
func SaveMetadata(dir string, meta Metadata) error {
	return WriteJSON(filepath.Join(dir, MetadataFile), meta)
}

// Bundle is a loaded artifact directory.
type Bundle struct {
	Dir            string
	Pipeline       *pipeline.Pipeline
	FeatureColumns []string
	Metadata       Metadata
}

// Version identifies the bundle: its run id, or the directory name for
// bundles written without one.
func (b *Bundle) Version() string {
	if b.Metadata.RunID != "" {
		return b.Metadata.RunID
	}
	return filepath.Base(b.Dir)
}

// Load reads a bundle and checks that the feature columns and classes agree
// with the pipeline.
func Load(dir string) (*Bundle, error) {
	start := time.Now()
	b := &Bundle{Dir: dir, Pipeline: &pipeline.Pipeline{}}
	if err := model.LoadModel(b.Pipeline, filepath.Join(dir, PipelineFile)); err != nil {
		return nil, errors.Wrapf(err, "load pipeline from %s", dir)
	}
	if err := ReadJSON(filepath.Join(dir, FeatureColumnsFile), &b.FeatureColumns); err != nil {
		return nil, err
	}
	if err := ReadJSON(filepath.Join(dir, MetadataFile), &b.Metadata); err != nil {
		return nil, err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	log.GetLoggerWithName("artifact").Info("bundle loaded",
		log.ArtifactDirKey, dir,
		log.RunIDKey, b.Version(),
		log.ColumnsKey, len(b.FeatureColumns),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return b, nil
}

func (b *Bundle) validate() error {
	if !b.Pipeline.IsFitted() {
		return errors.NewNotFittedError("Pipeline", "Load")
	}
	if !sameStrings(b.FeatureColumns, b.Pipeline.FeatureColumns) {
		return errors.NewSchemaError("artifact.Load", "feature_columns.json disagrees with the pipeline", b.FeatureColumns...)
	}
	if b.Metadata.Classes != nil && !sameStrings(b.Metadata.Classes, b.Pipeline.Classes()) {
		return errors.NewSchemaError("artifact.Load", "metadata classes disagree with the pipeline", b.Metadata.Classes...)
	}
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
