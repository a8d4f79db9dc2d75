package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// CatalogFile lives in the artifact root next to the run directories.
const CatalogFile = "runs.db"

// ErrNoRuns is returned by Latest on an empty catalog.
var ErrNoRuns = errors.New("run catalog is empty")

// RunRecord is one row of the run catalog.
type RunRecord struct {
	RunID            string    `json:"run_id"`
	Dir              string    `json:"dir"`
	CreatedAt        time.Time `json:"created_at"`
	Model            string    `json:"model"`
	Accuracy         float64   `json:"accuracy"`
	BalancedAccuracy float64   `json:"balanced_accuracy"`
	F1Macro          float64   `json:"f1_macro"`
}

// Catalog indexes finished runs in <root>/runs.db.
type Catalog struct {
	db   *sql.DB
	path string
}

// OpenCatalog opens (or creates) the catalog under root.
func OpenCatalog(root string) (*Catalog, error) {
	path := filepath.Join(root, CatalogFile)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open run catalog %s", path)
	}
	// 書き込みは直列化されるので接続は 1 本で足りる
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "connect run catalog %s", path)
	}
	c := &Catalog{db: db, path: path}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		dir TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		model TEXT NOT NULL,
		accuracy REAL NOT NULL,
		balanced_accuracy REAL NOT NULL,
		f1_macro REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`
	if _, err := c.db.Exec(schema); err != nil {
		return errors.Wrap(err, "initialize run catalog schema")
	}
	return nil
}

// Path returns the database file.
func (c *Catalog) Path() string { return c.path }

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// Record inserts or replaces a run.
func (c *Catalog) Record(ctx context.Context, r RunRecord) error {
	if r.RunID == "" {
		return errors.NewValidationError("run_id", "must not be empty", r.RunID)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, dir, created_at, model, accuracy, balanced_accuracy, f1_macro)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Dir, r.CreatedAt.UnixNano(), r.Model, r.Accuracy, r.BalancedAccuracy, r.F1Macro)
	if err != nil {
		return errors.Wrapf(err, "record run %s", r.RunID)
	}
	log.GetLoggerWithName("artifact").Debug("run recorded",
		log.RunIDKey, r.RunID,
		log.ArtifactDirKey, r.Dir,
	)
	return nil
}

// List returns every run, newest first.
func (c *Catalog) List(ctx context.Context) ([]RunRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, dir, created_at, model, accuracy, balanced_accuracy, f1_macro
		FROM runs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return out, nil
}

// Latest returns the newest run or ErrNoRuns.
func (c *Catalog) Latest(ctx context.Context) (RunRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT run_id, dir, created_at, model, accuracy, balanced_accuracy, f1_macro
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNoRuns
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var (
		r  RunRecord
		ns int64
	)
	if err := s.Scan(&r.RunID, &r.Dir, &ns, &r.Model, &r.Accuracy, &r.BalancedAccuracy, &r.F1Macro); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, errors.Wrap(err, "scan run")
	}
	r.CreatedAt = time.Unix(0, ns)
	return r, nil
}
