// Package database persists comparison runs in SQLite
package database

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"imgcompare/hashcmp"
	"imgcompare/types"
)

// Run kinds
const (
	KindMetric     = "metric"
	KindHashMatrix = "hash_matrix"
	KindHashBest   = "hash_best"
	KindRetrieval  = "retrieval"
)

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		strategy TEXT NOT NULL,
		created_at TEXT NOT NULL,
		rows INTEGER NOT NULL,
		cols INTEGER NOT NULL,
		complete INTEGER NOT NULL,
		failures INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cells (
		run_id TEXT NOT NULL REFERENCES runs(id),
		row_index INTEGER NOT NULL,
		col_index INTEGER NOT NULL,
		row_label TEXT NOT NULL,
		col_label TEXT,
		value REAL,
		error TEXT,
		PRIMARY KEY (run_id, row_index, col_index)
	);
	CREATE TABLE IF NOT EXISTS images (
		path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		format TEXT,
		width INTEGER,
		height INTEGER,
		size INTEGER,
		modified_at TEXT,
		camera_make TEXT,
		camera_model TEXT,
		date_taken TEXT,
		indexed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cells_run ON cells(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenDatabase opens an existing database read-only. Unlike InitDatabase it
// never creates the file or its tables.
func OpenDatabase(dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Run describes one stored computation
type Run struct {
	ID        string
	Kind      string
	Strategy  string
	CreatedAt time.Time
	Rows      int
	Cols      int
	Complete  bool
	Failures  int
}

// StoreMatrix stores every computed cell of m and returns the run id. Failed
// cells keep a NULL value and their error text.
func StoreMatrix(db *sql.DB, kind, strategy string, m *types.Matrix) (string, error) {
	run := Run{
		ID:       uuid.NewString(),
		Kind:     kind,
		Strategy: strategy,
		Rows:     len(m.RowIDs),
		Cols:     len(m.ColIDs),
		Complete: m.Complete,
		Failures: m.FailureCount(),
	}

	err := withTx(db, run, func(stmt *sql.Stmt) error {
		for i, row := range m.Cells {
			for j, c := range row {
				var value, errText any
				if c.Err != nil {
					errText = c.Err.Error()
				} else if !math.IsNaN(c.Value) {
					// SQLite binds NaN as NULL, infinities are kept
					value = c.Value
				}
				if _, err := stmt.Exec(run.ID, i, j, m.RowIDs[i], m.ColIDs[j], value, errText); err != nil {
					return fmt.Errorf("cannot insert cell (%d,%d): %v", i, j, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// StoreBestMatches stores the answers of a hash best-match run
func StoreBestMatches(db *sql.DB, res *hashcmp.BestMatchResult) (string, error) {
	return StoreAnswers(db, KindHashBest, string(res.Strategy), res.Answers(), res.Complete, res.Report.Failed())
}

// StoreAnswers stores one row per query image. Queries without a match keep
// a NULL candidate.
func StoreAnswers(db *sql.DB, kind, strategy string, answers []types.Answer, complete bool, failures int) (string, error) {
	run := Run{
		ID:       uuid.NewString(),
		Kind:     kind,
		Strategy: strategy,
		Rows:     len(answers),
		Cols:     1,
		Complete: complete,
		Failures: failures,
	}

	err := withTx(db, run, func(stmt *sql.Stmt) error {
		for i, a := range answers {
			var candidate, value, errText any
			switch {
			case a.Err != nil:
				errText = a.Err.Error()
			case a.Found:
				candidate = a.Candidate
				value = a.Score
			}
			if _, err := stmt.Exec(run.ID, i, 0, a.Query, candidate, value, errText); err != nil {
				return fmt.Errorf("cannot insert answer for %s: %v", a.Query, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func withTx(db *sql.DB, run Run, fill func(stmt *sql.Stmt) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs (id, kind, strategy, created_at, rows, cols, complete, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Strategy, time.Now().Format(time.RFC3339), run.Rows, run.Cols, run.Complete, run.Failures)
	if err != nil {
		return fmt.Errorf("cannot insert run %s: %v", run.ID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO cells (run_id, row_index, col_index, row_label, col_label, value, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cannot prepare statement: %v", err)
	}
	defer stmt.Close()

	if err := fill(stmt); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRun loads the run with the given id
func GetRun(db *sql.DB, id string) (*Run, error) {
	var r Run
	var created string
	err := db.QueryRow(`SELECT id, kind, strategy, created_at, rows, cols, complete, failures FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Kind, &r.Strategy, &created, &r.Rows, &r.Cols, &r.Complete, &r.Failures)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &r, nil
}

// ImageInfo is one entry of the image catalog
type ImageInfo struct {
	Path       string
	Name       string
	Format     string
	Width      int64
	Height     int64
	Size       int64
	ModifiedAt string
	Make       string
	Model      string
	DateTaken  string
}

// CheckImageExists checks if an image is already catalogued and returns its
// stored modification time
func CheckImageExists(db *sql.DB, path string) (bool, string, error) {
	var storedModTime sql.NullString
	err := db.QueryRow("SELECT modified_at FROM images WHERE path = ?", path).Scan(&storedModTime)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("database error for %s: %v", path, err)
	}
	return true, storedModTime.String, nil
}

// StoreImageInfo inserts or replaces a catalog entry
func StoreImageInfo(db *sql.DB, info ImageInfo) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO images (
			path, name, format, width, height, size, modified_at, camera_make, camera_model, date_taken, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.Path, info.Name, info.Format, info.Width, info.Height, info.Size, info.ModifiedAt,
		info.Make, info.Model, info.DateTaken, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot insert data for %s: %v", info.Path, err)
	}
	return nil
}

// RunStats contains statistics about the stored results
type RunStats struct {
	Runs        int
	Incomplete  int
	Cells       int
	FailedCells int
	Images      int
}

// GetRunStats retrieves statistics for one strategy, or all when strategy is empty
func GetRunStats(db *sql.DB, strategy string) (*RunStats, error) {
	var stats RunStats

	where := ""
	var args []any
	if strategy != "" {
		where = " WHERE strategy = ?"
		args = append(args, strategy)
	}

	err := db.QueryRow("SELECT COUNT(*), COALESCE(SUM(1 - complete), 0) FROM runs"+where, args...).
		Scan(&stats.Runs, &stats.Incomplete)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %v", err)
	}

	err = db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN c.error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM cells c JOIN runs r ON r.id = c.run_id`+where, args...).
		Scan(&stats.Cells, &stats.FailedCells)
	if err != nil {
		return nil, fmt.Errorf("failed to count cells: %v", err)
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM images").Scan(&stats.Images); err != nil {
		return nil, fmt.Errorf("failed to count images: %v", err)
	}

	return &stats, nil
}
