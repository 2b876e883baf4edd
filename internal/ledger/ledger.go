// Package ledger persists per-batch job state in a SQLite database stored
// inside the batch root. It backs the final report and lets an interrupted
// batch be resumed without re-running jobs that already succeeded.
package ledger

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Job status values recorded in the ledger.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job is one planned job as stored in the ledger.
type Job struct {
	Index       int
	App         string
	Topology    string
	Channel     string
	Replication int
	Seed        int64
	Antithetic  bool
	OutDir      string
}

const schema = `
CREATE TABLE IF NOT EXISTS batch (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	created_at    TEXT NOT NULL,
	config_digest TEXT NOT NULL,
	total_jobs    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	idx         INTEGER PRIMARY KEY,
	app         TEXT NOT NULL,
	topology    TEXT NOT NULL,
	channel     TEXT NOT NULL,
	replication INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	antithetic  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	out_dir     TEXT NOT NULL,
	started_at  TEXT,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Ledger is the per-batch job ledger.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the ledger at <batchRoot>/sweep.db.
func Open(batchRoot string) (*Ledger, error) {
	path := filepath.Join(batchRoot, "sweep.db")

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Path returns the database file location.
func (l *Ledger) Path() string {
	return l.path
}

// InitBatch records the batch metadata and the full job plan. On a fresh
// ledger every job is inserted as pending. On an existing ledger (resume)
// the stored config digest and job total must match the plan; job rows are
// left untouched so prior outcomes survive.
func (l *Ledger) InitBatch(createdAt time.Time, digest string, jobs []Job) error {
	var storedDigest string
	var storedTotal int
	err := l.db.QueryRow(`SELECT config_digest, total_jobs FROM batch WHERE id = 1`).Scan(&storedDigest, &storedTotal)

	switch {
	case err == sql.ErrNoRows:
		// fresh batch
	case err != nil:
		return fmt.Errorf("failed to read batch row: %w", err)
	default:
		if storedDigest != digest {
			return fmt.Errorf("batch was created with a different configuration (digest mismatch); refusing to resume")
		}
		if storedTotal != len(jobs) {
			return fmt.Errorf("batch plan size changed: ledger has %d jobs, plan has %d", storedTotal, len(jobs))
		}
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO batch (id, created_at, config_digest, total_jobs) VALUES (1, ?, ?, ?)`,
		createdAt.UTC().Format(time.RFC3339), digest, len(jobs),
	); err != nil {
		return fmt.Errorf("failed to insert batch row: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO jobs (idx, app, topology, channel, replication, seed, antithetic, status, out_dir)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare job insert: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		anti := 0
		if job.Antithetic {
			anti = 1
		}
		if _, err := stmt.Exec(
			job.Index, job.App, job.Topology, job.Channel,
			job.Replication, job.Seed, anti, StatusPending, job.OutDir,
		); err != nil {
			return fmt.Errorf("failed to insert job %d: %w", job.Index, err)
		}
	}

	return tx.Commit()
}

// Succeeded returns the set of job indices recorded as succeeded.
func (l *Ledger) Succeeded() (map[int]bool, error) {
	rows, err := l.db.Query(`SELECT idx FROM jobs WHERE status = ?`, StatusSucceeded)
	if err != nil {
		return nil, fmt.Errorf("failed to query succeeded jobs: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("failed to scan job index: %w", err)
		}
		done[idx] = true
	}
	return done, rows.Err()
}

// CountByStatus returns how many jobs carry the given status.
func (l *Ledger) CountByStatus(status string) (int, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// MarkStarted records that the job entered execution.
func (l *Ledger) MarkStarted(idx int, at time.Time) error {
	res, err := l.db.Exec(
		`UPDATE jobs SET status = ?, started_at = ? WHERE idx = ?`,
		StatusRunning, at.UTC().Format(time.RFC3339), idx,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %d started: %w", idx, err)
	}
	return requireOneRow(res, idx)
}

// MarkFinished records the job's terminal status.
func (l *Ledger) MarkFinished(idx int, succeeded bool, at time.Time) error {
	status := StatusFailed
	if succeeded {
		status = StatusSucceeded
	}
	res, err := l.db.Exec(
		`UPDATE jobs SET status = ?, finished_at = ? WHERE idx = ?`,
		status, at.UTC().Format(time.RFC3339), idx,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %d finished: %w", idx, err)
	}
	return requireOneRow(res, idx)
}

func requireOneRow(res sql.Result, idx int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %d not found in ledger", idx)
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
