// Package history persists accepted submissions. The duplicate gate
// reads them back on the next run, so a file submitted yesterday is
// still flagged today.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/diagnostiq/tracker/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Row struct {
	model.Submission
	ID          int
	State       string
	SubmittedAt time.Time
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			digest TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			submitted_at TIMESTAMP NOT NULL
		)`,
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Record persists, on success, information that submission sub was
// accepted and its job is in flight. Recording the same job twice is
// a no-op while it is still open; ErrAlreadyFinished once it closed.
func Record(ctx context.Context, db *sql.DB, sub model.Submission) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, sub.ID)

	var state string
	row := tx.QueryRowContext(ctx,
		`SELECT state FROM submissions WHERE job_id=?`, sub.ID,
	)
	err = row.Scan(&state)
	switch {
	case err == nil && state == "open":
		return nil
	case err == nil:
		return ErrAlreadyFinished
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (job_id, name, digest, kind, state, submitted_at)
		 VALUES (?,?,?,?,?,?);`,
		sub.ID, sub.Name, sub.Digest, sub.Kind, "open", time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores the terminal state of the job identified by jobID.
// ErrNotFound when it was never recorded, ErrAlreadyFinished when a
// terminal state was stored before.
func Finish(ctx context.Context, db *sql.DB, jobID, state string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, jobID)

	var current string
	row := tx.QueryRowContext(ctx,
		`SELECT state FROM submissions WHERE job_id=?`, jobID,
	)
	err = row.Scan(&current)
	switch {
	case err == nil && current != "open":
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE submissions SET state = ? WHERE job_id = ?;`, state, jobID,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the stored row for jobID, ErrNotFound when it does not
// exist.
func Get(ctx context.Context, db *sql.DB, jobID string) (Row, error) {
	var r Row
	row := db.QueryRowContext(ctx,
		`SELECT id, job_id, name, digest, kind, state, submitted_at
		 FROM submissions WHERE job_id=?`, jobID,
	)
	err := row.Scan(&r.ID, &r.Submission.ID, &r.Name, &r.Digest, &r.Kind, &r.State, &r.SubmittedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Row{}, ErrNotFound
	case err != nil:
		return Row{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// All returns every recorded submission, oldest first. This is the
// history side of the duplicate gate.
func All(ctx context.Context, db *sql.DB) ([]model.Submission, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT job_id, name, digest, kind FROM submissions ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Digest, &sub.Kind); err != nil {
			return nil, fmt.Errorf("scanning sql row failed: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Delete removes the row for jobID, ErrNotFound when there is none.
func Delete(ctx context.Context, db *sql.DB, jobID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM submissions WHERE job_id=?`, jobID,
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}

	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}
	return nil
}

func rollback(ctx context.Context, tx *sql.Tx, jobID string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("job_id", jobID))
	}
}
