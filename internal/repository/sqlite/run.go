package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/model"
	"github.com/sakif/blitz/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

const runColumns = `id, code, packages, strategy, success, output, error, error_kind, duration_ms, subject, created_at`

// Create inserts run, assigning its ID and creation time.
//
// xid IDs are 20 URL-safe chars that sort by creation time, so they double
// as a tiebreaker for runs created within the same clock tick.
func (db *DB) Create(ctx context.Context, run *model.Run) error {
	run.ID = xid.New().String()
	run.CreatedAt = time.Now().UTC()

	packages, err := json.Marshal(nonNil(run.Packages))
	if err != nil {
		return fmt.Errorf("sqlite: encoding packages: %w", err)
	}
	output := run.Output
	if len(output) == 0 {
		output = json.RawMessage("[]")
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Code,
		string(packages),
		run.Strategy,
		run.Success,
		string(output),
		run.Error,
		run.ErrorKind,
		run.DurationMs,
		run.Subject,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating run: %w", err)
	}

	return nil
}

// GetByID returns the run with id, or an apperror.NotFound.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Run, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("run", id)
		}
		return nil, fmt.Errorf("sqlite: getting run %s: %w", id, err)
	}

	return run, nil
}

// List returns runs newest first.
//
// LIMIT/OFFSET pagination: page 3 with 20 items per page → LIMIT 20 OFFSET 40.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if opts.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, opts.Strategy)
	}
	if opts.ErrorKind != "" {
		where = append(where, "error_kind = ?")
		args = append(args, opts.ErrorKind)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}

	return runs, nil
}

// Delete removes the run with id, or returns an apperror.NotFound.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM runs WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting run %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("run", id)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	var (
		run      model.Run
		packages string
		output   string
	)
	if err := s.Scan(
		&run.ID,
		&run.Code,
		&packages,
		&run.Strategy,
		&run.Success,
		&output,
		&run.Error,
		&run.ErrorKind,
		&run.DurationMs,
		&run.Subject,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(packages), &run.Packages); err != nil {
		return nil, fmt.Errorf("decoding packages of run %s: %w", run.ID, err)
	}
	run.Packages = nonNil(run.Packages)
	run.Output = json.RawMessage(output)

	return &run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
