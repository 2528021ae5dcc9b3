package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const attemptColumns = `id, project_id, stage, generation, attempt, started_at, finished_at, outcome, detail`

func scanAttempt(r rowScanner) (StageAttempt, error) {
	var a StageAttempt
	var stage, outcome, startedAt string
	var finishedAt sql.NullString
	if err := r.Scan(&a.ID, &a.ProjectID, &stage, &a.Generation, &a.Number, &startedAt, &finishedAt, &outcome, &a.Detail); err != nil {
		return StageAttempt{}, err
	}
	a.Stage = Stage(stage)
	a.Outcome = Outcome(outcome)
	var err error
	if a.StartedAt, err = parseTime(startedAt); err != nil {
		return StageAttempt{}, fmt.Errorf("parsing started_at for attempt %d: %w", a.ID, err)
	}
	if a.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return StageAttempt{}, fmt.Errorf("parsing finished_at for attempt %d: %w", a.ID, err)
	}
	return a, nil
}

func queryAttempts(ctx context.Context, q querier, query string, args ...any) ([]StageAttempt, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StageAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// ListAttempts returns the stage history of a project in execution order.
func (s *Store) ListAttempts(ctx context.Context, projectID string) ([]StageAttempt, error) {
	return queryAttempts(ctx, s.db, `SELECT `+attemptColumns+` FROM stage_attempts
		WHERE project_id = ? ORDER BY id ASC`, projectID)
}

// OpenAttemptsBefore returns unfinished attempts started before cutoff.
func (s *Store) OpenAttemptsBefore(ctx context.Context, cutoff time.Time) ([]StageAttempt, error) {
	return queryAttempts(ctx, s.db, `SELECT `+attemptColumns+` FROM stage_attempts
		WHERE finished_at IS NULL AND started_at < ? ORDER BY id ASC`, formatTime(cutoff))
}

// OpenAttempts returns unfinished attempts of a project.
func (t *Tx) OpenAttempts(ctx context.Context, projectID string) ([]StageAttempt, error) {
	return queryAttempts(ctx, t.tx, `SELECT `+attemptColumns+` FROM stage_attempts
		WHERE project_id = ? AND finished_at IS NULL ORDER BY id ASC`, projectID)
}

// StartAttempt appends an open attempt numbered after the latest attempt of
// the same (project, stage, generation).
func (t *Tx) StartAttempt(ctx context.Context, projectID string, stage Stage, generation int, at time.Time) (StageAttempt, error) {
	var last int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(attempt), 0) FROM stage_attempts
		WHERE project_id = ? AND stage = ? AND generation = ?`, projectID, string(stage), generation).Scan(&last)
	if err != nil {
		return StageAttempt{}, fmt.Errorf("numbering attempt: %w", err)
	}

	a := StageAttempt{
		ProjectID:  projectID,
		Stage:      stage,
		Generation: generation,
		Number:     last + 1,
		StartedAt:  at,
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO stage_attempts (project_id, stage, generation, attempt, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		projectID, string(stage), generation, a.Number, formatTime(at),
	)
	if err != nil {
		return StageAttempt{}, fmt.Errorf("inserting attempt: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return StageAttempt{}, err
	}
	return a, nil
}

// FinishAttempt closes an open attempt. Finished attempts are immutable, so
// finishing one twice returns ErrNotFound.
func (t *Tx) FinishAttempt(ctx context.Context, id int64, outcome Outcome, detail string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE stage_attempts SET finished_at = ?, outcome = ?, detail = ?
		WHERE id = ? AND finished_at IS NULL`, formatTime(at), string(outcome), detail, id)
	if err != nil {
		return fmt.Errorf("finishing attempt %d: %w", id, err)
	}
	return expectOne(res)
}

// DeleteAttempts removes the history of the given stages of a project.
func (t *Tx) DeleteAttempts(ctx context.Context, projectID string, stages []Stage) error {
	if len(stages) == 0 {
		return nil
	}
	args := make([]any, 0, len(stages)+1)
	args = append(args, projectID)
	for _, s := range stages {
		args = append(args, string(s))
	}
	placeholders := strings.Repeat(",?", len(stages)-1)
	_, err := t.tx.ExecContext(ctx, `DELETE FROM stage_attempts WHERE project_id = ? AND stage IN (?`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting attempts of %s: %w", projectID, err)
	}
	return nil
}
