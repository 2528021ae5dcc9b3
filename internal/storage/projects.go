package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const projectColumns = `id, topic, niche, status, current_stage, generation, voice, music,
	idea_ref, script_ref, voice_ref, footage_json, assembly_ref, metadata_ref,
	error, created_at, updated_at, approved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (Project, error) {
	var p Project
	var status, stage, footageJSON, createdAt, updatedAt string
	var approvedAt sql.NullString
	err := r.Scan(&p.ID, &p.Topic, &p.Niche, &status, &stage, &p.Generation, &p.Voice, &p.Music,
		&p.Artifacts.Idea, &p.Artifacts.Script, &p.Artifacts.Voice, &footageJSON,
		&p.Artifacts.Assembly, &p.Artifacts.Metadata,
		&p.Error, &createdAt, &updatedAt, &approvedAt)
	if err != nil {
		return Project{}, err
	}
	p.Status = Status(status)
	p.CurrentStage = Checkpoint(stage)
	if footageJSON != "" {
		if err := json.Unmarshal([]byte(footageJSON), &p.Artifacts.Footage); err != nil {
			return Project{}, fmt.Errorf("decoding footage for %s: %w", p.ID, err)
		}
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Project{}, fmt.Errorf("parsing created_at for %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Project{}, fmt.Errorf("parsing updated_at for %s: %w", p.ID, err)
	}
	if p.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return Project{}, fmt.Errorf("parsing approved_at for %s: %w", p.ID, err)
	}
	return p, nil
}

func footageJSON(clips []FootageClip) (string, error) {
	if len(clips) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(clips)
	if err != nil {
		return "", fmt.Errorf("encoding footage: %w", err)
	}
	return string(b), nil
}

func getProject(ctx context.Context, q querier, id string) (Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// GetProject returns the committed state of a project.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	return getProject(ctx, s.db, id)
}

// ListProjects returns projects newest first. An empty status lists all.
func (s *Store) ListProjects(ctx context.Context, status Status, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// GetProject reads a project inside the transaction.
func (t *Tx) GetProject(ctx context.Context, id string) (Project, error) {
	return getProject(ctx, t.tx, id)
}

// InsertProject creates a new project row.
func (t *Tx) InsertProject(ctx context.Context, p Project) error {
	fj, err := footageJSON(p.Artifacts.Footage)
	if err != nil {
		return err
	}
	if p.Generation == 0 {
		p.Generation = 1
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Topic, p.Niche, string(p.Status), string(p.CurrentStage), p.Generation, p.Voice, p.Music,
		p.Artifacts.Idea, p.Artifacts.Script, p.Artifacts.Voice, fj, p.Artifacts.Assembly, p.Artifacts.Metadata,
		p.Error, formatTime(p.CreatedAt), formatTime(p.UpdatedAt), nullTime(p.ApprovedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting project %s: %w", p.ID, err)
	}
	return nil
}

// UpdateProject writes all mutable columns of p. updated_at never moves
// backwards even if the caller's clock does.
func (t *Tx) UpdateProject(ctx context.Context, p Project) error {
	fj, err := footageJSON(p.Artifacts.Footage)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE projects SET
			status = ?, current_stage = ?, generation = ?, voice = ?, music = ?,
			idea_ref = ?, script_ref = ?, voice_ref = ?, footage_json = ?, assembly_ref = ?, metadata_ref = ?,
			error = ?, updated_at = MAX(updated_at, ?), approved_at = ?
		WHERE id = ?`,
		string(p.Status), string(p.CurrentStage), p.Generation, p.Voice, p.Music,
		p.Artifacts.Idea, p.Artifacts.Script, p.Artifacts.Voice, fj, p.Artifacts.Assembly, p.Artifacts.Metadata,
		p.Error, formatTime(p.UpdatedAt), nullTime(p.ApprovedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project %s: %w", p.ID, err)
	}
	return expectOne(res)
}

// DeleteProject hard-deletes a project. Attempts, dedup records and
// reservations cascade.
func (t *Tx) DeleteProject(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project %s: %w", id, err)
	}
	return expectOne(res)
}

// --- Leases ---

// AcquireLease takes the per-project lease for token until the given time.
// It fails with ErrProjectBusy while another unexpired lease is held.
func (s *Store) AcquireLease(ctx context.Context, id, token string, now, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET lock_token = ?, lock_expires_at = ?
		WHERE id = ? AND (lock_token IS NULL OR lock_expires_at IS NULL OR lock_expires_at < ?)`,
		token, formatTime(until), id, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("acquiring lease on %s: %w", id, err)
	}
	if err := expectOne(res); err == nil {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrProjectBusy
}

// RenewLease extends a lease still held by token.
func (s *Store) RenewLease(ctx context.Context, id, token string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET lock_expires_at = ? WHERE id = ? AND lock_token = ?`,
		formatTime(until), id, token)
	if err != nil {
		return fmt.Errorf("renewing lease on %s: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return ErrProjectBusy
	}
	return nil
}

// ReleaseLease drops the lease if token still holds it. Releasing a lease of
// a deleted project is not an error.
func (s *Store) ReleaseLease(ctx context.Context, id, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET lock_token = NULL, lock_expires_at = NULL WHERE id = ? AND lock_token = ?`,
		id, token)
	if err != nil {
		return fmt.Errorf("releasing lease on %s: %w", id, err)
	}
	return nil
}
