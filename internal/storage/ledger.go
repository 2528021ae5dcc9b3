package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FindTopic returns the newest topic record for key recorded at or after
// since whose owning project is still alive.
func (t *Tx) FindTopic(ctx context.Context, key string, since time.Time) (DedupRecord, error) {
	var r DedupRecord
	var kind, recordedAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT d.kind, d.key, d.project_id, d.recorded_at
		FROM dedup_records d JOIN projects p ON p.id = d.project_id
		WHERE d.kind = ? AND d.key = ? AND d.recorded_at >= ? AND p.status != ?
		ORDER BY d.recorded_at DESC LIMIT 1`,
		string(DedupTopic), key, formatTime(since), string(StatusKilled),
	).Scan(&kind, &r.Key, &r.ProjectID, &recordedAt)
	if err == sql.ErrNoRows {
		return DedupRecord{}, ErrNotFound
	}
	if err != nil {
		return DedupRecord{}, err
	}
	r.Kind = DedupKind(kind)
	if r.RecordedAt, err = parseTime(recordedAt); err != nil {
		return DedupRecord{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return r, nil
}

// InsertDedupRecord appends a binding ledger record.
func (t *Tx) InsertDedupRecord(ctx context.Context, r DedupRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO dedup_records (kind, key, project_id, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, key, project_id) DO NOTHING`,
		string(r.Kind), r.Key, r.ProjectID, formatTime(r.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting %s record: %w", r.Kind, err)
	}
	return nil
}

// ReplaceFootageReservations sets the provisional footage keys of a project.
func (t *Tx) ReplaceFootageReservations(ctx context.Context, projectID string, keys []string, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM footage_reservations WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clearing reservations: %w", err)
	}
	for _, k := range keys {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO footage_reservations (project_id, footage_key, reserved_at) VALUES (?, ?, ?)
			ON CONFLICT(project_id, footage_key) DO NOTHING`,
			projectID, k, formatTime(at))
		if err != nil {
			return fmt.Errorf("reserving footage %s: %w", k, err)
		}
	}
	return nil
}

// FootageReservations returns the provisional footage keys of a project.
func (t *Tx) FootageReservations(ctx context.Context, projectID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT footage_key FROM footage_reservations
		WHERE project_id = ? ORDER BY footage_key`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// RecentFootageKeys returns the footage keys bound by the limit most
// recently approved projects.
func (s *Store) RecentFootageKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.key FROM dedup_records d
		WHERE d.kind = ? AND d.project_id IN (
			SELECT id FROM projects WHERE status = ?
			ORDER BY approved_at DESC, id DESC LIMIT ?
		)
		ORDER BY d.key`,
		string(DedupFootage), string(StatusApproved), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// RecentTopics returns the topic text of the newest topic reservations.
func (s *Store) RecentTopics(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.topic FROM dedup_records d JOIN projects p ON p.id = d.project_id
		WHERE d.kind = ?
		ORDER BY d.recorded_at DESC LIMIT ?`,
		string(DedupTopic), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
