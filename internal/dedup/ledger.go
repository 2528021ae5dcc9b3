// Package dedup enforces topic and footage uniqueness across projects.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CMarchell/autoclips/internal/storage"
)

// ErrDuplicateTopic is returned when a topic was already used inside the
// freshness window by a project that is still alive.
var ErrDuplicateTopic = errors.New("duplicate topic")

const (
	DefaultTopicWindow   = 30 * 24 * time.Hour
	DefaultFootageWindow = 10
)

// Ledger wraps the dedup tables of the store.
type Ledger struct {
	store         *storage.Store
	topicWindow   time.Duration
	footageWindow int
	logger        *slog.Logger
}

// NewLedger creates a Ledger. Non-positive windows fall back to the defaults.
func NewLedger(store *storage.Store, topicWindow time.Duration, footageWindow int) *Ledger {
	if topicWindow <= 0 {
		topicWindow = DefaultTopicWindow
	}
	if footageWindow <= 0 {
		footageWindow = DefaultFootageWindow
	}
	return &Ledger{
		store:         store,
		topicWindow:   topicWindow,
		footageWindow: footageWindow,
		logger:        slog.Default(),
	}
}

// FootageWindow returns how many recent approvals are excluded from reuse.
func (l *Ledger) FootageWindow() int {
	return l.footageWindow
}

// NormalizeTopic lowercases, trims and collapses inner whitespace.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

// TopicKey returns the ledger key of a topic.
func TopicKey(topic string) string {
	sum := sha256.Sum256([]byte(NormalizeTopic(topic)))
	return hex.EncodeToString(sum[:])
}

// ReserveTopic checks the window and records the topic for projectID. It
// must run in the same transaction that inserts the project.
func (l *Ledger) ReserveTopic(ctx context.Context, tx *storage.Tx, topic, projectID string, now time.Time) error {
	key := TopicKey(topic)
	existing, err := tx.FindTopic(ctx, key, now.Add(-l.topicWindow))
	switch {
	case err == nil:
		return fmt.Errorf("%w: %q already used by %s", ErrDuplicateTopic, NormalizeTopic(topic), existing.ProjectID)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("checking topic: %w", err)
	}

	return tx.InsertDedupRecord(ctx, storage.DedupRecord{
		Kind:       storage.DedupTopic,
		Key:        key,
		ProjectID:  projectID,
		RecordedAt: now,
	})
}

// ReserveFootage replaces the provisional footage reservation of a project.
// Reservations are not dedup facts until Promote runs.
func (l *Ledger) ReserveFootage(ctx context.Context, tx *storage.Tx, projectID string, keys []string, now time.Time) error {
	if err := tx.ReplaceFootageReservations(ctx, projectID, keys, now); err != nil {
		return fmt.Errorf("reserving footage: %w", err)
	}
	return nil
}

// Promote turns the project's footage reservations into binding records.
func (l *Ledger) Promote(ctx context.Context, tx *storage.Tx, projectID string, now time.Time) error {
	keys, err := tx.FootageReservations(ctx, projectID)
	if err != nil {
		return fmt.Errorf("reading reservations: %w", err)
	}
	for _, k := range keys {
		if err := tx.InsertDedupRecord(ctx, storage.DedupRecord{
			Kind:       storage.DedupFootage,
			Key:        k,
			ProjectID:  projectID,
			RecordedAt: now,
		}); err != nil {
			return err
		}
	}
	l.logger.Debug("promoted footage reservations", "project_id", projectID, "count", len(keys))
	return nil
}

// QueryRecentFootage returns the footage keys of the limit most recently
// approved projects. A non-positive limit uses the ledger's window.
func (l *Ledger) QueryRecentFootage(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = l.footageWindow
	}
	keys, err := l.store.RecentFootageKeys(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent footage: %w", err)
	}
	return keys, nil
}
