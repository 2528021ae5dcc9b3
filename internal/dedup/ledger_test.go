package dedup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/CMarchell/autoclips/internal/storage"
)

var ctx = context.Background()

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*storage.Store, *Ledger) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, NewLedger(s, 0, 0)
}

// create reserves the topic and inserts the project in one transaction, the
// way intake does.
func create(s *storage.Store, l *Ledger, id, topic string, now time.Time) error {
	return s.WithTx(ctx, func(tx *storage.Tx) error {
		if err := l.ReserveTopic(ctx, tx, topic, id, now); err != nil {
			return err
		}
		return tx.InsertProject(ctx, storage.Project{
			ID: id, Topic: topic, Status: storage.StatusDraft, CreatedAt: now, UpdatedAt: now,
		})
	})
}

func TestNormalizeTopic(t *testing.T) {
	if got := NormalizeTopic("  Budgeting   TIPS \n"); got != "budgeting tips" {
		t.Errorf("NormalizeTopic = %q", got)
	}
	if TopicKey("Budgeting Tips") != TopicKey("budgeting  tips") {
		t.Error("equivalent topics produced different keys")
	}
	if TopicKey("budgeting tips") == TopicKey("budget tips") {
		t.Error("different topics produced the same key")
	}
}

func TestReserveTopicDuplicateWithinWindow(t *testing.T) {
	s, l := setup(t)

	if err := create(s, l, "p1", "Budgeting Tips", t0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := create(s, l, "p2", "budgeting tips", t0.Add(29*24*time.Hour))
	if !errors.Is(err, ErrDuplicateTopic) {
		t.Fatalf("second create error = %v, want ErrDuplicateTopic", err)
	}
	if _, err := s.GetProject(ctx, "p2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rejected project was persisted: %v", err)
	}
}

func TestReserveTopicAfterWindow(t *testing.T) {
	s, l := setup(t)

	if err := create(s, l, "p1", "budgeting tips", t0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := create(s, l, "p2", "budgeting tips", t0.Add(31*24*time.Hour)); err != nil {
		t.Errorf("create after window: %v", err)
	}
}

func TestReserveTopicAfterKill(t *testing.T) {
	s, l := setup(t)

	if err := create(s, l, "p1", "budgeting tips", t0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.WithTx(ctx, func(tx *storage.Tx) error { return tx.DeleteProject(ctx, "p1") }); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if err := create(s, l, "p2", "budgeting tips", t0.Add(time.Minute)); err != nil {
		t.Errorf("create after kill: %v", err)
	}
}

func approve(t *testing.T, s *storage.Store, l *Ledger, id string, keys []string, at time.Time) {
	t.Helper()
	if err := create(s, l, id, "topic "+id, at); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		if err := l.ReserveFootage(ctx, tx, id, keys, at); err != nil {
			return err
		}
		p, err := tx.GetProject(ctx, id)
		if err != nil {
			return err
		}
		p.Status = storage.StatusApproved
		p.ApprovedAt = at
		p.UpdatedAt = at
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		return l.Promote(ctx, tx, id, at)
	})
	if err != nil {
		t.Fatalf("approve %s: %v", id, err)
	}
}

func TestProvisionalFootageIsNotExcluded(t *testing.T) {
	s, l := setup(t)

	if err := create(s, l, "p1", "draft topic", t0); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		return l.ReserveFootage(ctx, tx, "p1", []string{"pexels:1"}, t0)
	})
	if err != nil {
		t.Fatalf("ReserveFootage: %v", err)
	}

	recent, err := l.QueryRecentFootage(ctx, 0)
	if err != nil {
		t.Fatalf("QueryRecentFootage: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("draft footage counted as recent: %v", recent)
	}
}

func TestFootageWindowSlides(t *testing.T) {
	s, l := setup(t)

	approve(t, s, l, "a", []string{"K"}, t0)

	for i := 1; i <= 10; i++ {
		recent, err := l.QueryRecentFootage(ctx, 10)
		if err != nil {
			t.Fatalf("QueryRecentFootage: %v", err)
		}
		if !slices.Contains(recent, "K") {
			t.Fatalf("K dropped from window after %d newer approvals", i-1)
		}
		approve(t, s, l, fmt.Sprintf("n%02d", i), []string{fmt.Sprintf("N%d", i)}, t0.Add(time.Duration(i)*time.Hour))
	}

	recent, err := l.QueryRecentFootage(ctx, 10)
	if err != nil {
		t.Fatalf("QueryRecentFootage: %v", err)
	}
	if slices.Contains(recent, "K") {
		t.Error("K still excluded after 10 newer approvals")
	}
	if len(recent) != 10 {
		t.Errorf("len(recent) = %d, want 10", len(recent))
	}
}
