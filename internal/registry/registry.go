// Package registry is the read-only query surface over projects. It never
// mutates state; edits go through the pipeline orchestrator.
package registry

import (
	"context"
	"fmt"

	"github.com/CMarchell/autoclips/internal/dedup"
	"github.com/CMarchell/autoclips/internal/storage"
)

// Registry answers listing and inspection queries from committed data.
type Registry struct {
	store  *storage.Store
	ledger *dedup.Ledger
}

// New creates a Registry.
func New(store *storage.Store, ledger *dedup.Ledger) *Registry {
	return &Registry{store: store, ledger: ledger}
}

// Report is the full state of one project.
type Report struct {
	Project storage.Project
	History []storage.StageAttempt
	// NextStage is empty once every stage has completed.
	NextStage storage.Stage
}

// List returns projects newest first. An empty status lists everything.
func (r *Registry) List(ctx context.Context, status storage.Status, limit int) ([]storage.Project, error) {
	projects, err := r.store.ListProjects(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// Get returns one project.
func (r *Registry) Get(ctx context.Context, id string) (storage.Project, error) {
	return r.store.GetProject(ctx, id)
}

// History returns the stage attempts of a project in execution order.
func (r *Registry) History(ctx context.Context, id string) ([]storage.StageAttempt, error) {
	if _, err := r.store.GetProject(ctx, id); err != nil {
		return nil, err
	}
	return r.store.ListAttempts(ctx, id)
}

// Inspect returns a project with its history.
func (r *Registry) Inspect(ctx context.Context, id string) (Report, error) {
	p, err := r.store.GetProject(ctx, id)
	if err != nil {
		return Report{}, err
	}
	history, err := r.store.ListAttempts(ctx, id)
	if err != nil {
		return Report{}, fmt.Errorf("loading history: %w", err)
	}
	next, _ := p.CurrentStage.Next()
	return Report{Project: p, History: history, NextStage: next}, nil
}

// RecentTopics returns the most recently reserved topics.
func (r *Registry) RecentTopics(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.store.RecentTopics(ctx, limit)
}

// RecentFootage returns the footage keys blocked by recent approvals.
func (r *Registry) RecentFootage(ctx context.Context, limit int) ([]string, error) {
	return r.ledger.QueryRecentFootage(ctx, limit)
}

// Counts returns the number of projects per status.
func (r *Registry) Counts(ctx context.Context) (map[storage.Status]int, error) {
	projects, err := r.store.ListProjects(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	counts := map[storage.Status]int{}
	for _, p := range projects {
		counts[p.Status]++
	}
	return counts, nil
}
