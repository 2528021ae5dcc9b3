// Package pipeline drives projects through the fixed stage sequence. All
// state lives in the store; an Orchestrator holds no state of its own
// between calls, so any number of short-lived processes may use the same
// database concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/dedup"
	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/storage"
)

var (
	// ErrInvalidState is returned when an operation is not valid for the
	// project's current status or checkpoint.
	ErrInvalidState = errors.New("invalid state")

	// ErrStaleStageReference is returned when an edit targets an artifact
	// that no longer exists.
	ErrStaleStageReference = errors.New("stale stage reference")

	// ErrEmptyTopic is returned by Create for blank topics.
	ErrEmptyTopic = errors.New("topic must not be empty")
)

// Options tunes an Orchestrator. Zero values take defaults.
type Options struct {
	ClipsPerVideo int
	// LivenessThreshold is how long an attempt may stay open before it is
	// considered abandoned. It is also the lease TTL.
	LivenessThreshold time.Duration
	DefaultNiche      string
	DefaultVoice      string
	Captions          bool
}

const (
	defaultClipsPerVideo     = 10
	defaultLivenessThreshold = 15 * time.Minute
)

// StageResult is returned by Advance.
type StageResult struct {
	Project storage.Project
	// Stage is the stage that ran or was replayed.
	Stage    storage.Stage
	Replayed bool
}

// Orchestrator owns every mutation of project state.
type Orchestrator struct {
	store     *storage.Store
	ledger    *dedup.Ledger
	exec      *executor.Executor
	artifacts *artifact.Store
	niches    *niche.Loader
	collab    Collaborators
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// NewOrchestrator wires an Orchestrator. The liveness threshold is raised
// above the per-attempt timeout when needed so live attempts are never
// reconciled as abandoned.
func NewOrchestrator(
	store *storage.Store,
	ledger *dedup.Ledger,
	exec *executor.Executor,
	artifacts *artifact.Store,
	niches *niche.Loader,
	collab Collaborators,
	opts Options,
) *Orchestrator {
	if opts.ClipsPerVideo <= 0 {
		opts.ClipsPerVideo = defaultClipsPerVideo
	}
	if opts.LivenessThreshold <= 0 {
		opts.LivenessThreshold = defaultLivenessThreshold
	}
	if timeout := exec.Policy().Timeout; timeout > 0 && opts.LivenessThreshold <= timeout {
		slog.Warn("liveness threshold below attempt timeout, raising it",
			"threshold", opts.LivenessThreshold, "attempt_timeout", timeout)
		opts.LivenessThreshold = timeout + time.Minute
	}
	return &Orchestrator{
		store:     store,
		ledger:    ledger,
		exec:      exec,
		artifacts: artifacts,
		niches:    niches,
		collab:    collab,
		opts:      opts,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// SetClock replaces the time source. Tests use it to order approvals.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Create reserves the topic and inserts a draft project in one transaction.
func (o *Orchestrator) Create(ctx context.Context, topic, nicheName string) (storage.Project, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return storage.Project{}, ErrEmptyTopic
	}
	if nicheName == "" {
		nicheName = o.opts.DefaultNiche
	}

	now := o.now()
	p := storage.Project{
		ID:         newProjectID(now, topic),
		Topic:      topic,
		Niche:      nicheName,
		Status:     storage.StatusDraft,
		Generation: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := o.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := o.ledger.ReserveTopic(ctx, tx, topic, p.ID, now); err != nil {
			return err
		}
		return tx.InsertProject(ctx, p)
	})
	if err != nil {
		return storage.Project{}, err
	}

	o.logger.Info("project created", "project_id", p.ID, "topic", topic, "niche", nicheName)
	o.snapshot(p)
	return p, nil
}

// Advance runs one stage. With an empty stage it runs the next pending
// stage. A named stage that already committed in the current generation is
// replayed from the stored artifact without calling its collaborator.
func (o *Orchestrator) Advance(ctx context.Context, id string, stage storage.Stage) (StageResult, error) {
	var res StageResult
	err := o.withLease(ctx, id, func(token string) error {
		p, err := o.store.GetProject(ctx, id)
		if err != nil {
			return err
		}
		res.Project = p

		if stage != "" && committed(p, stage) {
			res.Stage, res.Replayed = stage, true
			o.logger.Debug("stage replayed", "project_id", id, "stage", stage)
			return nil
		}
		if p.Status != storage.StatusDraft {
			return fmt.Errorf("%w: project %s is %s", ErrInvalidState, id, p.Status)
		}

		next, ok := p.CurrentStage.Next()
		if !ok {
			// Every stage is done but the project never left draft.
			return o.store.WithTx(ctx, func(tx *storage.Tx) error {
				p.Status = storage.StatusPreview
				p.UpdatedAt = o.now()
				res.Project = p
				return tx.UpdateProject(ctx, p)
			})
		}
		if stage != "" && stage != next {
			return fmt.Errorf("%w: %s is not the next stage of %s (next is %s)", ErrInvalidState, stage, id, next)
		}

		res.Stage = next
		res.Project, err = o.runStage(ctx, token, p, next)
		return err
	})
	return res, err
}

// Run advances the project until it leaves draft.
func (o *Orchestrator) Run(ctx context.Context, id string) (storage.Project, error) {
	for {
		res, err := o.Advance(ctx, id, "")
		if err != nil {
			return res.Project, err
		}
		if res.Project.Status != storage.StatusDraft {
			return res.Project, nil
		}
	}
}

// Retry puts a failed project back into draft at its failed stage and runs it.
func (o *Orchestrator) Retry(ctx context.Context, id string) (storage.Project, error) {
	err := o.withLease(ctx, id, func(string) error {
		return o.store.WithTx(ctx, func(tx *storage.Tx) error {
			p, err := tx.GetProject(ctx, id)
			if err != nil {
				return err
			}
			if p.Status != storage.StatusFailed {
				return fmt.Errorf("%w: only failed projects can be retried, %s is %s", ErrInvalidState, id, p.Status)
			}
			p.Status = storage.StatusDraft
			p.Error = ""
			p.UpdatedAt = o.now()
			return tx.UpdateProject(ctx, p)
		})
	})
	if err != nil {
		return storage.Project{}, err
	}
	o.logger.Info("retrying project", "project_id", id)
	return o.Run(ctx, id)
}

// Approve moves a preview project to approved and binds its footage in the
// dedup ledger.
func (o *Orchestrator) Approve(ctx context.Context, id string) (storage.Project, error) {
	var p storage.Project
	err := o.withLease(ctx, id, func(string) error {
		return o.store.WithTx(ctx, func(tx *storage.Tx) error {
			var err error
			if p, err = tx.GetProject(ctx, id); err != nil {
				return err
			}
			if p.Status != storage.StatusPreview {
				return fmt.Errorf("%w: only preview projects can be approved, %s is %s", ErrInvalidState, id, p.Status)
			}
			now := o.now()
			p.Status = storage.StatusApproved
			p.ApprovedAt = now
			p.UpdatedAt = now
			if err := tx.UpdateProject(ctx, p); err != nil {
				return err
			}
			return o.ledger.Promote(ctx, tx, id, now)
		})
	})
	if err != nil {
		return storage.Project{}, err
	}
	o.logger.Info("project approved", "project_id", id, "clips", len(p.Artifacts.Footage))
	o.snapshot(p)
	return p, nil
}

// Kill removes a project with its history, ledger records and files.
func (o *Orchestrator) Kill(ctx context.Context, id string) error {
	err := o.withLease(ctx, id, func(string) error {
		if err := o.store.WithTx(ctx, func(tx *storage.Tx) error { return tx.DeleteProject(ctx, id) }); err != nil {
			return err
		}
		if err := o.artifacts.RemoveProject(id); err != nil {
			o.logger.Warn("removing project files", "project_id", id, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("project killed", "project_id", id)
	return nil
}

// Reconcile closes attempts left open longer than the liveness threshold,
// e.g. by a crashed process. It returns how many were closed.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.opts.LivenessThreshold)
	open, err := o.store.OpenAttemptsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing open attempts: %w", err)
	}

	closed := 0
	for _, a := range open {
		err := o.store.WithTx(ctx, func(tx *storage.Tx) error {
			return tx.FinishAttempt(ctx, a.ID, storage.OutcomeTransientFailure, "abandoned: no result within liveness threshold", o.now())
		})
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return closed, err
		}
		closed++
		o.logger.Warn("abandoned attempt reconciled",
			"project_id", a.ProjectID, "stage", a.Stage, "attempt", a.Number, "started_at", a.StartedAt)
	}
	return closed, nil
}

// BatchResult is the outcome of one topic in a batch.
type BatchResult struct {
	Topic   string
	Project storage.Project
	Err     error
}

// Batch creates and runs one project per topic with at most parallel in
// flight. A failing topic does not stop the others.
func (o *Orchestrator) Batch(ctx context.Context, topics []string, nicheName string, parallel int) []BatchResult {
	if parallel <= 0 {
		parallel = 3
	}
	results := make([]BatchResult, len(topics))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, topic := range topics {
		g.Go(func() error {
			r := BatchResult{Topic: topic}
			r.Project, r.Err = o.Create(ctx, topic, nicheName)
			if r.Err == nil {
				r.Project, r.Err = o.Run(ctx, r.Project.ID)
			}
			if r.Err != nil {
				o.logger.Warn("batch topic failed", "topic", topic, "error", r.Err)
			}
			results[i] = r
			return nil
		})
	}
	g.Wait()
	return results
}

// Ideas asks the idea generator for new topics, skipping recent ones.
func (o *Orchestrator) Ideas(ctx context.Context, nicheName string, count int) ([]string, error) {
	if o.collab.Ideas == nil {
		return nil, errors.New("no idea generator configured")
	}
	if count <= 0 {
		count = 5
	}
	if nicheName == "" {
		nicheName = o.opts.DefaultNiche
	}
	nc, err := o.niches.Get(nicheName)
	if err != nil {
		return nil, err
	}

	recent, err := o.store.RecentTopics(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("loading recent topics: %w", err)
	}
	seen := make(map[string]bool, len(recent))
	for _, t := range recent {
		seen[dedup.NormalizeTopic(t)] = true
	}

	ideas, err := o.collab.Ideas.Ideas(ctx, nc, count, recent)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, idea := range ideas {
		key := dedup.NormalizeTopic(idea)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(idea))
	}
	return out, nil
}

// withLease runs fn while holding the project's lease. Attempts still open
// when the lease is taken belong to a caller that is gone and are closed.
func (o *Orchestrator) withLease(ctx context.Context, id string, fn func(token string) error) error {
	token := uuid.NewString()
	now := o.now()
	if err := o.store.AcquireLease(ctx, id, token, now, now.Add(o.opts.LivenessThreshold)); err != nil {
		return fmt.Errorf("project %s: %w", id, err)
	}
	defer func() {
		if err := o.store.ReleaseLease(context.WithoutCancel(ctx), id, token); err != nil {
			o.logger.Warn("releasing lease", "project_id", id, "error", err)
		}
	}()

	if err := o.closeOrphans(ctx, id); err != nil {
		return err
	}
	return fn(token)
}

func (o *Orchestrator) closeOrphans(ctx context.Context, id string) error {
	return o.store.WithTx(ctx, func(tx *storage.Tx) error {
		open, err := tx.OpenAttempts(ctx, id)
		if err != nil {
			return err
		}
		for _, a := range open {
			if err := tx.FinishAttempt(ctx, a.ID, storage.OutcomeTransientFailure, "abandoned", o.now()); err != nil {
				return err
			}
			o.logger.Warn("closed abandoned attempt", "project_id", id, "stage", a.Stage, "attempt", a.Number)
		}
		return nil
	})
}

func committed(p storage.Project, s storage.Stage) bool {
	i := s.Index()
	return i >= 0 && i < p.CurrentStage.Completed() && p.Artifacts.Has(s)
}
