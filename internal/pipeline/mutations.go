package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/storage"
)

// UpdateScript replaces the script text and invalidates every stage after
// script generation.
func (o *Orchestrator) UpdateScript(ctx context.Context, id, text string) (storage.Project, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return storage.Project{}, fmt.Errorf("%w: script must not be empty", ErrInvalidState)
	}
	return o.mutate(ctx, id, "update_script", func(ctx context.Context, tx *storage.Tx, p *storage.Project) ([]string, error) {
		if !p.Artifacts.Has(storage.StageScriptGeneration) {
			return nil, fmt.Errorf("%w: %s has no script", ErrStaleStageReference, p.ID)
		}
		old := p.Artifacts.Script
		stale, err := o.resetTo(ctx, tx, p, storage.CheckpointScriptReady)
		if err != nil {
			return nil, err
		}
		// A new name per generation keeps the old script intact until the
		// transaction commits.
		ref, err := o.artifacts.WriteFile(p.ID, fmt.Sprintf("script.r%d.txt", p.Generation), []byte(text+"\n"))
		if err != nil {
			return nil, err
		}
		p.Artifacts.Script = ref
		return append(stale, old), nil
	})
}

// RemoveFootage drops one clip. Assembly and metadata are invalidated; when
// no clip is left footage acquisition runs again.
func (o *Orchestrator) RemoveFootage(ctx context.Context, id, clipID string) (storage.Project, error) {
	return o.mutate(ctx, id, "remove_footage", func(ctx context.Context, tx *storage.Tx, p *storage.Project) ([]string, error) {
		idx := clipIndex(p.Artifacts.Footage, clipID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s has no clip %q", ErrStaleStageReference, p.ID, clipID)
		}
		removed := p.Artifacts.Footage[idx]
		remaining := slices.Delete(slices.Clone(p.Artifacts.Footage), idx, idx+1)

		if len(remaining) == 0 {
			return o.resetTo(ctx, tx, p, storage.CheckpointVoiceReady)
		}
		stale, err := o.resetTo(ctx, tx, p, storage.CheckpointFootageReady)
		if err != nil {
			return nil, err
		}
		p.Artifacts.Footage = remaining
		if err := o.ledger.ReserveFootage(ctx, tx, p.ID, clipKeys(remaining), o.now()); err != nil {
			return nil, err
		}
		return append(stale, removed.Ref), nil
	})
}

// ReplaceFootage swaps one clip for a fresh search hit on keyword (or the
// clip's own keyword when empty). The search is one executor invocation
// recorded as a footage acquisition attempt.
func (o *Orchestrator) ReplaceFootage(ctx context.Context, id, clipID, keyword string) (storage.Project, error) {
	var result storage.Project
	var stale []string
	err := o.withLease(ctx, id, func(token string) error {
		p, err := o.store.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if err := editable(p); err != nil {
			return err
		}
		idx := clipIndex(p.Artifacts.Footage, clipID)
		if idx < 0 {
			return fmt.Errorf("%w: %s has no clip %q", ErrStaleStageReference, p.ID, clipID)
		}
		old := p.Artifacts.Footage[idx]
		keywords := []string{strings.ToLower(strings.TrimSpace(keyword))}
		if keywords[0] == "" || keywords[0] == old.Keyword {
			keywords = []string{old.Keyword}
		} else if old.Keyword != "" {
			keywords = append(keywords, old.Keyword)
		}

		var clip storage.FootageClip
		call := func(ctx context.Context) error {
			recent, err := o.ledger.QueryRecentFootage(ctx, 0)
			if err != nil {
				return err
			}
			exclude := append(recent, clipKeys(p.Artifacts.Footage)...)
			found, err := o.collab.Footage.Search(ctx, FootageQuery{Keywords: keywords, Exclude: exclude, Limit: 1})
			if err != nil {
				return err
			}
			for _, c := range found {
				if slices.Contains(exclude, c.Key) {
					continue
				}
				clip, err = o.fetchClip(ctx, p.ID, idx+1, c)
				return err
			}
			return executor.Fatalf("no replacement footage found for %q", strings.Join(keywords, ", "))
		}
		apply := func(ctx context.Context, tx *storage.Tx, q *storage.Project) error {
			var err error
			if stale, err = o.resetTo(ctx, tx, q, storage.CheckpointFootageReady); err != nil {
				return err
			}
			q.Artifacts.Footage[idx] = clip
			stale = append(stale, old.Ref)
			return o.ledger.ReserveFootage(ctx, tx, q.ID, clipKeys(q.Artifacts.Footage), o.now())
		}

		rec := &attemptRecorder{o: o, token: token, project: p, stage: storage.StageFootageAcquisition, apply: apply}
		if err := o.exec.Run(ctx, executor.Task{
			Stage:    string(storage.StageFootageAcquisition),
			Recorder: rec,
			Call:     call,
		}); err != nil {
			return fmt.Errorf("replacing clip %s of %s: %w", clipID, id, err)
		}
		result = rec.committed
		return nil
	})
	if err != nil {
		return storage.Project{}, err
	}
	o.cleanup(result.ID, stale)
	o.logger.Info("project edited", "project_id", id, "edit", "replace_footage", "checkpoint", result.CurrentStage)
	o.snapshot(result)
	return result, nil
}

// ChangeVoice sets the voice. An existing voiceover is invalidated.
func (o *Orchestrator) ChangeVoice(ctx context.Context, id, voice string) (storage.Project, error) {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return storage.Project{}, fmt.Errorf("%w: voice must not be empty", ErrInvalidState)
	}
	return o.mutate(ctx, id, "change_voice", func(ctx context.Context, tx *storage.Tx, p *storage.Project) ([]string, error) {
		p.Voice = voice
		if !p.Artifacts.Has(storage.StageVoiceSynthesis) {
			reenter(p)
			return nil, nil
		}
		return o.resetTo(ctx, tx, p, storage.CheckpointScriptReady)
	})
}

// ChangeMusic sets the music track or mood. An existing assembly is
// invalidated.
func (o *Orchestrator) ChangeMusic(ctx context.Context, id, music string) (storage.Project, error) {
	music = strings.TrimSpace(music)
	return o.mutate(ctx, id, "change_music", func(ctx context.Context, tx *storage.Tx, p *storage.Project) ([]string, error) {
		p.Music = music
		if !p.Artifacts.Has(storage.StageAssembly) {
			reenter(p)
			return nil, nil
		}
		return o.resetTo(ctx, tx, p, storage.CheckpointFootageReady)
	})
}

// mutate applies fn to the project under its lease in one transaction and
// removes the files fn reports stale once the transaction committed.
func (o *Orchestrator) mutate(ctx context.Context, id, edit string, fn func(ctx context.Context, tx *storage.Tx, p *storage.Project) ([]string, error)) (storage.Project, error) {
	var p storage.Project
	var stale []string
	err := o.withLease(ctx, id, func(string) error {
		return o.store.WithTx(ctx, func(tx *storage.Tx) error {
			var err error
			if p, err = tx.GetProject(ctx, id); err != nil {
				return err
			}
			if err := editable(p); err != nil {
				return err
			}
			if stale, err = fn(ctx, tx, &p); err != nil {
				return err
			}
			p.UpdatedAt = o.now()
			return tx.UpdateProject(ctx, p)
		})
	})
	if err != nil {
		return storage.Project{}, err
	}

	o.cleanup(id, stale)
	o.logger.Info("project edited", "project_id", id, "edit", edit, "checkpoint", p.CurrentStage, "generation", p.Generation)
	o.snapshot(p)
	return p, nil
}

// resetTo invalidates every stage after checkpoint to: their artifacts and
// attempts are dropped, the generation is bumped and the project re-enters
// draft. It returns the locators of the dropped artifacts.
func (o *Orchestrator) resetTo(ctx context.Context, tx *storage.Tx, p *storage.Project, to storage.Checkpoint) ([]string, error) {
	stale := storage.Stages[to.Completed():]

	var files []string
	for _, s := range stale {
		files = append(files, artifactRefs(p.Artifacts, s)...)
		p.Artifacts.Clear(s)
	}
	if err := tx.DeleteAttempts(ctx, p.ID, stale); err != nil {
		return nil, err
	}
	if slices.Contains(stale, storage.StageFootageAcquisition) {
		if err := o.ledger.ReserveFootage(ctx, tx, p.ID, nil, o.now()); err != nil {
			return nil, err
		}
	}

	if p.CurrentStage.Completed() > to.Completed() {
		p.CurrentStage = to
	}
	p.Generation++
	reenter(p)
	return files, nil
}

func reenter(p *storage.Project) {
	p.Status = storage.StatusDraft
	p.Error = ""
	p.ApprovedAt = time.Time{}
}

func editable(p storage.Project) error {
	switch p.Status {
	case storage.StatusDraft, storage.StatusPreview, storage.StatusFailed:
		return nil
	}
	return fmt.Errorf("%w: project %s is %s", ErrInvalidState, p.ID, p.Status)
}

func (o *Orchestrator) cleanup(id string, refs []string) {
	for _, ref := range refs {
		if err := o.artifacts.Remove(ref); err != nil {
			o.logger.Warn("removing stale artifact", "project_id", id, "ref", ref, "error", err)
		}
	}
}

func artifactRefs(a storage.Artifacts, s storage.Stage) []string {
	switch s {
	case storage.StageIdeaSelection:
		return nonEmpty(a.Idea)
	case storage.StageScriptGeneration:
		return nonEmpty(a.Script)
	case storage.StageVoiceSynthesis:
		return nonEmpty(a.Voice)
	case storage.StageFootageAcquisition:
		return clipRefs(a.Footage)
	case storage.StageAssembly:
		return nonEmpty(a.Assembly)
	case storage.StageMetadataExport:
		return nonEmpty(a.Metadata)
	}
	return nil
}

func nonEmpty(ref string) []string {
	if ref == "" {
		return nil
	}
	return []string{ref}
}

func clipIndex(clips []storage.FootageClip, id string) int {
	return slices.IndexFunc(clips, func(c storage.FootageClip) bool { return c.ID == id })
}
