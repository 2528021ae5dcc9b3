package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/storage"
)

// stageWork is one stage bound to a project. call runs the collaborator and
// writes files; apply records the result on the project inside the commit
// transaction.
type stageWork struct {
	call  func(ctx context.Context) error
	apply func(ctx context.Context, tx *storage.Tx, p *storage.Project) error
}

type idea struct {
	Topic       string `json:"topic"`
	Niche       string `json:"niche"`
	DisplayName string `json:"display_name"`
	Hook        string `json:"hook,omitempty"`
}

func (o *Orchestrator) runStage(ctx context.Context, token string, p storage.Project, stage storage.Stage) (storage.Project, error) {
	nc, err := o.niches.Get(p.Niche)
	if err != nil {
		return o.fail(ctx, p, stage, executor.Fatal(err))
	}

	var work stageWork
	switch stage {
	case storage.StageIdeaSelection:
		work = o.ideaStage(p, nc)
	case storage.StageScriptGeneration:
		work = o.scriptStage(p, nc)
	case storage.StageVoiceSynthesis:
		work = o.voiceStage(p, nc)
	case storage.StageFootageAcquisition:
		work = o.footageStage(p, nc)
	case storage.StageAssembly:
		work = o.assemblyStage(p, nc)
	case storage.StageMetadataExport:
		work = o.metadataStage(p, nc)
	default:
		return p, fmt.Errorf("%w: unknown stage %q", ErrInvalidState, stage)
	}

	rec := &attemptRecorder{o: o, token: token, project: p, stage: stage, apply: work.apply}
	err = o.exec.Run(ctx, executor.Task{
		Stage:    string(stage),
		Recorder: rec,
		Call:     work.call,
	})
	if err == nil {
		o.logger.Info("stage complete", "project_id", p.ID, "stage", stage, "checkpoint", rec.committed.CurrentStage)
		o.snapshot(rec.committed)
		return rec.committed, nil
	}

	var fatal *executor.FatalError
	if errors.As(err, &fatal) || errors.Is(err, executor.ErrExhausted) {
		return o.fail(ctx, p, stage, err)
	}
	return p, fmt.Errorf("%s of %s: %w", stage, p.ID, err)
}

// fail marks the project failed at its current checkpoint so Retry resumes
// at the same stage.
func (o *Orchestrator) fail(ctx context.Context, p storage.Project, stage storage.Stage, cause error) (storage.Project, error) {
	err := o.store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.GetProject(ctx, p.ID)
		if err != nil {
			return err
		}
		cur.Status = storage.StatusFailed
		cur.Error = fmt.Sprintf("%s: %s", stage, executor.Detail(cause))
		cur.UpdatedAt = o.now()
		if err := tx.UpdateProject(ctx, cur); err != nil {
			return err
		}
		p = cur
		return nil
	})
	if err != nil {
		return p, fmt.Errorf("marking %s failed: %w (stage error: %v)", p.ID, err, cause)
	}

	o.logger.Error("stage failed", "project_id", p.ID, "stage", stage, "error", cause)
	o.snapshot(p)
	return p, fmt.Errorf("%s of %s failed: %w", stage, p.ID, cause)
}

func (o *Orchestrator) ideaStage(p storage.Project, nc *niche.Config) stageWork {
	var ref string
	return stageWork{
		call: func(ctx context.Context) error {
			rec := idea{Topic: p.Topic, Niche: nc.Name, DisplayName: nc.DisplayName}
			if o.collab.Hook != nil {
				hook, err := o.collab.Hook.WriteHook(ctx, p.Topic, nc)
				if err != nil {
					return err
				}
				rec.Hook = strings.TrimSpace(hook)
			}
			var err error
			ref, err = o.artifacts.WriteJSON(p.ID, artifact.IdeaFile, rec)
			return err
		},
		apply: func(_ context.Context, _ *storage.Tx, q *storage.Project) error {
			q.Artifacts.Idea = ref
			return nil
		},
	}
}

func (o *Orchestrator) scriptStage(p storage.Project, nc *niche.Config) stageWork {
	var ref string
	return stageWork{
		call: func(ctx context.Context) error {
			text, err := o.collab.Script.Generate(ctx, p.Topic, nc)
			if err != nil {
				return err
			}
			text = strings.TrimSpace(text)
			if text == "" {
				return executor.Fatalf("script generator returned no text")
			}
			ref, err = o.artifacts.WriteFile(p.ID, artifact.ScriptFile, []byte(text+"\n"))
			return err
		},
		apply: func(_ context.Context, _ *storage.Tx, q *storage.Project) error {
			q.Artifacts.Script = ref
			return nil
		},
	}
}

func (o *Orchestrator) voiceStage(p storage.Project, nc *niche.Config) stageWork {
	var ref string
	return stageWork{
		call: func(ctx context.Context) error {
			script, err := o.readScript(p)
			if err != nil {
				return err
			}
			audio, err := o.collab.Voice.Synthesize(ctx, script, o.voiceFor(p, nc))
			if err != nil {
				return err
			}
			defer audio.Close()
			ref, err = o.artifacts.WriteFrom(p.ID, artifact.VoiceFile, audio)
			return err
		},
		apply: func(_ context.Context, _ *storage.Tx, q *storage.Project) error {
			q.Artifacts.Voice = ref
			return nil
		},
	}
}

// footageStage walks the keyword ladder until enough clips are gathered.
// An empty ladder result is fatal; the caller never sees a project stuck
// without footage.
func (o *Orchestrator) footageStage(p storage.Project, nc *niche.Config) stageWork {
	var clips []storage.FootageClip
	return stageWork{
		call: func(ctx context.Context) error {
			clips = nil
			need := o.opts.ClipsPerVideo

			var scriptKeywords []string
			if o.collab.Keywords != nil {
				script, err := o.readScript(p)
				if err != nil {
					return err
				}
				if scriptKeywords, err = o.collab.Keywords.Keywords(ctx, script, nc, need); err != nil {
					return err
				}
			}

			recent, err := o.ledger.QueryRecentFootage(ctx, 0)
			if err != nil {
				return err
			}
			exclude := make(map[string]bool, len(recent))
			for _, k := range recent {
				exclude[k] = true
			}

			// Files of an earlier attempt are not referenced by any commit.
			if err := o.artifacts.Remove(o.artifacts.Path(p.ID, artifact.FootageDir)); err != nil {
				return err
			}

			for _, rung := range nc.KeywordLadder(scriptKeywords) {
				if len(clips) >= need {
					break
				}
				found, err := o.collab.Footage.Search(ctx, FootageQuery{
					Keywords: rung,
					Exclude:  slices.Sorted(maps.Keys(exclude)),
					Limit:    need - len(clips),
				})
				if err != nil {
					return err
				}
				if len(found) == 0 {
					o.logger.Info("no footage for keywords, broadening", "project_id", p.ID, "keywords", rung)
					continue
				}
				for _, c := range found {
					if len(clips) >= need {
						break
					}
					if exclude[c.Key] {
						continue
					}
					clip, err := o.fetchClip(ctx, p.ID, len(clips)+1, c)
					if err != nil {
						return err
					}
					exclude[c.Key] = true
					clips = append(clips, clip)
				}
			}
			if len(clips) == 0 {
				return executor.Fatalf("no footage found")
			}
			return nil
		},
		apply: func(ctx context.Context, tx *storage.Tx, q *storage.Project) error {
			q.Artifacts.Footage = clips
			return o.ledger.ReserveFootage(ctx, tx, q.ID, clipKeys(clips), o.now())
		},
	}
}

func (o *Orchestrator) assemblyStage(p storage.Project, nc *niche.Config) stageWork {
	var ref string
	return stageWork{
		call: func(ctx context.Context) error {
			in := AssemblyInput{
				Audio:   p.Artifacts.Voice,
				Footage: clipRefs(p.Artifacts.Footage),
				Music:   p.Music,
			}
			if in.Music == "" {
				in.Music = nc.Music.Mood
			}
			if o.opts.Captions {
				script, err := o.readScript(p)
				if err != nil {
					return err
				}
				in.Captions = CaptionSpec{Enabled: true, Text: script, Hook: o.readHook(p)}
			}

			out, err := o.artifacts.Stage(p.ID, artifact.AssemblyFile)
			if err != nil {
				return err
			}
			defer out.Discard()
			if err := o.collab.Assemble.Compose(ctx, in, out.TempPath); err != nil {
				return err
			}
			ref, err = out.Commit()
			return err
		},
		apply: func(_ context.Context, _ *storage.Tx, q *storage.Project) error {
			q.Artifacts.Assembly = ref
			return nil
		},
	}
}

func (o *Orchestrator) metadataStage(p storage.Project, nc *niche.Config) stageWork {
	var ref string
	return stageWork{
		call: func(ctx context.Context) error {
			script, err := o.readScript(p)
			if err != nil {
				return err
			}
			md, err := o.collab.Metadata.Export(ctx, script, nc)
			if err != nil {
				return err
			}
			if strings.TrimSpace(md.Title) == "" {
				return executor.Fatalf("metadata exporter returned no title")
			}
			ref, err = o.artifacts.WriteJSON(p.ID, artifact.MetadataFile, md)
			return err
		},
		apply: func(_ context.Context, _ *storage.Tx, q *storage.Project) error {
			q.Artifacts.Metadata = ref
			q.Status = storage.StatusPreview
			return nil
		},
	}
}

func (o *Orchestrator) fetchClip(ctx context.Context, projectID string, n int, c FootageCandidate) (storage.FootageClip, error) {
	body, err := o.collab.Footage.Fetch(ctx, c)
	if err != nil {
		return storage.FootageClip{}, err
	}
	defer body.Close()

	name := fmt.Sprintf("%s/%03d_%s.mp4", artifact.FootageDir, n, slugify(c.Key))
	ref, err := o.artifacts.WriteFrom(projectID, name, body)
	if err != nil {
		return storage.FootageClip{}, err
	}
	return storage.FootageClip{ID: c.Key, Ref: ref, Keyword: c.Keyword, Seconds: c.Seconds}, nil
}

func (o *Orchestrator) readScript(p storage.Project) (string, error) {
	if p.Artifacts.Script == "" {
		return "", executor.Fatalf("project %s has no script", p.ID)
	}
	data, err := o.artifacts.ReadFile(p.Artifacts.Script)
	if err != nil {
		return "", executor.Fatal(fmt.Errorf("reading script: %w", err))
	}
	return strings.TrimSpace(string(data)), nil
}

func (o *Orchestrator) readHook(p storage.Project) string {
	if p.Artifacts.Idea == "" {
		return ""
	}
	data, err := o.artifacts.ReadFile(p.Artifacts.Idea)
	if err != nil {
		o.logger.Warn("reading idea", "project_id", p.ID, "error", err)
		return ""
	}
	var rec idea
	if err := json.Unmarshal(data, &rec); err != nil {
		o.logger.Warn("decoding idea", "project_id", p.ID, "error", err)
		return ""
	}
	return rec.Hook
}

func (o *Orchestrator) voiceFor(p storage.Project, nc *niche.Config) string {
	switch {
	case p.Voice != "":
		return p.Voice
	case nc.Voice.VoiceKey != "":
		return nc.Voice.VoiceKey
	}
	return o.opts.DefaultVoice
}

func clipKeys(clips []storage.FootageClip) []string {
	keys := make([]string, len(clips))
	for i, c := range clips {
		keys[i] = c.ID
	}
	return keys
}

func clipRefs(clips []storage.FootageClip) []string {
	refs := make([]string, len(clips))
	for i, c := range clips {
		refs[i] = c.Ref
	}
	return refs
}

// attemptRecorder persists attempts of one stage and commits the stage
// result together with the successful attempt.
type attemptRecorder struct {
	o       *Orchestrator
	token   string
	project storage.Project
	stage   storage.Stage
	apply   func(ctx context.Context, tx *storage.Tx, p *storage.Project) error

	committed storage.Project
}

func (r *attemptRecorder) Begin(ctx context.Context) (int64, error) {
	now := r.o.now()
	if err := r.o.store.RenewLease(ctx, r.project.ID, r.token, now.Add(r.o.opts.LivenessThreshold)); err != nil {
		return 0, err
	}

	var a storage.StageAttempt
	err := r.o.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		a, err = tx.StartAttempt(ctx, r.project.ID, r.stage, r.project.Generation, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.o.logger.Debug("stage attempt started", "project_id", r.project.ID, "stage", r.stage, "attempt", a.Number)
	return a.ID, nil
}

func (r *attemptRecorder) Finish(ctx context.Context, id int64, outcome storage.Outcome, detail string) error {
	now := r.o.now()
	return r.o.store.WithTx(ctx, func(tx *storage.Tx) error {
		if outcome == storage.OutcomeSuccess {
			p, err := tx.GetProject(ctx, r.project.ID)
			if err != nil {
				return err
			}
			if p.Generation != r.project.Generation {
				return fmt.Errorf("%w: %s moved from generation %d to %d", ErrStaleStageReference, p.ID, r.project.Generation, p.Generation)
			}
			p.CurrentStage = r.stage.Checkpoint()
			p.Error = ""
			p.UpdatedAt = now
			if err := r.apply(ctx, tx, &p); err != nil {
				return err
			}
			if err := tx.UpdateProject(ctx, p); err != nil {
				return err
			}
			r.committed = p
		}
		return tx.FinishAttempt(ctx, id, outcome, detail, now)
	})
}
