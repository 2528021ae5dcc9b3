package api

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/dedup"
	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/pipeline"
	"github.com/CMarchell/autoclips/internal/registry"
	"github.com/CMarchell/autoclips/internal/storage"
)

// --- fakes ---

type fakeScript struct{}

func (fakeScript) Generate(_ context.Context, topic string, _ *niche.Config) (string, error) {
	return "Here is what nobody tells you about " + topic + ".", nil
}

type fakeVoice struct{}

func (fakeVoice) Synthesize(_ context.Context, text, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("ID3 " + text)), nil
}

type fakeFootage struct {
	mu   sync.Mutex
	next int
}

func (f *fakeFootage) Search(_ context.Context, q pipeline.FootageQuery) ([]pipeline.FootageCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.FootageCandidate, 0, q.Limit)
	for len(out) < q.Limit {
		f.next++
		key := fmt.Sprintf("pexels:%d", f.next)
		out = append(out, pipeline.FootageCandidate{Key: key, URL: "https://example.test/" + key, Keyword: q.Keywords[0], Seconds: 8})
	}
	return out, nil
}

func (f *fakeFootage) Fetch(_ context.Context, c pipeline.FootageCandidate) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("mp4 " + c.Key)), nil
}

type fakeAssembler struct{}

func (fakeAssembler) Compose(_ context.Context, _ pipeline.AssemblyInput, out string) error {
	return os.WriteFile(out, []byte("video"), 0o644)
}

type fakeMetadata struct{}

func (fakeMetadata) Export(_ context.Context, script string, _ *niche.Config) (pipeline.Metadata, error) {
	return pipeline.Metadata{Title: "Title", Description: script, Tags: []string{"tag"}}, nil
}

type fakeIdeas struct{}

func (fakeIdeas) Ideas(_ context.Context, _ *niche.Config, count int, _ []string) ([]string, error) {
	return []string{"Why coffee tastes better in the morning", "The five minute rule"}, nil
}

// --- helpers ---

type testEnv struct {
	store     *storage.Store
	artifacts *artifact.Store
	orch      *pipeline.Orchestrator
	reg       *registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ledger := dedup.NewLedger(store, 0, 0)
	exec := executor.New(executor.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	exec.SetSleep(func(context.Context, time.Duration) error { return nil })
	arts := artifact.New(t.TempDir())

	orch := pipeline.NewOrchestrator(store, ledger, exec, arts, niche.NewLoader(""), pipeline.Collaborators{
		Script:   fakeScript{},
		Voice:    fakeVoice{},
		Footage:  &fakeFootage{},
		Assemble: fakeAssembler{},
		Metadata: fakeMetadata{},
		Ideas:    fakeIdeas{},
	}, pipeline.Options{ClipsPerVideo: 2, DefaultVoice: "generic"})

	return &testEnv{store: store, artifacts: arts, orch: orch, reg: registry.New(store, ledger)}
}

func (e *testEnv) mcpDeps() MCPDeps {
	return MCPDeps{Orchestrator: e.orch, Registry: e.reg, Artifacts: e.artifacts}
}

// preview creates a project and runs it to preview.
func (e *testEnv) preview(t *testing.T, topic string) storage.Project {
	t.Helper()
	p, err := e.orch.Create(context.Background(), topic, "")
	if err != nil {
		t.Fatalf("Create(%q): %v", topic, err)
	}
	if p, err = e.orch.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("Run(%s): %v", p.ID, err)
	}
	if p.Status != storage.StatusPreview {
		t.Fatalf("status = %s, want preview", p.Status)
	}
	return p
}
