package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/dedup"
	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/storage"
)

var ctx = context.Background()

type mockScript struct {
	calls atomic.Int32
	fn    func(ctx context.Context, topic string) (string, error)
}

func (m *mockScript) Generate(ctx context.Context, topic string, _ *niche.Config) (string, error) {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx, topic)
	}
	return "Most budgets fail in week two. Here is how to make yours stick.", nil
}

type mockVoice struct {
	calls atomic.Int32
	voice atomic.Value
	fn    func(ctx context.Context) error
}

func (m *mockVoice) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	m.calls.Add(1)
	m.voice.Store(voice)
	if m.fn != nil {
		if err := m.fn(ctx); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(strings.NewReader("ID3 " + text)), nil
}

// mockFootage hands out unique keys for every query unless search is set.
type mockFootage struct {
	mu      sync.Mutex
	next    int
	queries []FootageQuery
	search  func(q FootageQuery) []FootageCandidate
}

func (m *mockFootage) Search(ctx context.Context, q FootageQuery) ([]FootageCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.search != nil {
		return m.search(q), nil
	}
	var out []FootageCandidate
	for len(out) < q.Limit {
		m.next++
		key := fmt.Sprintf("pexels:%d", m.next)
		if slices.Contains(q.Exclude, key) {
			continue
		}
		out = append(out, FootageCandidate{Key: key, URL: "https://example.test/" + key, Keyword: q.Keywords[0], Seconds: 8})
	}
	return out, nil
}

func (m *mockFootage) Fetch(ctx context.Context, c FootageCandidate) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("mp4 " + c.Key)), nil
}

func (m *mockFootage) allQueries() []FootageQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queries)
}

type mockAssembler struct {
	calls atomic.Int32
	last  atomic.Value
}

func (m *mockAssembler) Compose(ctx context.Context, in AssemblyInput, out string) error {
	m.calls.Add(1)
	m.last.Store(in)
	return os.WriteFile(out, []byte("video"), 0o644)
}

type mockMetadata struct{}

func (mockMetadata) Export(ctx context.Context, script string, n *niche.Config) (Metadata, error) {
	return Metadata{Title: "Make your budget stick", Description: script, Tags: []string{"budget"}}, nil
}

type mockHook struct {
	calls atomic.Int32
}

func (m *mockHook) WriteHook(ctx context.Context, topic string, _ *niche.Config) (string, error) {
	m.calls.Add(1)
	return "Stop doing this with your money", nil
}

type mockKeywords struct {
	words []string
}

func (m mockKeywords) Keywords(ctx context.Context, script string, _ *niche.Config, count int) ([]string, error) {
	return m.words, nil
}

type mockIdeas struct {
	ideas   []string
	exclude []string
}

func (m *mockIdeas) Ideas(ctx context.Context, _ *niche.Config, count int, exclude []string) ([]string, error) {
	m.exclude = exclude
	return m.ideas, nil
}

type harness struct {
	o         *Orchestrator
	store     *storage.Store
	artifacts *artifact.Store
	script    *mockScript
	voice     *mockVoice
	footage   *mockFootage
	assembler *mockAssembler
	hook      *mockHook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	exec := executor.New(executor.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	exec.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })

	h := &harness{
		store:     store,
		artifacts: artifact.New(t.TempDir()),
		script:    &mockScript{},
		voice:     &mockVoice{},
		footage:   &mockFootage{},
		assembler: &mockAssembler{},
		hook:      &mockHook{},
	}
	h.o = NewOrchestrator(store, dedup.NewLedger(store, 0, 0), exec, h.artifacts, niche.NewLoader(""), Collaborators{
		Script:   h.script,
		Voice:    h.voice,
		Footage:  h.footage,
		Assemble: h.assembler,
		Metadata: mockMetadata{},
		Hook:     h.hook,
	}, Options{ClipsPerVideo: 3, Captions: true, DefaultVoice: "sam"})
	return h
}

func (h *harness) create(t *testing.T, topic string) storage.Project {
	t.Helper()
	p, err := h.o.Create(ctx, topic, "")
	if err != nil {
		t.Fatalf("Create(%q): %v", topic, err)
	}
	return p
}

// advanceTo runs stages until the project reaches checkpoint cp.
func (h *harness) advanceTo(t *testing.T, id string, cp storage.Checkpoint) storage.Project {
	t.Helper()
	for {
		p, err := h.store.GetProject(ctx, id)
		if err != nil {
			t.Fatalf("GetProject: %v", err)
		}
		if p.CurrentStage == cp {
			return p
		}
		if _, err := h.o.Advance(ctx, id, ""); err != nil {
			t.Fatalf("Advance toward %s: %v", cp, err)
		}
	}
}

func (h *harness) history(t *testing.T, id string) []storage.StageAttempt {
	t.Helper()
	attempts, err := h.store.ListAttempts(ctx, id)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	return attempts
}

func countAttempts(attempts []storage.StageAttempt, stage storage.Stage, outcome storage.Outcome) int {
	n := 0
	for _, a := range attempts {
		if a.Stage == stage && a.Outcome == outcome {
			n++
		}
	}
	return n
}
