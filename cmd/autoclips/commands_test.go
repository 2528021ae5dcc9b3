package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CMarchell/autoclips/internal/api"
	"github.com/CMarchell/autoclips/internal/storage"
)

var ctx = context.Background()

// execute runs the root command with args against an isolated data dir.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir+"/config")
	t.Setenv("AUTOCLIPS_STORAGE_DATA_DIR", dir+"/data")
	t.Setenv("AUTOCLIPS_LOG_LEVEL", "error")
	noColor = true
	return dir
}

func TestReadTopics(t *testing.T) {
	in := "# finance ideas\nWhy budgets fail\n\n  Compound interest  \n#skip\nThe latte factor\n"
	got, err := readTopics(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Why budgets fail", "Compound interest", "The latte factor"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"project x not found","type":"not_found_error"}}`))
	}))
	t.Cleanup(srv.Close)

	client := newAPIClient(srv.URL)
	resp, err := client.get(ctx, "/projects/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v map[string]any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestServerHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	addr := strings.TrimPrefix(srv.URL, "http://")

	if !serverHealthy(ctx, addr) {
		t.Fatal("expected healthy server")
	}
	srv.Close()
	if serverHealthy(ctx, addr) {
		t.Fatal("expected closed server to be unhealthy")
	}
}

func TestPrintProjectLine(t *testing.T) {
	noColor = true
	var buf bytes.Buffer
	printProjectLine(&buf, storage.Project{
		ID:           "20261014-budgets-a1b2c3",
		Topic:        "Why   budgets\nfail",
		Status:       storage.StatusPreview,
		CurrentStage: storage.CheckpointMetadataReady,
	})
	line := buf.String()
	for _, want := range []string{"20261014-budgets-a1b2c3", "preview", "metadata_ready", "Why budgets fail"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPrintAttempt_Running(t *testing.T) {
	noColor = true
	var buf bytes.Buffer
	printAttempt(&buf, storage.StageAttempt{
		Stage:      storage.StageVoiceSynthesis,
		Generation: 2,
		Number:     1,
		StartedAt:  time.Now(),
	})
	if !strings.Contains(buf.String(), "running") || !strings.Contains(buf.String(), "gen 2") {
		t.Fatalf("attempt line = %q", buf.String())
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateText("ñandú ñandú", 5); got != "ñandú..." {
		t.Errorf("got %q", got)
	}
}

func TestCommands_CreateListStatusKill(t *testing.T) {
	isolate(t)

	if _, err := execute(t, "create", "--no-run", "Why budgets fail in week two"); err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := execute(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var views []api.ProjectView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("parsing list output %q: %v", out, err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d projects, want 1", len(views))
	}
	v := views[0]
	if v.Status != "draft" || v.NextStage != string(storage.StageIdeaSelection) {
		t.Fatalf("project = %+v", v)
	}

	if _, err := execute(t, "create", "--no-run", "why budgets FAIL in week two"); err == nil {
		t.Fatal("expected duplicate topic to be rejected")
	}

	out, err = execute(t, "status", v.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Checkpoint: none") {
		t.Fatalf("status output = %q", out)
	}

	if _, err := execute(t, "status", "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("status of missing project: %v", err)
	}

	if _, err := execute(t, "kill", "--confirm", v.ID); err != nil {
		t.Fatalf("kill: %v", err)
	}
	out, err = execute(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("list after kill = %q", out)
	}
}

func TestCommands_AdvanceRejectsUnknownStage(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "advance", "some-id", "bogus_stage"); err == nil || !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("expected unknown stage error, got %v", err)
	}
}

func TestCommands_ConfigSetRejectsSecrets(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "config", "set", "pexels.api_key", "abc"); err == nil {
		t.Fatal("expected secrets to be rejected by config set")
	}
	if _, err := execute(t, "config", "set", "server.port", "4200"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "server.port = 4200") {
		t.Fatalf("config show output = %q", out)
	}
}
