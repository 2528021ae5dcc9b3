package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/CMarchell/autoclips/internal/pipeline"
	"github.com/CMarchell/autoclips/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func decodeProject(t *testing.T, result *mcp.CallToolResult) ProjectView {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var v ProjectView
	if err := json.Unmarshal([]byte(toolText(t, result)), &v); err != nil {
		t.Fatalf("failed to parse project: %v", err)
	}
	return v
}

// --- tests ---

func TestMCPTool_CreateVideo_RunsToPreview(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpCreateVideo(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("create_video", map[string]interface{}{
		"topic": "Budgeting for students",
		"voice": "warm",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := decodeProject(t, result)
	if v.Status != "preview" {
		t.Fatalf("status = %s, want preview", v.Status)
	}
	if v.Voice != "warm" {
		t.Fatalf("voice = %q, want warm", v.Voice)
	}
	if v.Artifacts.Assembly == "" || v.Artifacts.Metadata == "" {
		t.Fatalf("expected assembly and metadata artifacts, got %+v", v.Artifacts)
	}
	if v.NextStage != "" {
		t.Fatalf("next stage = %q, want empty", v.NextStage)
	}
}

func TestMCPTool_CreateVideo_NoAutoGenerate(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpCreateVideo(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("create_video", map[string]interface{}{
		"topic":         "Budgeting for students",
		"auto_generate": false,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := decodeProject(t, result)
	if v.Status != "draft" || v.CurrentStage != "" {
		t.Fatalf("got status %s at %q, want fresh draft", v.Status, v.CurrentStage)
	}
	if v.NextStage != string(storage.StageIdeaSelection) {
		t.Fatalf("next stage = %q", v.NextStage)
	}
}

func TestMCPTool_CreateVideo_DuplicateTopic(t *testing.T) {
	env := newTestEnv(t)
	env.preview(t, "Budgeting for students")
	handler := mcpCreateVideo(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("create_video", map[string]interface{}{
		"topic": "  budgeting FOR students ",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected duplicate topic error, got %s", toolText(t, result))
	}
}

func TestMCPTool_CreateVideo_MissingTopic(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpCreateVideo(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("create_video", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for missing topic")
	}
}

func TestMCPTool_GenerateIdeas_SkipsRecentTopics(t *testing.T) {
	env := newTestEnv(t)
	env.preview(t, "The five minute rule")
	handler := mcpGenerateIdeas(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("generate_ideas", map[string]interface{}{"count": 3}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got struct {
		Ideas []string `json:"ideas"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got.Ideas) != 1 || got.Ideas[0] != "Why coffee tastes better in the morning" {
		t.Fatalf("ideas = %v", got.Ideas)
	}
}

func TestMCPTool_ListProjects_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.preview(t, "First topic")
	if _, err := env.orch.Create(context.Background(), "Second topic", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	handler := mcpListProjects(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("list_projects", map[string]interface{}{"status": "draft"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var views []ProjectView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(views) != 1 || views[0].Topic != "Second topic" {
		t.Fatalf("got %+v, want only the draft", views)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("list_projects", map[string]interface{}{"status": "bogus"}))
	if !result.IsError {
		t.Fatal("expected error for unknown status")
	}
}

func TestMCPTool_GetProjectStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpProjectStatus(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("get_project_status", map[string]interface{}{"project_id": "nope"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Fatalf("expected not found error, got %s", toolText(t, result))
	}
}

func TestMCPTool_StageHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.preview(t, "History topic")
	handler := mcpStageHistory(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("get_stage_history", map[string]interface{}{"project_id": p.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var attempts []AttemptView
	if err := json.Unmarshal([]byte(toolText(t, result)), &attempts); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(attempts) != len(storage.Stages) {
		t.Fatalf("got %d attempts, want %d", len(attempts), len(storage.Stages))
	}
	for i, a := range attempts {
		if a.Stage != string(storage.Stages[i]) || a.Outcome != "success" {
			t.Errorf("attempt %d = %s/%s", i, a.Stage, a.Outcome)
		}
	}
}

func TestMCPTool_ScriptRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p := env.preview(t, "Script topic")
	deps := env.mcpDeps()
	s := NewMCPServer(deps, "test")
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}

	get := mcpGetScript(deps)
	result, err := get(context.Background(), makeCallToolRequest("get_script", map[string]interface{}{"project_id": p.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(toolText(t, result), "Script topic") {
		t.Fatalf("script = %q", toolText(t, result))
	}

	update := mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error) {
		text, _ := req.RequireString("script")
		return o.UpdateScript(ctx, id, text)
	})
	result, err = update(context.Background(), makeCallToolRequest("update_script", map[string]interface{}{
		"project_id": p.ID,
		"script":     "A brand new script.",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := decodeProject(t, result)
	if v.Status != "draft" || v.CurrentStage != string(storage.CheckpointScriptReady) {
		t.Fatalf("after edit got %s at %s", v.Status, v.CurrentStage)
	}
	if v.Artifacts.Voice != "" || v.Artifacts.Assembly != "" {
		t.Fatalf("downstream artifacts survived the edit: %+v", v.Artifacts)
	}

	result, _ = get(context.Background(), makeCallToolRequest("get_script", map[string]interface{}{"project_id": p.ID}))
	if got := toolText(t, result); got != "A brand new script." {
		t.Fatalf("script after edit = %q", got)
	}
}

func TestMCPTool_FootageList(t *testing.T) {
	env := newTestEnv(t)
	p := env.preview(t, "Footage topic")
	handler := mcpFootageList(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("get_footage_list", map[string]interface{}{"project_id": p.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var clips []storage.FootageClip
	if err := json.Unmarshal([]byte(toolText(t, result)), &clips); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("got %d clips, want 2", len(clips))
	}
}

func TestMCPTool_ApproveThenKill(t *testing.T) {
	env := newTestEnv(t)
	p := env.preview(t, "Approve topic")
	deps := env.mcpDeps()

	approve := mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, _ mcp.CallToolRequest) (storage.Project, error) {
		return o.Approve(ctx, id)
	})
	result, err := approve(context.Background(), makeCallToolRequest("approve_video", map[string]interface{}{"project_id": p.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := decodeProject(t, result); v.Status != "approved" || v.ApprovedAt == "" {
		t.Fatalf("got %+v, want approved", v)
	}

	result, _ = approve(context.Background(), makeCallToolRequest("approve_video", map[string]interface{}{"project_id": p.ID}))
	if !result.IsError {
		t.Fatal("expected second approval to fail")
	}

	kill := mcpKillVideo(deps)
	result, err = kill(context.Background(), makeCallToolRequest("kill_video", map[string]interface{}{"project_id": p.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if _, err := env.store.GetProject(context.Background(), p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetProject after kill: %v", err)
	}
}

func TestMCPResource_Recent(t *testing.T) {
	env := newTestEnv(t)
	env.preview(t, "Resource topic")
	handler := mcpResourceRecent(env.mcpDeps())

	contents, err := handler(context.Background(), makeReadResourceRequest("autoclips://projects/recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, "Resource topic") {
		t.Fatalf("resource text = %s", tc.Text)
	}
}
