package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/pipeline"
	"github.com/CMarchell/autoclips/internal/registry"
	"github.com/CMarchell/autoclips/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *pipeline.Orchestrator
	Registry     *registry.Registry
	Artifacts    *artifact.Store
}

// NewMCPServer creates an MCP server exposing the pipeline as agent tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"autoclips",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("autoclips turns a topic into a short vertical video. Create a project, inspect it, edit its script or footage, then approve or kill it."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_video",
			mcp.WithDescription("Create a video project for a topic and, unless auto_generate is false, run it up to preview."),
			mcp.WithString("topic", mcp.Description("Video topic"), mcp.Required()),
			mcp.WithString("niche", mcp.Description("Niche name (default niche when empty)")),
			mcp.WithString("voice", mcp.Description("Voice key or provider voice id")),
			mcp.WithBoolean("auto_generate", mcp.Description("Run every stage immediately (default true)")),
		),
		mcpCreateVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_ideas",
			mcp.WithDescription("Suggest new topics for a niche, skipping recently used ones."),
			mcp.WithString("niche", mcp.Description("Niche name")),
			mcp.WithNumber("count", mcp.Description("Number of ideas (default 5)")),
		),
		mcpGenerateIdeas(deps),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List projects newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: draft, preview, approved, killed, failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of projects (default 20)")),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("get_project_status",
			mcp.WithDescription("Return a project's status, checkpoint and artifacts."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpProjectStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("get_stage_history",
			mcp.WithDescription("Return every stage attempt of a project in execution order."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpStageHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("get_script",
			mcp.WithDescription("Return the current script text of a project."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpGetScript(deps),
	)

	s.AddTool(
		mcp.NewTool("get_footage_list",
			mcp.WithDescription("Return the selected footage clips of a project."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpFootageList(deps),
	)

	s.AddTool(
		mcp.NewTool("update_script",
			mcp.WithDescription("Replace the script. Voice, assembly and metadata are regenerated on the next run."),
			mcp.WithString("project_id", mcp.Required()),
			mcp.WithString("script", mcp.Description("New script text"), mcp.Required()),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error) {
			text, err := req.RequireString("script")
			if err != nil {
				return storage.Project{}, errors.New("script is required")
			}
			return o.UpdateScript(ctx, id, text)
		}),
	)

	s.AddTool(
		mcp.NewTool("remove_footage",
			mcp.WithDescription("Remove one footage clip from a project."),
			mcp.WithString("project_id", mcp.Required()),
			mcp.WithString("clip_id", mcp.Required()),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error) {
			clip, err := req.RequireString("clip_id")
			if err != nil {
				return storage.Project{}, errors.New("clip_id is required")
			}
			return o.RemoveFootage(ctx, id, clip)
		}),
	)

	s.AddTool(
		mcp.NewTool("replace_footage",
			mcp.WithDescription("Replace one footage clip with a new search result."),
			mcp.WithString("project_id", mcp.Required()),
			mcp.WithString("clip_id", mcp.Required()),
			mcp.WithString("keyword", mcp.Description("Search keyword (defaults to the clip's keyword)")),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error) {
			clip, err := req.RequireString("clip_id")
			if err != nil {
				return storage.Project{}, errors.New("clip_id is required")
			}
			return o.ReplaceFootage(ctx, id, clip, req.GetString("keyword", ""))
		}),
	)

	s.AddTool(
		mcp.NewTool("change_voice",
			mcp.WithDescription("Change the narration voice."),
			mcp.WithString("project_id", mcp.Required()),
			mcp.WithString("voice", mcp.Required()),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error) {
			voice, err := req.RequireString("voice")
			if err != nil {
				return storage.Project{}, errors.New("voice is required")
			}
			return o.ChangeVoice(ctx, id, voice)
		}),
	)

	s.AddTool(
		mcp.NewTool("change_music",
			mcp.WithDescription("Change the background music mood or track. Empty removes music."),
			mcp.WithString("project_id", mcp.Required()),
			mcp.WithString("music", mcp.Description("Mood or track path")),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error) {
			return o.ChangeMusic(ctx, id, req.GetString("music", ""))
		}),
	)

	s.AddTool(
		mcp.NewTool("run_project",
			mcp.WithDescription("Run the remaining stages of a project up to preview."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, _ mcp.CallToolRequest) (storage.Project, error) {
			return o.Run(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("retry_project",
			mcp.WithDescription("Clear a failure and resume the project from its checkpoint."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, _ mcp.CallToolRequest) (storage.Project, error) {
			return o.Retry(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("approve_video",
			mcp.WithDescription("Approve a previewed video. Its footage becomes unavailable to later projects."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpMutation(deps, func(ctx context.Context, o *pipeline.Orchestrator, id string, _ mcp.CallToolRequest) (storage.Project, error) {
			return o.Approve(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("kill_video",
			mcp.WithDescription("Delete a project and its files. Its topic becomes available again."),
			mcp.WithString("project_id", mcp.Required()),
		),
		mcpKillVideo(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"autoclips://projects/recent",
			"Recent Projects",
			mcp.WithResourceDescription("Last 10 projects with status and checkpoint"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpCreateVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}

		p, err := deps.Orchestrator.Create(ctx, topic, req.GetString("niche", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("create failed: %v", err)), nil
		}
		id := p.ID
		if voice := req.GetString("voice", ""); voice != "" {
			if p, err = deps.Orchestrator.ChangeVoice(ctx, id, voice); err != nil {
				return mcpError(fmt.Sprintf("project %s created but setting voice failed: %v", id, err)), nil
			}
		}
		if req.GetBool("auto_generate", true) {
			if p, err = deps.Orchestrator.Run(ctx, id); err != nil {
				return mcpError(fmt.Sprintf("project %s created but generation failed: %v", id, err)), nil
			}
		}
		return mcpJSON(NewProjectView(p))
	}
}

func mcpGenerateIdeas(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		count := req.GetInt("count", 5)
		if count <= 0 || count > 20 {
			count = 5
		}
		ideas, err := deps.Orchestrator.Ideas(ctx, req.GetString("niche", ""), count)
		if err != nil {
			return mcpError(fmt.Sprintf("idea generation failed: %v", err)), nil
		}
		if ideas == nil {
			ideas = []string{}
		}
		return mcpJSON(map[string]any{"ideas": ideas})
	}
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var status storage.Status
		if raw := req.GetString("status", ""); raw != "" {
			s, err := storage.ParseStatus(raw)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			status = s
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		projects, err := deps.Registry.List(ctx, status, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}
		views := make([]ProjectView, len(projects))
		for i, p := range projects {
			views[i] = NewProjectView(p)
		}
		return mcpJSON(views)
	}
}

func mcpProjectStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		p, err := deps.Registry.Get(ctx, id)
		if err != nil {
			return mcpLookupError(id, err), nil
		}
		return mcpJSON(NewProjectView(p))
	}
}

func mcpStageHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		history, err := deps.Registry.History(ctx, id)
		if err != nil {
			return mcpLookupError(id, err), nil
		}
		return mcpJSON(NewAttemptViews(history))
	}
}

func mcpGetScript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		p, err := deps.Registry.Get(ctx, id)
		if err != nil {
			return mcpLookupError(id, err), nil
		}
		if p.Artifacts.Script == "" {
			return mcpError(fmt.Sprintf("project %s has no script yet", id)), nil
		}
		b, err := deps.Artifacts.ReadFile(p.Artifacts.Script)
		if err != nil {
			return mcpError(fmt.Sprintf("reading script: %v", err)), nil
		}
		return mcpText(strings.TrimSpace(string(b))), nil
	}
}

func mcpFootageList(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		p, err := deps.Registry.Get(ctx, id)
		if err != nil {
			return mcpLookupError(id, err), nil
		}
		clips := p.Artifacts.Footage
		if clips == nil {
			clips = []storage.FootageClip{}
		}
		return mcpJSON(clips)
	}
}

type mutationFunc func(ctx context.Context, o *pipeline.Orchestrator, id string, req mcp.CallToolRequest) (storage.Project, error)

// mcpMutation wraps an orchestrator call that takes a project id and returns
// the updated project.
func mcpMutation(deps MCPDeps, fn mutationFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		p, err := fn(ctx, deps.Orchestrator, id, req)
		if err != nil {
			return mcpLookupError(id, err), nil
		}
		return mcpJSON(NewProjectView(p))
	}
}

func mcpKillVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		if err := deps.Orchestrator.Kill(ctx, id); err != nil {
			return mcpLookupError(id, err), nil
		}
		return mcpText(fmt.Sprintf("Killed project %s", id)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Registry.List(ctx, "", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		type projectSummary struct {
			ID           string `json:"id"`
			Topic        string `json:"topic"`
			Status       string `json:"status"`
			CurrentStage string `json:"current_stage"`
		}
		summaries := make([]projectSummary, len(projects))
		for i, p := range projects {
			summaries[i] = projectSummary{
				ID:           p.ID,
				Topic:        p.Topic,
				Status:       string(p.Status),
				CurrentStage: string(p.CurrentStage),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpLookupError(id string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return mcpError(fmt.Sprintf("project %s not found", id))
	case errors.Is(err, storage.ErrProjectBusy):
		return mcpError(fmt.Sprintf("project %s is busy, try again later", id))
	}
	return mcpError(err.Error())
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
