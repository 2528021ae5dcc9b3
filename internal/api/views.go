package api

import (
	"time"

	"github.com/CMarchell/autoclips/internal/registry"
	"github.com/CMarchell/autoclips/internal/storage"
)

// ProjectView is the wire form of a project.
type ProjectView struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	Niche        string            `json:"niche"`
	Status       string            `json:"status"`
	CurrentStage string            `json:"current_stage"`
	NextStage    string            `json:"next_stage,omitempty"`
	Generation   int               `json:"generation"`
	Voice        string            `json:"voice,omitempty"`
	Music        string            `json:"music,omitempty"`
	Artifacts    storage.Artifacts `json:"artifacts"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	ApprovedAt   string            `json:"approved_at,omitempty"`
}

// AttemptView is the wire form of a stage attempt.
type AttemptView struct {
	Stage      string `json:"stage"`
	Generation int    `json:"generation"`
	Attempt    int    `json:"attempt"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// NewProjectView converts a project for JSON output.
func NewProjectView(p storage.Project) ProjectView {
	v := ProjectView{
		ID:           p.ID,
		Topic:        p.Topic,
		Niche:        p.Niche,
		Status:       string(p.Status),
		CurrentStage: string(p.CurrentStage),
		Generation:   p.Generation,
		Voice:        p.Voice,
		Music:        p.Music,
		Artifacts:    p.Artifacts,
		Error:        p.Error,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
		ApprovedAt:   formatTime(p.ApprovedAt),
	}
	if next, ok := p.CurrentStage.Next(); ok {
		v.NextStage = string(next)
	}
	return v
}

// NewAttemptViews converts stage history for JSON output.
func NewAttemptViews(as []storage.StageAttempt) []AttemptView {
	out := make([]AttemptView, len(as))
	for i, a := range as {
		out[i] = AttemptView{
			Stage:      string(a.Stage),
			Generation: a.Generation,
			Attempt:    a.Number,
			StartedAt:  formatTime(a.StartedAt),
			FinishedAt: formatTime(a.FinishedAt),
			Outcome:    string(a.Outcome),
			Detail:     a.Detail,
		}
	}
	return out
}

// ReportView is a project with its stage history.
type ReportView struct {
	Project ProjectView   `json:"project"`
	History []AttemptView `json:"history"`
}

// NewReportView converts an inspection report for JSON output.
func NewReportView(r registry.Report) ReportView {
	return ReportView{Project: NewProjectView(r.Project), History: NewAttemptViews(r.History)}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
