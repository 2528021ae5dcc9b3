package pipeline

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/storage"
)

const maxSlugRunes = 30

// newProjectID returns <date>_<topic slug>_<8 hex chars>.
func newProjectID(now time.Time, topic string) string {
	slug := []rune(slugify(topic))
	if len(slug) > maxSlugRunes {
		slug = slug[:maxSlugRunes]
	}
	s := strings.Trim(string(slug), "-")
	if s == "" {
		s = "video"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("2006-01-02") + "_" + s + "_" + suffix
}

// slugify keeps letters, digits and underscores and joins words with dashes.
func slugify(text string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-':
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// stateFile is the project.json written next to the artifacts for tools
// that inspect project directories without the database.
type stateFile struct {
	ID           string             `json:"id"`
	Topic        string             `json:"topic"`
	Niche        string             `json:"niche,omitempty"`
	Status       storage.Status     `json:"status"`
	CurrentStage storage.Checkpoint `json:"current_stage"`
	Generation   int                `json:"generation"`
	Voice        string             `json:"voice,omitempty"`
	Music        string             `json:"music,omitempty"`
	Artifacts    storage.Artifacts  `json:"artifacts"`
	Error        string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ApprovedAt   *time.Time         `json:"approved_at,omitempty"`
}

func (o *Orchestrator) snapshot(p storage.Project) {
	st := stateFile{
		ID:           p.ID,
		Topic:        p.Topic,
		Niche:        p.Niche,
		Status:       p.Status,
		CurrentStage: p.CurrentStage,
		Generation:   p.Generation,
		Voice:        p.Voice,
		Music:        p.Music,
		Artifacts:    p.Artifacts,
		Error:        p.Error,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if !p.ApprovedAt.IsZero() {
		st.ApprovedAt = &p.ApprovedAt
	}
	if _, err := o.artifacts.WriteJSON(p.ID, artifact.StateFile, st); err != nil {
		o.logger.Warn("writing project state file", "project_id", p.ID, "error", err)
	}
}
