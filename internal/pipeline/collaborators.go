package pipeline

import (
	"context"
	"io"

	"github.com/CMarchell/autoclips/internal/niche"
)

// Collaborators return *executor.TransientError for retryable failures and
// *executor.FatalError for everything that must not be retried. Unclassified
// errors are treated as fatal.

// ScriptGenerator writes the spoken script for a topic.
type ScriptGenerator interface {
	Generate(ctx context.Context, topic string, n *niche.Config) (string, error)
}

// VoiceSynthesizer renders script text to audio. voice is a key from the
// voice catalogue or a provider voice id.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// FootageQuery describes one rung of the keyword ladder.
type FootageQuery struct {
	Keywords []string
	// Exclude holds footage keys that must not be returned.
	Exclude []string
	Limit   int
}

// FootageCandidate is one search hit.
type FootageCandidate struct {
	// Key identifies the clip across searches, e.g. "pexels:123".
	Key     string
	URL     string
	Keyword string
	Seconds float64
}

// FootageProvider searches and downloads stock clips. Search returns an
// empty slice, not an error, when nothing matches.
type FootageProvider interface {
	Search(ctx context.Context, q FootageQuery) ([]FootageCandidate, error)
	Fetch(ctx context.Context, c FootageCandidate) (io.ReadCloser, error)
}

// CaptionSpec controls burned-in captions.
type CaptionSpec struct {
	Enabled bool
	Text    string
	Hook    string
}

// AssemblyInput is everything the assembler needs to render a video.
type AssemblyInput struct {
	Audio    string
	Footage  []string
	Captions CaptionSpec
	// Music is a mood or a file locator. Empty means no music.
	Music string
}

// Assembler renders the final video into out.
type Assembler interface {
	Compose(ctx context.Context, in AssemblyInput, out string) error
}

// Metadata is the publishing metadata of a video.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Hashtags    []string `json:"hashtags,omitempty"`
}

// MetadataExporter derives publishing metadata from the script.
type MetadataExporter interface {
	Export(ctx context.Context, script string, n *niche.Config) (Metadata, error)
}

// HookWriter produces the on-screen opening line for a topic. Optional.
type HookWriter interface {
	WriteHook(ctx context.Context, topic string, n *niche.Config) (string, error)
}

// KeywordExtractor picks visual search keywords from a script. Optional;
// without it footage search starts at the niche keywords.
type KeywordExtractor interface {
	Keywords(ctx context.Context, script string, n *niche.Config, count int) ([]string, error)
}

// IdeaGenerator suggests new topics. Optional; used only by Ideas.
type IdeaGenerator interface {
	Ideas(ctx context.Context, n *niche.Config, count int, exclude []string) ([]string, error)
}

// Collaborators groups the stage implementations.
type Collaborators struct {
	Script   ScriptGenerator
	Voice    VoiceSynthesizer
	Footage  FootageProvider
	Assemble Assembler
	Metadata MetadataExporter

	Hook     HookWriter
	Keywords KeywordExtractor
	Ideas    IdeaGenerator
}
