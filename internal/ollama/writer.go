package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/pipeline"
)

// wordsPerSecond is the assumed speaking pace used to size scripts.
const wordsPerSecond = 2.5

const defaultSystemPrompt = `You are a skilled short-form video scriptwriter. Your scripts are:
- Engaging and hook-driven (start with something attention-grabbing)
- Conversational and natural (written for speaking, not reading)
- Concise and punchy (30-70 seconds when read aloud)
- Actionable or thought-provoking (give value or spark curiosity)

Structure your scripts with:
1. A hook (first 3 seconds must grab attention)
2. The main content (2-4 key points maximum)
3. A call-to-action or memorable closing

Do NOT include stage directions, speaker labels, timestamps, section headers,
emojis or platform-specific calls to action.

Write ONLY the spoken words, nothing else.`

const defaultScriptPrompt = `Write a short-form video script about: {topic}

The script should be {duration_target} seconds when read at a natural pace
(approximately {word_count} words). Use a {style} style.

Make it engaging, valuable, and memorable.`

var (
	_ pipeline.ScriptGenerator  = (*Writer)(nil)
	_ pipeline.HookWriter       = (*Writer)(nil)
	_ pipeline.KeywordExtractor = (*Writer)(nil)
	_ pipeline.MetadataExporter = (*Writer)(nil)
	_ pipeline.IdeaGenerator    = (*Writer)(nil)
)

// Chatter is a chat model backend. *Client satisfies it; so does the
// OpenAI-compatible client used for hosted models.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema, temperature float64) (string, error)
}

// Writer produces every text artifact of a video with a chat model.
type Writer struct {
	client        Chatter
	model         string
	targetSeconds int
	logger        *slog.Logger
}

// NewWriter returns a Writer that sizes scripts for a 50 second read.
func NewWriter(c Chatter, model string) *Writer {
	return &Writer{
		client:        c,
		model:         model,
		targetSeconds: 50,
		logger:        slog.Default(),
	}
}

// SetTargetSeconds changes the spoken length scripts are written for.
func (w *Writer) SetTargetSeconds(s int) {
	if s > 0 {
		w.targetSeconds = s
	}
}

// Generate writes the spoken script for topic using the niche prompts.
func (w *Writer) Generate(ctx context.Context, topic string, n *niche.Config) (string, error) {
	n = orBuiltin(n)

	system := n.Prompts.System
	if system == "" {
		system = defaultSystemPrompt
	}
	tmpl := n.Prompts.ScriptPrompt
	if tmpl == "" {
		tmpl = defaultScriptPrompt
	}
	style := n.Prompts.Style
	if style == "" {
		style = "conversational"
	}
	prompt := strings.NewReplacer(
		"{topic}", topic,
		"{duration_target}", strconv.Itoa(w.targetSeconds),
		"{word_count}", strconv.Itoa(int(float64(w.targetSeconds)*wordsPerSecond)),
		"{style}", style,
	).Replace(tmpl)

	out, err := w.client.Chat(ctx, w.model, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, nil, 0.8)
	if err != nil {
		return "", err
	}

	script := CleanScript(out)
	if script == "" {
		return "", executor.Transient(errors.New("model returned an empty script"))
	}
	w.logger.Debug("script generated", "topic", topic, "words", len(strings.Fields(script)))
	return script, nil
}

// WriteHook writes the on-screen opening line for topic.
func (w *Writer) WriteHook(ctx context.Context, topic string, n *niche.Config) (string, error) {
	n = orBuiltin(n)
	prompt := fmt.Sprintf(`Write one attention-grabbing opening line for a short-form %s video about: %s

It must be under 12 words and make viewers want to keep watching.
Return ONLY the line, no quotes or labels.`, n.DisplayName, topic)

	out, err := w.client.Chat(ctx, w.model, []Message{{Role: "user", Content: prompt}}, nil, 0.9)
	if err != nil {
		return "", err
	}
	hook := CleanScript(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	return hook, nil
}

var keywordSchema = &Schema{
	Type: "object",
	Properties: map[string]SchemaProperty{
		"keywords": {Type: "array", Items: &SchemaProperty{Type: "string"}},
	},
	Required: []string{"keywords"},
}

// Keywords extracts visual stock-footage search terms from script. When the
// model answer cannot be parsed the longest distinct words of the script are
// used instead.
func (w *Writer) Keywords(ctx context.Context, script string, n *niche.Config, count int) ([]string, error) {
	n = orBuiltin(n)
	want := count + 2

	var boost string
	if len(n.Footage.BoostKeywords) > 0 {
		boost = "\nPrefer these types of visuals when relevant: " + strings.Join(n.Footage.BoostKeywords, ", ")
	}
	prompt := fmt.Sprintf(`Extract %d visual keywords from this script for searching stock footage.

Script:
---
%s
---

Requirements:
- Keywords should describe concrete, filmable scenes or objects
- Each keyword should be 1-3 words that would return good stock footage
- Vary the keywords to create visual variety
- Avoid abstract concepts that don't film well
%s
Respond with JSON: {"keywords": ["keyword1", "keyword2"]}`, want, script, boost)

	out, err := w.client.Chat(ctx, w.model, []Message{{Role: "user", Content: prompt}}, keywordSchema, 0.7)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Keywords []string `json:"keywords"`
	}
	if err := decodeJSON(out, &parsed); err != nil || len(parsed.Keywords) == 0 {
		w.logger.Warn("keyword extraction unparseable, using script words", "error", err)
		return scriptWords(script, count), nil
	}
	return truncate(compact(parsed.Keywords), want), nil
}

var metadataSchema = &Schema{
	Type: "object",
	Properties: map[string]SchemaProperty{
		"title":       {Type: "string"},
		"description": {Type: "string"},
		"hashtags":    {Type: "array", Items: &SchemaProperty{Type: "string"}},
		"tags":        {Type: "array", Items: &SchemaProperty{Type: "string"}},
	},
	Required: []string{"title", "description", "hashtags", "tags"},
}

// Export derives publishing metadata from script. The niche default
// hashtags are always appended. An unparseable answer yields metadata built
// from the opening sentence.
func (w *Writer) Export(ctx context.Context, script string, n *niche.Config) (pipeline.Metadata, error) {
	n = orBuiltin(n)
	titleStyle := n.Metadata.TitleStyle
	if titleStyle == "" {
		titleStyle = "curiosity"
	}
	hashtagCount := n.Metadata.HashtagCount
	if hashtagCount <= 0 {
		hashtagCount = 8
	}

	prompt := fmt.Sprintf(`Generate metadata for a short-form video.

Script:
---
%s
---

Generate:
1. A compelling title (max 100 characters) that uses a %s style
   - curiosity: creates intrigue, makes people want to know more
   - direct: clear, tells exactly what they'll learn
   - question: poses a question the video answers
2. A description (2-3 sentences) that summarizes the value, includes relevant
   keywords and has a soft call to action
3. %d relevant hashtags (mix of popular and niche)
4. 5-8 SEO tags

Respond with JSON: {"title": "...", "description": "...", "hashtags": ["#tag"], "tags": ["tag"]}`,
		script, titleStyle, hashtagCount)

	out, err := w.client.Chat(ctx, w.model, []Message{{Role: "user", Content: prompt}}, metadataSchema, 0.7)
	if err != nil {
		return pipeline.Metadata{}, err
	}

	var md pipeline.Metadata
	if err := decodeJSON(out, &md); err != nil || strings.TrimSpace(md.Title) == "" {
		w.logger.Warn("metadata unparseable, using fallback", "error", err)
		title := firstSentence(script)
		md = pipeline.Metadata{
			Title:       title,
			Description: "Learn about " + strings.TrimRight(title, ".!?") + " in this quick video!",
			Hashtags:    n.Metadata.DefaultHashtags,
		}
		if len(md.Hashtags) == 0 {
			md.Hashtags = []string{"#shorts", "#viral"}
		}
	}

	md.Title = clip(strings.TrimSpace(md.Title), 100)
	md.Description = strings.TrimSpace(md.Description)
	md.Tags = compact(md.Tags)
	md.Hashtags = mergeHashtags(md.Hashtags, n.Metadata.DefaultHashtags)
	return md, nil
}

var ideaSchema = &Schema{
	Type: "object",
	Properties: map[string]SchemaProperty{
		"topics": {Type: "array", Items: &SchemaProperty{Type: "string"}},
	},
	Required: []string{"topics"},
}

// Ideas suggests count topics for the niche, steering away from exclude.
func (w *Writer) Ideas(ctx context.Context, n *niche.Config, count int, exclude []string) ([]string, error) {
	n = orBuiltin(n)

	var avoid string
	if len(exclude) > 0 {
		lines := make([]string, 0, len(exclude))
		for _, t := range truncate(exclude, 20) {
			lines = append(lines, "- "+t)
		}
		avoid = "\nAvoid these recently used topics:\n" + strings.Join(lines, "\n") + "\n"
	}
	prompt := fmt.Sprintf(`Generate %d unique, engaging video topic ideas for %s content.

Each topic should:
1. Be specific enough to create a 30-70 second video
2. Have a natural hook that grabs attention in the first 3 seconds
3. Provide clear value to viewers
4. Be different from generic, overused topics
%s
Respond with JSON: {"topics": ["topic one", "topic two"]}`, count, n.DisplayName, avoid)

	out, err := w.client.Chat(ctx, w.model, []Message{{Role: "user", Content: prompt}}, ideaSchema, 0.9)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Topics []string `json:"topics"`
	}
	if err := decodeJSON(out, &parsed); err != nil {
		return nil, executor.Transient(fmt.Errorf("parsing ideas: %w", err))
	}
	return truncate(compact(parsed.Topics), count), nil
}

var (
	bracketed   = regexp.MustCompile(`\[.*?\]`)
	parenthesis = regexp.MustCompile(`\(.*?\)`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	spaces      = regexp.MustCompile(`  +`)
)

// CleanScript strips code fences, wrapping quotes and stage directions from
// model output.
func CleanScript(s string) string {
	s = stripFences(strings.TrimSpace(s))
	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = s[1 : len(s)-1]
		}
	}
	s = bracketed.ReplaceAllString(s, "")
	s = parenthesis.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func stripFences(s string) string {
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		} else {
			s = s[3:]
		}
	}
	if strings.HasSuffix(s, "```") {
		s = s[:strings.LastIndex(s, "```")]
	}
	return strings.TrimSpace(s)
}

func decodeJSON(s string, v any) error {
	return json.Unmarshal([]byte(stripFences(strings.TrimSpace(s))), v)
}

// firstSentence returns the opening sentence of s, or its first ten words.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i > 10 {
		return strings.TrimSpace(s[:i+1])
	}
	words := strings.Fields(s)
	return strings.Join(truncate(words, 10), " ")
}

func scriptWords(script string, count int) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.Fields(strings.ToLower(script)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) <= 4 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return truncate(out, count)
}

func mergeHashtags(tags, defaults []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range append(append([]string{}, tags...), defaults...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(in []string, n int) []string {
	if n >= 0 && len(in) > n {
		return in[:n]
	}
	return in
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orBuiltin(n *niche.Config) *niche.Config {
	if n == nil {
		return niche.Builtin()
	}
	return n
}
