package niche

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetReadsNicheFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "finance.yaml", `
display_name: Personal Finance
voice:
  voice_key: adam
music:
  mood: upbeat
footage:
  boost_keywords: [money, savings]
  fallback_keywords: [office, calculator]
metadata:
  title_style: direct
  hashtag_count: 5
  default_hashtags: ["#money"]
`)

	l := NewLoader(dir)
	c, err := l.Get("finance")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Name != "finance" || c.DisplayName != "Personal Finance" {
		t.Errorf("name/display = %q/%q", c.Name, c.DisplayName)
	}
	if c.Voice.VoiceKey != "adam" || c.Music.Mood != "upbeat" {
		t.Errorf("voice/music = %q/%q", c.Voice.VoiceKey, c.Music.Mood)
	}
	if c.Metadata.HashtagCount != 5 || c.Metadata.TitleStyle != "direct" {
		t.Errorf("metadata = %+v", c.Metadata)
	}
	// Unset fields keep their built-in defaults.
	if c.Prompts.Style != "conversational" {
		t.Errorf("Prompts.Style = %q, want built-in default", c.Prompts.Style)
	}
}

func TestGetFallsBackToDefaultFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "_default.yaml", "display_name: Everything\n")

	c, err := NewLoader(dir).Get("cooking")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.DisplayName != "Everything" {
		t.Errorf("DisplayName = %q, want Everything", c.DisplayName)
	}
	if c.Name != "cooking" {
		t.Errorf("Name = %q, want cooking", c.Name)
	}
}

func TestGetBuiltinWithoutFiles(t *testing.T) {
	c, err := NewLoader("").Get("anything")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Metadata.HashtagCount != 8 {
		t.Errorf("HashtagCount = %d, want 8", c.Metadata.HashtagCount)
	}
}

func TestGetMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "footage: [unterminated\n")

	if _, err := NewLoader(dir).Get("broken"); err == nil {
		t.Error("expected parse error")
	}
}

func TestGetCachesResult(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tech.yaml", "display_name: Tech\n")

	l := NewLoader(dir)
	first, err := l.Get("tech")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	os.Remove(filepath.Join(dir, "tech.yaml"))
	second, err := l.Get("tech")
	if err != nil {
		t.Fatalf("cached Get: %v", err)
	}
	if first != second {
		t.Error("second Get did not come from the cache")
	}
}

func TestKeywordLadder(t *testing.T) {
	c := Builtin()
	c.Footage.BoostKeywords = []string{"Money", "yoga"}
	c.Footage.FallbackKeywords = []string{"office"}

	got := c.KeywordLadder([]string{"yoga", " "})
	want := [][]string{
		{"yoga"},
		{"money"},
		{"office"},
		GenericKeywords,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KeywordLadder = %v, want %v", got, want)
	}
}

func TestNamesAndVoices(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "_default.yaml", "display_name: x\n")
	writeFile(t, dir, "finance.yaml", "display_name: y\n")
	writeFile(t, dir, "voices.yaml", `
voices:
  adam: {voice_id: pNInz6obpgDQGcFmaJgB, name: Adam}
defaults:
  generic: adam
`)

	l := NewLoader(dir)
	names, err := l.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"finance"}) {
		t.Errorf("Names = %v", names)
	}

	v, err := l.LoadVoices()
	if err != nil {
		t.Fatalf("LoadVoices: %v", err)
	}
	if got := v.Resolve("adam"); got != "pNInz6obpgDQGcFmaJgB" {
		t.Errorf("Resolve(adam) = %q", got)
	}
	if got := v.Resolve(""); got != "pNInz6obpgDQGcFmaJgB" {
		t.Errorf("Resolve(default) = %q", got)
	}
	if got := v.Resolve("rawVoiceID"); got != "rawVoiceID" {
		t.Errorf("Resolve(raw) = %q", got)
	}
}
