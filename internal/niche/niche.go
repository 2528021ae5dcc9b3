// Package niche loads per-niche style configuration from YAML files.
package niche

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// DefaultName is the file consulted when a niche has no file of its own.
const DefaultName = "_default"

// GenericKeywords is the last rung of the footage keyword ladder.
var GenericKeywords = []string{"abstract", "nature", "city", "technology", "people"}

// Config is one niche file.
type Config struct {
	Name        string `yaml:"-"`
	DisplayName string `yaml:"display_name"`

	Voice struct {
		VoiceKey string `yaml:"voice_key"`
	} `yaml:"voice"`

	Music struct {
		Mood string `yaml:"mood"`
	} `yaml:"music"`

	Prompts struct {
		System       string `yaml:"system"`
		ScriptPrompt string `yaml:"script_prompt"`
		Style        string `yaml:"style"`
	} `yaml:"prompts"`

	Footage struct {
		BoostKeywords    []string `yaml:"boost_keywords"`
		FallbackKeywords []string `yaml:"fallback_keywords"`
	} `yaml:"footage"`

	Metadata struct {
		TitleStyle      string   `yaml:"title_style"`
		HashtagCount    int      `yaml:"hashtag_count"`
		DefaultHashtags []string `yaml:"default_hashtags"`
	} `yaml:"metadata"`
}

// Builtin returns the configuration used when no niche files exist.
func Builtin() *Config {
	c := &Config{Name: DefaultName, DisplayName: "general content"}
	c.Prompts.Style = "conversational"
	c.Metadata.TitleStyle = "curiosity"
	c.Metadata.HashtagCount = 8
	return c
}

// KeywordLadder returns the footage search rungs in order, starting with
// keywords taken from the script. Empty rungs and repeated keywords are
// dropped.
func (c *Config) KeywordLadder(scriptKeywords []string) [][]string {
	seen := map[string]bool{}
	var ladder [][]string
	for _, rung := range [][]string{scriptKeywords, c.Footage.BoostKeywords, c.Footage.FallbackKeywords, GenericKeywords} {
		var kept []string
		for _, kw := range rung {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			kept = append(kept, kw)
		}
		if len(kept) > 0 {
			ladder = append(ladder, kept)
		}
	}
	return ladder
}

// Loader reads niche files from a directory and caches parsed results.
type Loader struct {
	dir    string
	cache  *lru.Cache[string, *Config]
	logger *slog.Logger
}

// NewLoader creates a Loader over dir. An empty dir serves only the
// built-in default.
func NewLoader(dir string) *Loader {
	cache, _ := lru.New[string, *Config](64)
	return &Loader{dir: dir, cache: cache, logger: slog.Default()}
}

// Get returns the configuration of name, falling back to _default.yaml and
// then to Builtin. A file that exists but does not parse is an error.
func (l *Loader) Get(name string) (*Config, error) {
	if name == "" {
		name = DefaultName
	}
	if c, ok := l.cache.Get(name); ok {
		return c, nil
	}

	c, err := l.read(name)
	if errors.Is(err, os.ErrNotExist) && name != DefaultName {
		l.logger.Debug("niche file not found, using default", "niche", name)
		c, err = l.Get(DefaultName)
		if err == nil {
			// Keep the requested name so callers can tell niches apart.
			cp := *c
			cp.Name = name
			c = &cp
		}
	} else if errors.Is(err, os.ErrNotExist) {
		c, err = Builtin(), nil
	}
	if err != nil {
		return nil, err
	}

	l.cache.Add(name, c)
	return c, nil
}

// Names lists the niches that have a file in the directory.
func (l *Loader) Names() ([]string, error) {
	if l.dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, m := range matches {
		n := strings.TrimSuffix(filepath.Base(m), ".yaml")
		if n != DefaultName && n != "voices" {
			names = append(names, n)
		}
	}
	return names, nil
}

func (l *Loader) read(name string) (*Config, error) {
	if l.dir == "" {
		return nil, os.ErrNotExist
	}
	if strings.ContainsAny(name, `/\.`) {
		return nil, fmt.Errorf("invalid niche name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(l.dir, name+".yaml"))
	if err != nil {
		return nil, err
	}

	c := Builtin()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing niche %s: %w", name, err)
	}
	c.Name = name
	if c.DisplayName == "" {
		c.DisplayName = name
	}
	return c, nil
}
