package niche

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Voice maps a short voice key to a TTS provider voice.
type Voice struct {
	VoiceID string `yaml:"voice_id"`
	Name    string `yaml:"name"`
}

// Voices is the voices.yaml catalogue that lives next to the niche files.
type Voices struct {
	Voices   map[string]Voice `yaml:"voices"`
	Defaults struct {
		Generic string `yaml:"generic"`
	} `yaml:"defaults"`
}

// Resolve returns the provider voice id for key. Unknown keys are assumed
// to already be provider ids.
func (v *Voices) Resolve(key string) string {
	if key == "" {
		key = v.Defaults.Generic
	}
	if voice, ok := v.Voices[key]; ok && voice.VoiceID != "" {
		return voice.VoiceID
	}
	return key
}

// LoadVoices reads voices.yaml from the loader directory. A missing file
// yields an empty catalogue.
func (l *Loader) LoadVoices() (*Voices, error) {
	v := &Voices{Voices: map[string]Voice{}}
	if l.dir == "" {
		return v, nil
	}
	data, err := os.ReadFile(filepath.Join(l.dir, "voices.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parsing voices.yaml: %w", err)
	}
	return v, nil
}
