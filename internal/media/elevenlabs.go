package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/pipeline"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

var _ pipeline.VoiceSynthesizer = (*ElevenLabs)(nil)

// VoiceSettings are the ElevenLabs synthesis parameters.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings returns balanced narration settings.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, UseSpeakerBoost: true}
}

// ElevenLabs synthesizes speech with the ElevenLabs text-to-speech API.
// Voice keys are resolved through the voice catalogue.
type ElevenLabs struct {
	apiKey     string
	modelID    string
	baseURL    string
	voices     *niche.Voices
	settings   VoiceSettings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewElevenLabs returns a synthesizer. voices may be nil, in which case voice
// keys are sent as provider voice ids.
func NewElevenLabs(apiKey, modelID string, voices *niche.Voices) *ElevenLabs {
	if voices == nil {
		voices = &niche.Voices{}
	}
	return &ElevenLabs{
		apiKey:     apiKey,
		modelID:    modelID,
		baseURL:    elevenLabsBaseURL,
		voices:     voices,
		settings:   DefaultVoiceSettings(),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
	}
}

// SetBaseURL points the client at another API host.
func (e *ElevenLabs) SetBaseURL(u string) {
	e.baseURL = strings.TrimRight(u, "/")
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Synthesize returns the MPEG audio stream for text spoken by voice.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	if e.apiKey == "" {
		return nil, executor.Fatalf("elevenlabs: missing API key (set ELEVENLABS_API_KEY)")
	}
	voiceID := e.voices.Resolve(voice)
	if voiceID == "" {
		return nil, executor.Fatalf("elevenlabs: no voice configured")
	}

	body, err := json.Marshal(ttsRequest{Text: text, ModelID: e.modelID, VoiceSettings: e.settings})
	if err != nil {
		return nil, err
	}
	endpoint := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := do(ctx, e.httpClient, "elevenlabs", req)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("voiceover started", "voice", voice, "voice_id", voiceID, "chars", len(text))
	return resp.Body, nil
}
