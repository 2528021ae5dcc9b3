package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/pipeline"
)

const (
	pexelsBaseURL = "https://api.pexels.com"
	// maxClipHeight caps the rendition height considered when picking a file.
	maxClipHeight = 1920
)

var _ pipeline.FootageProvider = (*Pexels)(nil)

// PexelsOptions configures search filtering.
type PexelsOptions struct {
	Orientation string
	PerPage     int
	// MinDuration drops clips shorter than this many seconds.
	MinDuration int
}

// Pexels searches and downloads stock video from the Pexels API. Footage
// keys have the form "pexels:<video id>".
type Pexels struct {
	apiKey     string
	baseURL    string
	opts       PexelsOptions
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPexels returns a Pexels client. An empty apiKey makes every search fail
// fatally.
func NewPexels(apiKey string, opts PexelsOptions) *Pexels {
	if opts.Orientation == "" {
		opts.Orientation = "portrait"
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 15
	}
	return &Pexels{
		apiKey:     apiKey,
		baseURL:    pexelsBaseURL,
		opts:       opts,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
	}
}

// SetBaseURL points the client at another API host.
func (p *Pexels) SetBaseURL(u string) {
	p.baseURL = strings.TrimRight(u, "/")
}

type pexelsSearchResponse struct {
	Videos []pexelsVideo `json:"videos"`
}

type pexelsVideo struct {
	ID         int64            `json:"id"`
	Duration   float64          `json:"duration"`
	VideoFiles []pexelsFileInfo `json:"video_files"`
}

type pexelsFileInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Link   string `json:"link"`
}

// Search queries each keyword in order and collects up to q.Limit clips that
// are long enough and not excluded.
func (p *Pexels) Search(ctx context.Context, q pipeline.FootageQuery) ([]pipeline.FootageCandidate, error) {
	if p.apiKey == "" {
		return nil, executor.Fatalf("pexels: missing API key (set PEXELS_API_KEY)")
	}

	exclude := make(map[string]bool, len(q.Exclude))
	for _, k := range q.Exclude {
		exclude[k] = true
	}

	var out []pipeline.FootageCandidate
	for _, kw := range q.Keywords {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		videos, err := p.search(ctx, kw)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
			key := PexelsKey(v.ID)
			if exclude[key] || v.Duration < float64(p.opts.MinDuration) {
				continue
			}
			file, ok := bestFile(v.VideoFiles)
			if !ok {
				continue
			}
			exclude[key] = true
			out = append(out, pipeline.FootageCandidate{
				Key:     key,
				URL:     file.Link,
				Keyword: kw,
				Seconds: v.Duration,
			})
		}
	}
	p.logger.Debug("pexels search", "keywords", q.Keywords, "found", len(out))
	return out, nil
}

func (p *Pexels) search(ctx context.Context, keyword string) ([]pexelsVideo, error) {
	params := url.Values{}
	params.Set("query", keyword)
	params.Set("orientation", p.opts.Orientation)
	params.Set("per_page", strconv.Itoa(p.opts.PerPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/videos/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating pexels request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := do(ctx, p.httpClient, "pexels", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result pexelsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, executor.Transient(fmt.Errorf("decoding pexels response: %w", err))
	}
	return result.Videos, nil
}

// Fetch downloads the clip file.
func (p *Pexels) Fetch(ctx context.Context, c pipeline.FootageCandidate) (io.ReadCloser, error) {
	if c.URL == "" {
		return nil, executor.Fatal(errors.New("pexels: candidate has no download url"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := do(ctx, p.httpClient, "pexels download", req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// PexelsKey is the footage key of a Pexels video.
func PexelsKey(id int64) string {
	return "pexels:" + strconv.FormatInt(id, 10)
}

// bestFile prefers the tallest portrait rendition up to maxClipHeight and
// falls back to any rendition when none is portrait.
func bestFile(files []pexelsFileInfo) (pexelsFileInfo, bool) {
	var candidates []pexelsFileInfo
	for _, f := range files {
		if f.Height > f.Width && f.Link != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		for _, f := range files {
			if f.Link != "" {
				candidates = append(candidates, f)
			}
		}
	}
	if len(candidates) == 0 {
		return pexelsFileInfo{}, false
	}
	return slices.MaxFunc(candidates, func(a, b pexelsFileInfo) int {
		return min(a.Height, maxClipHeight) - min(b.Height, maxClipHeight)
	}), true
}
