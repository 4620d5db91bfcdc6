package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/muesli/reflow/truncate"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/deckcast/internal/speech"
)

const (
	// DefaultFishAudioEndpoint is the public API base URL.
	DefaultFishAudioEndpoint = "https://api.fish.audio"

	// fishChunkRunes is the longest text sent in one request.
	fishChunkRunes = 500
)

// FishAudioConfig holds API settings.
type FishAudioConfig struct {
	Endpoint string
	APIKey   string
	// ReferenceID selects the voice model.
	ReferenceID string

	RequestsPerMinute int
	Client            *http.Client
}

// FishAudioEngine synthesizes MP3 through the Fish Audio REST API. Long text
// is split on sentence boundaries and the MP3 streams are joined.
type FishAudioEngine struct {
	cfg     FishAudioConfig
	client  *http.Client
	limiter *rate.Limiter
}

type fishRequest struct {
	Text        string `json:"text"`
	ReferenceID string `json:"reference_id,omitempty"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
}

// NewFishAudioEngine validates the key and applies defaults.
func NewFishAudioEngine(cfg FishAudioConfig) (*FishAudioEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fishaudio: api key is required: %w", speech.ErrUnavailable)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultFishAudioEndpoint
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &FishAudioEngine{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 2),
	}, nil
}

// Synthesize implements speech.Backend.
func (e *FishAudioEngine) Synthesize(ctx context.Context, text, outputPath string) error {
	var audio []byte
	for _, chunk := range splitText(text, fishChunkRunes) {
		data, err := e.request(ctx, chunk)
		if err != nil {
			return err
		}
		audio = append(audio, data...)
	}
	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return fmt.Errorf("fishaudio: write audio: %w", err)
	}
	return nil
}

func (e *FishAudioEngine) request(ctx context.Context, text string) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fishaudio: rate limit wait: %w", err)
	}

	body, err := json.Marshal(fishRequest{
		Text:        text,
		ReferenceID: e.cfg.ReferenceID,
		Format:      "mp3",
		SampleRate:  44100,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(e.cfg.Endpoint, "/")+"/v1/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fishaudio: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fishaudio: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fishaudio: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fishaudio: HTTP %d: %s", resp.StatusCode, snippet(data))
	}
	return data, nil
}

// Validate implements speech.Validator.
func (e *FishAudioEngine) Validate(context.Context) error { return nil }

// splitText cuts text into pieces of at most limit runes, preferring
// sentence ends.
func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur []rune
	for _, r := range text {
		cur = append(cur, r)
		if isSentenceEnd(r) || len(cur) >= limit {
			chunks = appendChunk(chunks, string(cur), limit)
			cur = cur[:0]
		}
	}
	if len(cur) > 0 {
		chunks = appendChunk(chunks, string(cur), limit)
	}
	return chunks
}

// appendChunk merges s into the last chunk while it still fits.
func appendChunk(chunks []string, s string, limit int) []string {
	if n := len(chunks); n > 0 && utf8.RuneCountInString(chunks[n-1])+utf8.RuneCountInString(s) <= limit {
		chunks[n-1] += s
		return chunks
	}
	return append(chunks, s)
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', ';':
		return true
	}
	return false
}

// snippet shortens an error body without splitting a rune.
func snippet(b []byte) string {
	return truncate.StringWithTail(strings.TrimSpace(string(b)), 200, "...")
}

var _ speech.Backend = (*FishAudioEngine)(nil)
