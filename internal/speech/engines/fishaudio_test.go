package engines

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/dgnsrekt/deckcast/internal/speech"
)

func TestFishAudioSynthesize(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/tts" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		var req fishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Format != "mp3" || req.ReferenceID != "voice" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("MP3:" + req.Text))
	}))
	defer srv.Close()

	e, err := NewFishAudioEngine(FishAudioConfig{Endpoint: srv.URL, APIKey: "k", ReferenceID: "voice", RequestsPerMinute: 6000})
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out.mp3")
	if err := e.Synthesize(context.Background(), "hello", out); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "MP3:hello" {
		t.Errorf("audio = %q", data)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFishAudioHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	e, err := NewFishAudioEngine(FishAudioConfig{Endpoint: srv.URL, APIKey: "k", RequestsPerMinute: 6000})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Synthesize(context.Background(), "x", filepath.Join(t.TempDir(), "out.mp3"))
	if err == nil || !strings.Contains(err.Error(), "402") || !strings.Contains(err.Error(), "quota") {
		t.Errorf("error = %v, want HTTP 402 with body", err)
	}
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		body string
		tail bool
	}{
		{"short", "  额度不足  ", false},
		{"long cjk", strings.Repeat("额度不足", 80), true},
		{"long ascii", strings.Repeat("a", 300), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snippet([]byte(tt.body))
			if !utf8.ValidString(got) {
				t.Fatalf("snippet(%q) = %q, not valid UTF-8", tt.body, got)
			}
			if strings.HasSuffix(got, "...") != tt.tail {
				t.Errorf("snippet() = %q, want tail=%v", got, tt.tail)
			}
			if n := utf8.RuneCountInString(got); n > 200 {
				t.Errorf("snippet() is %d runes, want at most 200", n)
			}
		})
	}
}

func TestFishAudioRequiresKey(t *testing.T) {
	if _, err := NewFishAudioEngine(FishAudioConfig{}); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  int
	}{
		{"short", "one. two.", 50, 1},
		{"sentences merged up to limit", "aaaa. bbbb. cccc.", 12, 2},
		{"hard cut without punctuation", strings.Repeat("x", 25), 10, 3},
		{"cjk", strings.Repeat("你好。", 10), 9, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.text, tt.limit)
			if len(got) != tt.want {
				t.Errorf("splitText() = %q (%d chunks), want %d", got, len(got), tt.want)
			}
			if strings.Join(got, "") != tt.text {
				t.Error("chunks do not reassemble to the input")
			}
			for _, c := range got {
				if utf8.RuneCountInString(c) > tt.limit {
					t.Errorf("chunk %q exceeds %d runes", c, tt.limit)
				}
			}
		})
	}
}
