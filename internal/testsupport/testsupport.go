// Package testsupport provides shared fixtures for package tests: temp
// configs, open stores, and a canned speech service.
package testsupport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"lingest/internal/config"
	"lingest/internal/queue"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Languages.Source = "es"
	cfg.Languages.Target = "en"
	cfg.Speech.BaseURL = "http://127.0.0.1:0"
	cfg.Speech.APIKey = "test"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithSpeechURL points the config at a test speech server.
func WithSpeechURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Speech.BaseURL = url
	}
}

// MustOpenStore opens a store under the config's data directory and closes
// it when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.NewStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Utterance is one spoken sentence the fake speech service knows about.
type Utterance struct {
	At          time.Duration
	Transcript  string
	Translation string
}

// NewSpeechServer starts an httptest server that answers transcription
// requests from a fixed utterance list and translation requests with a
// canned suffix. Slice requests return the utterances inside their bounds
// with slice-relative times.
func NewSpeechServer(t testing.TB, utterances []Utterance) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcribe", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StartMS int64 `json:"start_ms"`
			EndMS   int64 `json:"end_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		start := time.Duration(req.StartMS) * time.Millisecond
		end := time.Duration(req.EndMS) * time.Millisecond

		type segment struct {
			StartMS     int64  `json:"start_ms"`
			EndMS       int64  `json:"end_ms"`
			Transcript  string `json:"transcript"`
			Translation string `json:"translation"`
		}
		payload := struct {
			Segments []segment `json:"segments"`
		}{Segments: []segment{}}
		for _, u := range utterances {
			if u.At >= start && u.At < end {
				rel := u.At - start
				payload.Segments = append(payload.Segments, segment{
					StartMS:     rel.Milliseconds(),
					EndMS:       (rel + 2*time.Second).Milliseconds(),
					Transcript:  u.Transcript,
					Translation: u.Translation,
				})
			}
		}
		_ = json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("POST /v1/translate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transcript string `json:"transcript"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"translation": "repaired: " + req.Transcript,
		})
	})
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}
