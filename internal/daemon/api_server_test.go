package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"lingest/internal/api"
	"lingest/internal/config"
	"lingest/internal/issues"
	"lingest/internal/queue"
	"lingest/internal/review"
	"lingest/internal/services/speech"
	"lingest/internal/testsupport"
	"lingest/internal/transcribe"
	"lingest/internal/workflow"
)

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *config.Config, string) {
	t.Helper()

	speechServer := testsupport.NewSpeechServer(t, []testsupport.Utterance{
		{At: 10 * time.Second, Transcript: "buenos dias", Translation: "good morning"},
		{At: 40 * time.Second, Transcript: "hasta luego", Translation: "see you later"},
	})
	opts = append([]testsupport.ConfigOption{testsupport.WithSpeechURL(speechServer.URL)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)

	store := testsupport.MustOpenStore(t, cfg)
	client := speech.NewClient(cfg.Speech)
	stage := transcribe.NewStage(cfg, store, client, nil)
	manager := workflow.NewManager(cfg, store, stage, nil)
	reviews := review.NewService(store, nil)
	tracker := issues.NewTracker(store, client, cfg.Languages.Source, cfg.Languages.Target, nil)
	items := api.NewItemService(store, reviews, tracker)

	d, err := New(cfg, store, manager, items, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("api address not bound")
	}
	return d, cfg, "http://" + addr
}

func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestAPIItemLifecycle(t *testing.T) {
	_, _, base := startDaemon(t)

	// Enqueue a one-minute item; a single window covers it.
	resp, body := doJSON(t, http.MethodPost, base+"/api/items", api.AddItemRequest{
		Title:           "lesson one",
		AudioURI:        "file:///media/lesson1.wav",
		DurationSeconds: 60,
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item: %d %s", resp.StatusCode, body)
	}
	var created api.Item
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode item: %v", err)
	}

	itemURL := fmt.Sprintf("%s/api/items/%d", base, created.ID)

	// The workers pick it up and transcribe it.
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, body = doJSON(t, http.MethodGet, itemURL, nil, "")
		var loaded api.Item
		if err := json.Unmarshal(body, &loaded); err != nil {
			t.Fatalf("decode item: %v", err)
		}
		if loaded.Status == string(queue.StatusTranscribed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("item stuck in %s (failure %q)", loaded.Status, loaded.FailureMessage)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, body = doJSON(t, http.MethodGet, itemURL+"/sentences", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sentences: %d %s", resp.StatusCode, body)
	}
	var sentences api.SentenceListResponse
	if err := json.Unmarshal(body, &sentences); err != nil {
		t.Fatalf("decode sentences: %v", err)
	}
	if len(sentences.Sentences) != 2 {
		t.Fatalf("got %d sentences, want 2", len(sentences.Sentences))
	}

	// Correct one translation, then review everything.
	fixed := "good morning!"
	resp, body = doJSON(t, http.MethodPatch, itemURL+"/sentences/0",
		api.SentencePatchRequest{Translation: &fixed}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch sentence: %d %s", resp.StatusCode, body)
	}
	for seq := 0; seq < 2; seq++ {
		resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/sentences/%d/reviewed", itemURL, seq), nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("mark reviewed: %d %s", resp.StatusCode, body)
		}
	}

	resp, body = doJSON(t, http.MethodPost, itemURL+"/reviewed", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish review: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, itemURL+"/export", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", resp.StatusCode, body)
	}
	var exported api.SentenceListResponse
	if err := json.Unmarshal(body, &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if exported.Sentences[0].Translation != "good morning!" {
		t.Fatalf("correction lost in export: %q", exported.Sentences[0].Translation)
	}

	// Export again is an illegal transition.
	resp, _ = doJSON(t, http.MethodPost, itemURL+"/export", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double export returned %d, want 409", resp.StatusCode)
	}
}

func TestAPIStatusEndpoint(t *testing.T) {
	_, _, base := startDaemon(t)

	resp, body := doJSON(t, http.MethodGet, base+"/api/status", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	var status api.Status
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon should report running")
	}
	if !status.Stage.Ready {
		t.Fatalf("stage not ready: %+v", status.Stage)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	_, _, base := startDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "secret"
	})

	resp, _ := doJSON(t, http.MethodGet, base+"/api/status", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request returned %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/status", nil, "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token returned %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/status", nil, "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated request returned %d, want 200", resp.StatusCode)
	}
}

func TestAPIUnknownItem(t *testing.T) {
	_, _, base := startDaemon(t)

	resp, _ := doJSON(t, http.MethodGet, base+"/api/items/9999", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown item returned %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/items/abc", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id returned %d, want 400", resp.StatusCode)
	}
}
