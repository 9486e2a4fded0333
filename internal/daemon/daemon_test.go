package daemon

import (
	"context"
	"testing"

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

func buildDaemon(t *testing.T, cfg *config.Config, store *queue.Store) *Daemon {
	t.Helper()

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
	return d
}

func TestSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first := buildDaemon(t, cfg, store)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}

	// A second daemon sharing the data directory must refuse to start.
	secondCfg := *cfg
	secondCfg.Paths.APIBind = "127.0.0.1:0"
	second := buildDaemon(t, &secondCfg, store)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock while the first was running")
	}

	first.Stop()

	// Once the first releases the lock the second can take over.
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("start after release: %v", err)
	}
	second.Stop()
}

func TestStartStopIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d := buildDaemon(t, cfg, store)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.Running() {
		t.Fatal("daemon should be running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second start on a running daemon should fail")
	}
	d.Stop()
	if d.Running() {
		t.Fatal("daemon still running after stop")
	}
	d.Stop()
}
