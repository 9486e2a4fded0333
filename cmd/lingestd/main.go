package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"lingest/internal/api"
	"lingest/internal/config"
	"lingest/internal/daemon"
	"lingest/internal/issues"
	"lingest/internal/logging"
	"lingest/internal/queue"
	"lingest/internal/review"
	"lingest/internal/services/speech"
	"lingest/internal/transcribe"
	"lingest/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.NewStore(ctx, cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	client := speech.NewClient(cfg.Speech)
	stage := transcribe.NewStage(cfg, store, client, logger)
	manager := workflow.NewManager(cfg, store, stage, logger)
	reviews := review.NewService(store, logger)
	tracker := issues.NewTracker(store, client, cfg.Languages.Source, cfg.Languages.Target, logger)
	items := api.NewItemService(store, reviews, tracker)

	d, err := daemon.New(cfg, store, manager, items, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("lingestd shutting down")
	d.Stop()
}
