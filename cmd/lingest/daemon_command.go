package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lingest/internal/api"
	"lingest/internal/daemon"
	"lingest/internal/issues"
	"lingest/internal/logging"
	"lingest/internal/queue"
	"lingest/internal/review"
	"lingest/internal/services/speech"
	"lingest/internal/transcribe"
	"lingest/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the ingestion daemon",
	}

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd, ctx)
		},
	})

	return daemonCmd
}

func runDaemonProcess(cmd *cobra.Command, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.NewStore(signalCtx, cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	client := speech.NewClient(cfg.Speech)
	stage := transcribe.NewStage(cfg, store, client, logger)
	manager := workflow.NewManager(cfg, store, stage, logger)
	reviews := review.NewService(store, logger)
	tracker := issues.NewTracker(store, client, cfg.Languages.Source, cfg.Languages.Target, logger)
	items := api.NewItemService(store, reviews, tracker)

	d, err := daemon.New(cfg, store, manager, items, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Daemon listening on %s\n", d.APIAddr())

	<-signalCtx.Done()
	d.Stop()
	return nil
}
