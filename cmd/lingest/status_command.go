package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"lingest/internal/api"
	"lingest/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, daemonUp, err := gatherStatus(ctx, cmd)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if daemonUp {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, "Running", colorize))
				kind := statusOK
				detail := "Ready"
				if !status.Stage.Ready {
					kind = statusError
					detail = status.Stage.Detail
				}
				fmt.Fprintln(stdout, renderStatusLine("Speech service", kind, detail, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running (reading queue directly)", colorize))
			}
			if status.Stuck > 0 {
				fmt.Fprintln(stdout, renderStatusLine("Stuck items", statusWarn, fmt.Sprintf("%d", status.Stuck), colorize))
			}
			if status.Failed > 0 {
				fmt.Fprintln(stdout, renderStatusLine("Failed items", statusError, fmt.Sprintf("%d", status.Failed), colorize))
			}
			if status.NeedsRepair > 0 {
				fmt.Fprintln(stdout, renderStatusLine("Needs repair", statusWarn, fmt.Sprintf("%d", status.NeedsRepair), colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Queue", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildQueueStatusRows(status.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine readable output")
	return cmd
}

func gatherStatus(ctx *commandContext, cmd *cobra.Command) (api.Status, bool, error) {
	client, err := ctx.dialClient(cmd.Context())
	if err == nil {
		status, err := client.Status(cmd.Context())
		return status, true, err
	}
	if !isUnreachable(err) {
		return api.Status{}, false, err
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return api.Status{}, false, err
	}
	store, err := queue.NewStore(cmd.Context(), cfg)
	if err != nil {
		return api.Status{}, false, fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()

	health, err := store.Health(cmd.Context())
	if err != nil {
		return api.Status{}, false, err
	}
	return api.Status{
		QueueStats: map[string]int{
			string(queue.StatusPending):     health.Pending,
			string(queue.StatusProcessing):  health.Processing,
			string(queue.StatusTranscribed): health.Transcribed,
			string(queue.StatusReviewed):    health.Reviewed,
			string(queue.StatusExported):    health.Exported,
		},
		NeedsRepair: health.NeedsRepair,
		Failed:      health.Failed,
	}, false, nil
}

func buildQueueStatusRows(stats map[string]int) [][]string {
	ordered := make([]string, 0, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		ordered = append(ordered, string(status))
	}
	rows := make([][]string, 0, len(stats))
	total := 0
	for _, name := range ordered {
		count := stats[name]
		total += count
		if count == 0 {
			continue
		}
		rows = append(rows, []string{name, fmt.Sprintf("%d", count)})
	}
	// Anything outside the known lifecycle still gets a row.
	extras := make([]string, 0)
	for name, count := range stats {
		if count == 0 {
			continue
		}
		known := false
		for _, existing := range ordered {
			if name == existing {
				known = true
				break
			}
		}
		if !known {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		total += stats[name]
		rows = append(rows, []string{name, fmt.Sprintf("%d", stats[name])})
	}
	if total == 0 {
		return nil
	}
	rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})
	return rows
}
