package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lingest/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the ingestion queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueChunksCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				items, err := client.List(cmd.Context(), strings.TrimSpace(statusFilter))
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.ItemListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					flags := make([]string, 0, 2)
					if item.NeedsRepair {
						flags = append(flags, "repair")
					}
					if item.FailureMessage != "" {
						flags = append(flags, "failed")
					}
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						truncate(item.Title, 40),
						formatDurationMS(item.DurationMS),
						item.Status,
						strings.Join(flags, ","),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Duration", "Status", "Flags"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show items with this status")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine readable output")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue item in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				item, err := client.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, item)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Item #%d: %s\n", item.ID, item.Title)
				fmt.Fprintf(out, "  Audio:        %s\n", item.AudioURI)
				fmt.Fprintf(out, "  Duration:     %s\n", formatDurationMS(item.DurationMS))
				fmt.Fprintf(out, "  Status:       %s\n", item.Status)
				fmt.Fprintf(out, "  Needs repair: %s\n", yesNo(item.NeedsRepair))
				if item.FailureMessage != "" {
					fmt.Fprintf(out, "  Failure:      [%s] %s (terminal: %s)\n",
						item.FailureKind, item.FailureMessage, yesNo(item.FailureTerminal))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine readable output")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id...>",
		Short: "Clear failures and re-queue items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					if err := client.RetryFailed(cmd.Context(), id); err != nil {
						fmt.Fprintf(out, "Item %d not retried: %v\n", id, err)
						continue
					}
					fmt.Fprintf(out, "Item %d reset for retry\n", id)
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove exported items from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				removed, err := client.Clear(cmd.Context(), strings.TrimSpace(statusFilter))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Clear items with this status instead of exported")
	return cmd
}

func newQueueChunksCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "chunks <id>",
		Short: "Show an item's review chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				chunks, err := client.Chunks(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.ChunkListResponse{Chunks: chunks})
				}
				if len(chunks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No review chunks yet")
					return nil
				}
				rows := make([][]string, 0, len(chunks))
				for _, chunk := range chunks {
					rows = append(rows, []string{
						strconv.Itoa(chunk.Index),
						fmt.Sprintf("%d-%d", chunk.StartSeq, chunk.EndSeq-1),
						yesNo(chunk.Complete),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Chunk", "Sentences", "Complete"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine readable output")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var durationSeconds int64

	cmd := &cobra.Command{
		Use:   "add <title> <audio-uri>",
		Short: "Queue an audio recording for transcription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			audioURI := strings.TrimSpace(args[1])
			if durationSeconds <= 0 {
				return fmt.Errorf("--duration must be a positive number of seconds")
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				item, err := client.Add(cmd.Context(), api.AddItemRequest{
					Title:           title,
					AudioURI:        audioURI,
					DurationSeconds: durationSeconds,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued item #%d (%s)\n", item.ID, item.Title)
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&durationSeconds, "duration", "d", 0, "Recording length in seconds")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseItemID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatDurationMS(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
