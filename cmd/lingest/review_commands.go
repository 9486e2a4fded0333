package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"lingest/internal/api"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Drive the review lifecycle",
	}

	reviewCmd.AddCommand(&cobra.Command{
		Use:   "finish <id>",
		Short: "Close review once every chunk is complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				if err := client.FinishReview(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d marked reviewed\n", id)
				return nil
			})
		},
	})

	reviewCmd.AddCommand(&cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a reviewed item for more corrections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				if err := client.Reopen(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d reopened for review\n", id)
				return nil
			})
		},
	})

	return reviewCmd
}

func newRepairCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <id> [seq...]",
		Short: "Re-translate flagged sentences",
		Long:  "Re-translate flagged sentences. With no seq arguments every flagged sentence is repaired.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			seqs, err := parseSeqs(args[1:])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				result, err := client.Repair(cmd.Context(), id, api.RepairRequest{Indices: seqs})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Repaired %d of %d sentence(s)\n", result.Repaired, result.Attempted)
				if len(result.Failures) > 0 {
					failed := make([]int, 0, len(result.Failures))
					for seq := range result.Failures {
						failed = append(failed, seq)
					}
					sort.Ints(failed)
					for _, seq := range failed {
						fmt.Fprintf(out, "Sentence %d failed: %s\n", seq, result.Failures[seq])
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a reviewed item's sentence pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				sentences, err := client.Export(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.SentenceListResponse{Sentences: sentences})
				}
				out := cmd.OutOrStdout()
				for _, sentence := range sentences {
					fmt.Fprintf(out, "%d\t%s\t%s\n", sentence.Seq, sentence.Transcript, sentence.Translation)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d sentence(s) from item %d\n", len(sentences), id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine readable output")
	return cmd
}
