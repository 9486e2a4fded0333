package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lingest/internal/api"
)

func newSentencesCommand(ctx *commandContext) *cobra.Command {
	sentencesCmd := &cobra.Command{
		Use:   "sentences",
		Short: "Inspect and correct an item's sentences",
	}

	sentencesCmd.AddCommand(newSentencesListCommand(ctx))
	sentencesCmd.AddCommand(newSentencesEditCommand(ctx))
	sentencesCmd.AddCommand(newSentencesReviewedCommand(ctx))
	sentencesCmd.AddCommand(newSentencesDeleteCommand(ctx))

	return sentencesCmd
}

func newSentencesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var flaggedOnly bool

	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List an item's sentences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				sentences, err := client.Sentences(cmd.Context(), id)
				if err != nil {
					return err
				}
				if flaggedOnly {
					filtered := sentences[:0]
					for _, sentence := range sentences {
						if sentence.Issue {
							filtered = append(filtered, sentence)
						}
					}
					sentences = filtered
				}
				if jsonOut {
					return writeJSON(cmd, api.SentenceListResponse{Sentences: sentences})
				}
				if len(sentences) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sentences")
					return nil
				}
				rows := make([][]string, 0, len(sentences))
				for _, sentence := range sentences {
					marks := make([]string, 0, 2)
					if sentence.Issue {
						marks = append(marks, "issue")
					}
					if sentence.Reviewed {
						marks = append(marks, "reviewed")
					}
					rows = append(rows, []string{
						strconv.Itoa(sentence.Seq),
						formatDurationMS(sentence.StartMS),
						truncate(sentence.Transcript, 44),
						truncate(sentence.Translation, 44),
						strings.Join(marks, ","),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Seq", "Start", "Transcript", "Translation", "Marks"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine readable output")
	cmd.Flags().BoolVar(&flaggedOnly, "flagged", false, "Only show sentences flagged with issues")
	return cmd
}

func newSentencesEditCommand(ctx *commandContext) *cobra.Command {
	var transcript string
	var translation string
	var startMS int64
	var endMS int64

	cmd := &cobra.Command{
		Use:   "edit <id> <seq>",
		Short: "Correct a sentence's text or timing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, seq, err := parseItemSeq(args)
			if err != nil {
				return err
			}
			var patch api.SentencePatchRequest
			if cmd.Flags().Changed("transcript") {
				patch.Transcript = &transcript
			}
			if cmd.Flags().Changed("translation") {
				patch.Translation = &translation
			}
			if cmd.Flags().Changed("start-ms") {
				patch.StartMS = &startMS
			}
			if cmd.Flags().Changed("end-ms") {
				patch.EndMS = &endMS
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				if err := client.Correct(cmd.Context(), id, seq, patch); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sentence %d updated\n", seq)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&transcript, "transcript", "", "Replacement transcript text")
	cmd.Flags().StringVar(&translation, "translation", "", "Replacement translation text")
	cmd.Flags().Int64Var(&startMS, "start-ms", 0, "Replacement start time in milliseconds")
	cmd.Flags().Int64Var(&endMS, "end-ms", 0, "Replacement end time in milliseconds")
	return cmd
}

func newSentencesReviewedCommand(ctx *commandContext) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "reviewed <id> <seq...>",
		Short: "Mark sentences as reviewed",
		Args:  cobra.MinimumNArgs(2),
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
				out := cmd.OutOrStdout()
				for _, seq := range seqs {
					if err := client.SetReviewed(cmd.Context(), id, seq, !undo); err != nil {
						return fmt.Errorf("sentence %d: %w", seq, err)
					}
				}
				if undo {
					fmt.Fprintf(out, "Cleared review marks on %d sentence(s)\n", len(seqs))
				} else {
					fmt.Fprintf(out, "Marked %d sentence(s) reviewed\n", len(seqs))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "Clear the review mark instead of setting it")
	return cmd
}

func newSentencesDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> <seq>",
		Short: "Remove a sentence from the corpus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, seq, err := parseItemSeq(args)
			if err != nil {
				return err
			}
			return ctx.withItemAPI(cmd.Context(), func(client itemAPI) error {
				if err := client.DeleteSentence(cmd.Context(), id, seq); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sentence %d removed\n", seq)
				return nil
			})
		},
	}
}

func parseItemSeq(args []string) (int64, int, error) {
	id, err := parseItemID(args[0])
	if err != nil {
		return 0, 0, err
	}
	seq, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil || seq < 0 {
		return 0, 0, fmt.Errorf("invalid sentence seq %q", args[1])
	}
	return id, seq, nil
}

func parseSeqs(args []string) ([]int, error) {
	seqs := make([]int, 0, len(args))
	for _, arg := range args {
		seq, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || seq < 0 {
			return nil, fmt.Errorf("invalid sentence seq %q", arg)
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}
