package main

import (
	"fmt"
	"strconv"

	"github.com/Sternrassler/stackcache/internal/render"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/spf13/cobra"
)

func newAnswersCmd(root *rootOptions) *cobra.Command {
	var (
		offline bool
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "answers <question-id>",
		Short: "Show the answers of one question",
		Long: `answers refreshes the answers of a question into their own partition
(answers_<id>) and prints them. With --offline the cached copy is printed
without touching the network.`,
		Example: `  stackcache answers 11227809
  stackcache answers 11227809 --offline --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("question id must be a positive integer, got %q", args[0])
			}

			ctx := cmd.Context()
			a, logger, err := root.openApp(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			mode := a.Controller.Mode()
			if offline {
				mode = syncer.ModeOffline
			}
			q, err := a.Query()
			if err != nil {
				return err
			}

			res, err := a.Controller.RefreshAnswers(ctx, mode, id, q)
			if err != nil {
				return err
			}
			reportOutcome(cmd, logger, res, fmt.Sprintf("stackcache answers %d", id))

			items := limitItems(res.Items, limit)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, items)
			}
			return render.Answers(out, items, render.ItemsOptions{
				Title: fmt.Sprintf("%s (%s)", res.Key, res.Outcome),
			})
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "read the cached answers only")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw answers as JSON")
	return cmd
}
