package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/stackcache/internal/render"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newShowCmd(root *rootOptions) *cobra.Command {
	var (
		offline bool
		body    bool
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "show <tag>",
		Short: "Show the items of one tag partition",
		Long: `show refreshes one partition and prints its items. With --offline the
cached copy is printed without touching the network.`,
		Example: `  stackcache show go
  stackcache show "google maps" --offline --body`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			res, err := a.Controller.RefreshMode(ctx, mode, args[0], q)
			if err != nil {
				return err
			}

			reportOutcome(cmd, logger, res, fmt.Sprintf("stackcache sync %s", args[0]))

			items := limitItems(res.Items, limit)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, items)
			}
			return render.Items(out, items, render.ItemsOptions{
				Body:  body,
				Title: fmt.Sprintf("%s (%s)", res.Key, res.Outcome),
			})
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "read the cached partition only")
	cmd.Flags().BoolVar(&body, "body", false, "include a body excerpt")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many items")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw items as JSON")
	return cmd
}

// reportOutcome tells the user why a result came from the cache or holds
// nothing. hint is the command that fills the partition.
func reportOutcome(cmd *cobra.Command, logger zerolog.Logger, res syncer.Result, hint string) {
	switch {
	case res.Outcome == syncer.OutcomeNoCachedData && res.CacheErr != nil:
		fmt.Fprintf(cmd.ErrOrStderr(), "Cache could not be read for %q: %v\n", res.Key, res.CacheErr)
	case res.Outcome == syncer.OutcomeNoCachedData:
		fmt.Fprintf(cmd.ErrOrStderr(), "No cached data for %q. Run `%s` while online.\n", res.Key, hint)
	case res.Outcome == syncer.OutcomeDegraded:
		logger.Warn().Err(res.FetchErr).Str("partition", res.Key).Msg("Showing cached data, fetch failed")
	}
}

func limitItems(items []json.RawMessage, limit int) []json.RawMessage {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func writeJSON(w io.Writer, items []json.RawMessage) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
