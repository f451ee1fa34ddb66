package main

import (
	"fmt"

	"github.com/Sternrassler/stackcache/internal/render"
	"github.com/Sternrassler/stackcache/pkg/config"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/spf13/cobra"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	var (
		pageSize   int
		site       string
		noFallback bool
	)

	cmd := &cobra.Command{
		Use:   "sync <tag>...",
		Short: "Fetch tag partitions and replace their cached copies",
		Long: `sync fetches every page of each tag and replaces the cached partition.
Tags are refreshed concurrently; requests stay throttled.

A failed fetch leaves the cached partition untouched.`,
		Example: `  stackcache sync go rust
  stackcache sync "google maps" --pagesize 100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := root.openApp(ctx, cmd, func(cfg *config.Config) {
				cfg.Sync.Mode = string(syncer.ModeOnline)
				if noFallback {
					cfg.Sync.Fallback = false
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []request.Option
			if pageSize > 0 {
				opts = append(opts, request.WithPageSize(pageSize))
			}
			if site != "" {
				opts = append(opts, request.WithSite(site))
			}
			q, err := a.Query(opts...)
			if err != nil {
				return err
			}

			results, errs := a.Controller.RefreshEach(ctx, args, q)
			if err := render.SyncResults(cmd.OutOrStdout(), results, errs); err != nil {
				return err
			}

			failed := 0
			for _, err := range errs {
				if err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d partitions failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&pageSize, "pagesize", 0, "items per page (default: sync.page_size)")
	cmd.Flags().StringVar(&site, "site", "", "site to query (default: api.site)")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "fail instead of serving cached data when a fetch fails")
	return cmd
}
