package main

import (
	"fmt"

	"github.com/Sternrassler/stackcache/internal/render"
	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/spf13/cobra"
)

func newPartitionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "partitions",
		Aliases: []string{"ls"},
		Short:   "List cached partitions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := root.openApp(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.Store.Keys(cmd.Context())
			if err != nil {
				return err
			}
			return render.Partitions(cmd.OutOrStdout(), infos)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <tag>...",
		Short: "Delete cached partitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := root.openApp(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, arg := range args {
				key := cache.NormalizeKey(arg)
				if err := a.Store.Delete(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			}
			return nil
		},
	})
	return cmd
}
