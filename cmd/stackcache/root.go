package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/stackcache/internal/app"
	"github.com/Sternrassler/stackcache/pkg/config"
	"github.com/Sternrassler/stackcache/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "stackcache",
		Short: "Offline cache for Stack Exchange style APIs",
		Long: `stackcache fetches paginated, rate-limited API results per tag and keeps
them in a local cache, so the same partitions can be read back offline.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./stackcache.yaml or $XDG_CONFIG_HOME/stackcache/stackcache.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		newSyncCmd(opts),
		newShowCmd(opts),
		newAnswersCmd(opts),
		newPartitionsCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// loadConfig reads the layered configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.pretty {
		cfg.Log.Pretty = true
	}
	return cfg, nil
}

// logger builds the process logger writing to the command's stderr.
func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logging.Setup(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
}

// openApp loads the configuration and builds the application stack.
// mutate may adjust the configuration before it is validated.
func (o *rootOptions) openApp(ctx context.Context, cmd *cobra.Command, mutate func(*config.Config)) (*app.App, zerolog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if mutate != nil {
		mutate(cfg)
	}
	logger := o.logger(cmd, cfg)

	a, err := app.New(ctx, *cfg, logger)
	if err != nil {
		return nil, logger, err
	}
	return a, logger, nil
}
