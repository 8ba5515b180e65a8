// Package cli wires the subcommands and the shared component stack.
package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portelect/portelect/internal/cache"
	"github.com/portelect/portelect/internal/config"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/fetcher"
	"github.com/portelect/portelect/internal/logging"
	"github.com/portelect/portelect/internal/source"
)

var (
	configPath string
	verbosity  int
	debug      bool
)

func Execute() error {
	rootCmd := &cobra.Command{
		Use:          "portelect",
		Short:        "Repackage vendor desktop installers as native Linux packages",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug && verbosity < 2 {
				verbosity = 2
			}
			logging.Setup(verbosity)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Shorthand for -vv")

	rootCmd.AddCommand(
		newBuildCmd(),
		newInfoCmd(),
		newDownloadCmd(),
		newCheckUpdateCmd(),
		newCleanCmd(),
		newVersionCmd(),
	)
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newHandler builds the source handler for kind together with the
// cache it shares with the rest of the pipeline.
func newHandler(cfg *config.Config, kind domain.SourceKind, progress bool) (domain.SourceHandler, *cache.DiskCache, error) {
	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		return nil, nil, err
	}

	var opts []fetcher.Option
	if progress {
		opts = append(opts, fetcher.WithProgress())
	}
	f := fetcher.New(cfg.FetchRetries, cfg.Timeouts.Download.Std(), log.Logger, opts...)

	h, err := source.New(kind, cfg, c, f, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	return h, c, nil
}
