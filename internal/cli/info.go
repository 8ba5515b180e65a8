package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/portelect/portelect/internal/cache"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/state"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show configuration, cache and build ledger state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("%s %s\n", bold("app:"), cfg.AppName)
			fmt.Printf("%s %s\n", bold("architecture:"), cfg.Architecture)
			fmt.Printf("%s %s\n", bold("package kinds:"), strings.Join(cfg.PackageKinds, ", "))
			fmt.Printf("%s %s\n", bold("work dir:"), cfg.WorkDir)
			fmt.Printf("%s %s\n", bold("package dir:"), cfg.PackageDir)
			fmt.Printf("%s %s\n", bold("cache dir:"), cfg.CacheDir)
			fmt.Printf("%s %s\n", bold("state file:"), cfg.StateFile)

			if c, err := cache.New(cfg.CacheDir); err == nil {
				if size, err := c.Size(); err == nil {
					fmt.Printf("%s %s\n", bold("cache size:"), formatSize(size))
				}
			}

			store, err := state.NewSQLite(cfg.StateFile)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Println()
			for _, kind := range []domain.SourceKind{domain.SourceWindows, domain.SourceMacOS} {
				last, err := store.LastBuilt(kind)
				if err != nil {
					return err
				}
				if last == nil {
					fmt.Printf("%s %s: %s\n", dim("-"), bold(string(kind)), dim("never built"))
					continue
				}
				fmt.Printf("%s %s: %s %s\n", green("✓"), bold(string(kind)), last.Version,
					dim(fmt.Sprintf("(electron %s, built %s)",
						last.RuntimeVersion, last.BuiltAt.Local().Format("2006-01-02 15:04"))))
				for _, pkg := range last.Packages {
					fmt.Printf("  %s %s\n", cyan("package:"), pkg)
				}
			}
			return nil
		},
	}
}
