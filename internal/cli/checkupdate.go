package cli

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/state"
)

func newCheckUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-update",
		Short: "Check whether newer vendor versions are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := state.NewSQLite(cfg.StateFile)
			if err != nil {
				return err
			}
			defer store.Close()

			kinds := []domain.SourceKind{domain.SourceWindows, domain.SourceMacOS}
			lines := make([]string, len(kinds))
			var mu sync.Mutex

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(cfg.MaxParallel)

			for i, kind := range kinds {
				i, kind := i, kind
				g.Go(func() error {
					handler, _, err := newHandler(cfg, kind, false)
					if err != nil {
						return err
					}

					stop := withSpinner(ctx, fmt.Sprintf("Checking %s...", kind))
					latest, _, err := handler.ResolveLatest(ctx)
					stop()

					mu.Lock()
					defer mu.Unlock()

					if err != nil {
						lines[i] = fmt.Sprintf("%s %s: %v", red("✗"), bold(string(kind)), err)
						return nil
					}

					last, err := store.LastBuilt(kind)
					if err != nil {
						return err
					}

					switch {
					case last == nil:
						lines[i] = fmt.Sprintf("%s %s: %s available %s",
							yellow("!"), bold(string(kind)), latest, dim("(never built)"))
					case latest.Compare(last.Version) > 0:
						lines[i] = fmt.Sprintf("%s %s: %s available %s",
							yellow("!"), bold(string(kind)), latest,
							dim(fmt.Sprintf("(built %s)", last.Version)))
					default:
						lines[i] = fmt.Sprintf("%s %s: up to date %s",
							green("✓"), bold(string(kind)), dim(fmt.Sprintf("(%s)", latest)))
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
}
