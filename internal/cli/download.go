package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/fsutil"
)

func newDownloadCmd() *cobra.Command {
	var (
		sourceName string
		force      bool
		output     string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the latest vendor installer into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			kind, err := domain.ParseSourceKind(sourceName)
			if err != nil {
				return err
			}

			handler, c, err := newHandler(cfg, kind, true)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			stop := withSpinner(ctx, fmt.Sprintf("Resolving latest %s version...", kind))
			version, url, err := handler.ResolveLatest(ctx)
			stop()
			if err != nil {
				return err
			}

			if force {
				if err := c.Invalidate(kind, version); err != nil {
					return err
				}
			}

			art, err := handler.Fetch(ctx, version, url)
			if err != nil {
				return err
			}

			if output != "" {
				dest := output
				if filepath.Ext(dest) == "" {
					dest = filepath.Join(dest, filepath.Base(art.URL))
				}
				if err := fsutil.CopyFile(art.Path, dest, 0644); err != nil {
					return err
				}
				art.Path = dest
			}

			fmt.Printf("%s %s %s\n  %s %s\n  %s %s\n",
				green("✓"), bold(string(kind)), bold(version.String()),
				cyan("path:"), art.Path,
				cyan("sha256:"), dim(art.SHA256))
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceName, "source", "windows", "Installer source (windows, macos)")
	cmd.Flags().BoolVar(&force, "force", false, "Discard any cached installer first")
	cmd.Flags().StringVar(&output, "output", "", "Also copy the installer to this path")
	return cmd
}
