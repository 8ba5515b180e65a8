package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/portelect/portelect/internal/cache"
)

func newCleanCmd() *cobra.Command {
	var clearCache bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build scratch space and emitted packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			for _, dir := range []string{cfg.WorkDir, cfg.PackageDir} {
				if err := os.RemoveAll(dir); err != nil {
					return fmt.Errorf("failed to remove %s: %w", dir, err)
				}
			}
			fmt.Printf("%s Build directories removed\n", green("✓"))

			if !clearCache {
				return nil
			}

			c, err := cache.New(cfg.CacheDir)
			if err != nil {
				return err
			}
			size, _ := c.Size()
			if err := c.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Printf("%s Cache cleared (%s freed)\n", green("✓"), formatSize(size))
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearCache, "cache", false, "Also clear the installer cache")
	return cmd
}
