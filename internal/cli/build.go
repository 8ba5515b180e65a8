package cli

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/portelect/portelect/internal/assembler"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/native"
	"github.com/portelect/portelect/internal/pipeline"
	"github.com/portelect/portelect/internal/state"
)

func newBuildCmd() *cobra.Command {
	var (
		sourceName       string
		kindNames        []string
		force            bool
		noDownload       bool
		forceDownload    bool
		workDir          string
		outputDir        string
		patchPlatformDet bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build Linux packages from the latest vendor installer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workDir != "" {
				cfg.WorkDir = workDir
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}

			kind, err := domain.ParseSourceKind(sourceName)
			if err != nil {
				return err
			}

			var kinds []domain.PackageKind
			for _, name := range kindNames {
				k, err := domain.ParsePackageKind(name)
				if err != nil {
					return err
				}
				kinds = append(kinds, k)
			}

			handler, c, err := newHandler(cfg, kind, true)
			if err != nil {
				return err
			}

			store, err := state.NewSQLite(cfg.StateFile)
			if err != nil {
				return err
			}
			defer store.Close()

			binder := native.NewBuilder(cfg.Binding.ProjectDir, cfg.WorkDir, cfg.Timeouts.Npm.Std(), log.Logger)
			asm := assembler.New(cfg.AppName, cfg.DisplayName, cfg.Description,
				cfg.WorkDir, cfg.PackageDir, cfg.Timeouts.Npm.Std(), cfg.Timeouts.Package.Std(), log.Logger)

			p := pipeline.New(cfg, handler, c, binder, asm, store, log.Logger)

			res, err := p.Run(cmd.Context(), pipeline.Options{
				Force:                  force,
				NoDownload:             noDownload,
				ForceDownload:          forceDownload,
				PatchPlatformDetection: patchPlatformDet,
				Kinds:                  kinds,
			})
			if err != nil {
				var se *domain.StageError
				if errors.As(err, &se) {
					fmt.Printf("%s build failed at stage %s\n", red("✗"), bold(se.Stage))
				}
				return err
			}

			if res.Skipped {
				fmt.Printf("%s %s %s already built, use --force to rebuild\n",
					yellow("!"), bold(cfg.AppName), bold(res.Version.String()))
				return nil
			}

			fmt.Printf("%s %s%s%s %s\n", green("✓"), bold(cfg.AppName), bold("-"),
				bold(res.Version.String()), dim(fmt.Sprintf("(electron %s)", res.RuntimeVersion)))
			for _, pkg := range res.Packages {
				fmt.Printf("  %s %s\n", cyan("package:"), pkg)
			}
			for _, warning := range res.Warnings {
				fmt.Printf("  %s %s\n", yellow("warning:"), warning)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceName, "source", "windows", "Installer source (windows, macos)")
	cmd.Flags().StringSliceVar(&kindNames, "kinds", nil, "Package kinds to build (deb, rpm, tar.zst, tar.xz)")
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even when this version was already built")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Use only the cached installer, never touch the network")
	cmd.Flags().BoolVar(&forceDownload, "force-download", false, "Discard the cached installer and download again")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Scratch directory for intermediate build state")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Staged install root directory")
	cmd.Flags().BoolVar(&patchPlatformDet, "patch-platform-detection", false, "Rewrite the bundle's platform check to accept linux")
	return cmd
}
