// Package assembler stages the patched application into the canonical
// Linux install root and drives the packaging backends. The staged
// tree is read-only once built: every requested package kind reads
// from it and none mutates it, so one patched tree can emit several
// package files in a single invocation.
package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
	"github.com/portelect/portelect/internal/fsutil"
)

type Assembler struct {
	appName     string
	displayName string
	description string
	workDir     string
	packageDir  string
	npmTimeout  time.Duration
	pkgTimeout  time.Duration
	runner      func(context.Context, execx.Cmd) ([]byte, error)
	log         zerolog.Logger
}

func New(appName, displayName, description, workDir, packageDir string, npmTimeout, pkgTimeout time.Duration, log zerolog.Logger) *Assembler {
	return &Assembler{
		appName:     appName,
		displayName: displayName,
		description: description,
		workDir:     workDir,
		packageDir:  packageDir,
		npmTimeout:  npmTimeout,
		pkgTimeout:  pkgTimeout,
		runner:      execx.Run,
		log:         log,
	}
}

// StageInput is everything staging consumes, all of it produced by
// earlier stages.
type StageInput struct {
	AppAsar        string
	AppDir         string
	UnpackedDir    string
	IconsDir       string
	RuntimeVersion domain.Version
	// ExtraNpmDeps carries source-specific runtime modules (the
	// macos source needs a Linux node-pty).
	ExtraNpmDeps map[string]string
	OutputDir    string
}

// Stage lays out the install root: launcher, desktop entry, packaged
// app, icons and the pinned Electron distribution. Returns the staged
// root directory.
func (a *Assembler) Stage(ctx context.Context, in StageInput) (string, error) {
	root := in.OutputDir
	if err := os.RemoveAll(root); err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", err
	}

	if err := a.writeResources(root); err != nil {
		return "", err
	}

	libDir := filepath.Join(root, "lib", a.appName)
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return "", err
	}
	if err := fsutil.CopyFile(in.AppAsar, filepath.Join(libDir, "app.asar"), 0644); err != nil {
		return "", err
	}

	if in.UnpackedDir != "" {
		if err := fsutil.CopyDir(in.UnpackedDir, filepath.Join(libDir, "app.asar.unpacked")); err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(in.IconsDir); err == nil {
		if err := fsutil.CopyDir(in.IconsDir, filepath.Join(root, "share", "icons")); err != nil {
			return "", err
		}
	}

	if err := a.installRuntime(ctx, libDir, in); err != nil {
		return "", err
	}

	return root, nil
}

func (a *Assembler) writeResources(root string) error {
	data := map[string]string{
		"AppName":     a.appName,
		"DisplayName": a.displayName,
		"Description": a.description,
		"Scheme":      strings.SplitN(a.appName, "-", 2)[0],
	}

	var launcher bytes.Buffer
	if err := launcherTmpl.Execute(&launcher, data); err != nil {
		return err
	}
	binDir := filepath.Join(root, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(binDir, a.appName), launcher.Bytes(), 0755); err != nil {
		return err
	}

	var desktop bytes.Buffer
	if err := desktopTmpl.Execute(&desktop, data); err != nil {
		return err
	}
	appsDir := filepath.Join(root, "share", "applications")
	if err := os.MkdirAll(appsDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(appsDir, a.appName+".desktop"), desktop.Bytes(), 0644)
}

// installRuntime installs the Electron distribution pinned to the
// detected runtime version into the staged lib directory, then
// relocates the i18n catalogs where a packaged Electron looks for
// them (process.resourcesPath).
func (a *Assembler) installRuntime(ctx context.Context, libDir string, in StageInput) error {
	deps := map[string]string{
		"electron": in.RuntimeVersion.String(),
	}
	for name, version := range in.ExtraNpmDeps {
		deps[name] = version
	}

	manifest, err := json.MarshalIndent(map[string]any{
		"name":         a.appName + "-runtime",
		"version":      "1.0.0",
		"private":      true,
		"dependencies": deps,
	}, "", "  ")
	if err != nil {
		return err
	}

	tmpDir := filepath.Join(a.workDir, "runtime-install")
	if err := os.RemoveAll(tmpDir); err != nil {
		return err
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "package.json"), manifest, 0644); err != nil {
		return err
	}

	a.log.Info().Stringer("electron", in.RuntimeVersion).Msg("installing runtime distribution")

	out, err := a.runner(ctx, execx.Cmd{
		Name:    "npm",
		Args:    []string{"install", "--production"},
		Dir:     tmpDir,
		Timeout: a.npmTimeout,
	})
	if err != nil {
		return domain.NewStageError("assemble", domain.ErrPackaging, string(out), err)
	}

	nodeModules := filepath.Join(libDir, "node_modules")
	if err := fsutil.CopyDir(filepath.Join(tmpDir, "node_modules"), nodeModules); err != nil {
		return err
	}

	// i18n catalogs were placed in the app by the patcher; Electron
	// also resolves them via its own resources directory when
	// running packaged.
	electronResources := filepath.Join(nodeModules, "electron", "dist", "resources")
	catalogs, _ := filepath.Glob(filepath.Join(in.AppDir, "resources", "i18n", "*.json"))
	for _, catalog := range catalogs {
		if err := fsutil.CopyFile(catalog, filepath.Join(electronResources, filepath.Base(catalog)), 0644); err != nil {
			return err
		}
	}

	return nil
}

// Package renders the manifest for spec and invokes its backend over
// the staged root, returning the emitted package file path.
func (a *Assembler) Package(ctx context.Context, stagedRoot string, spec domain.PackageSpec) (string, error) {
	if err := os.MkdirAll(a.packageDir, 0755); err != nil {
		return "", err
	}

	a.log.Info().Str("kind", string(spec.Kind)).Msg("building package")

	switch spec.Kind {
	case domain.KindDeb:
		return a.buildDeb(ctx, stagedRoot, spec)
	case domain.KindRPM:
		return a.buildRPM(ctx, stagedRoot, spec)
	case domain.KindTarZst, domain.KindTarXz:
		return a.buildTarball(stagedRoot, spec)
	default:
		return "", fmt.Errorf("no backend for package kind %q", spec.Kind)
	}
}

func packagingError(out []byte, err error) error {
	return domain.NewStageError("assemble", domain.ErrPackaging, string(out), err)
}
