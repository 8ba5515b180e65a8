// Package pipeline sequences a build: resolve, fetch, extract, detect,
// binding, patch, assemble, record. Stage completion is tracked in an
// explicit set rather than inferred from files on disk, so a stage that
// died halfway through reruns in full on the next invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/portelect/portelect/internal/assembler"
	"github.com/portelect/portelect/internal/config"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/patcher"
	"github.com/portelect/portelect/internal/source"
)

// Options are the per-invocation knobs, all explicit. Nothing here is
// read from the environment.
type Options struct {
	Force         bool
	NoDownload    bool
	ForceDownload bool
	// PatchPlatformDetection enables the gated rewrites that trick the
	// app into treating Linux as a supported platform.
	PatchPlatformDetection bool
	Kinds                  []domain.PackageKind
}

// BuildContext accumulates everything the stages produce. It is the
// only state shared between stages.
type BuildContext struct {
	Source         domain.SourceKind
	WorkDir        string
	OutputDir      string
	PackageDir     string
	Version        domain.Version
	RuntimeVersion domain.Version
	URL            string
	Artifact       domain.Artifact
	Tree           domain.ExtractedTree
	BindingPath    string
	AppAsar        string
	AppDir         string
	UnpackedDir    string
	IconsDir       string
	StagedRoot     string
	Packages       []string
	Warnings       []string

	done map[string]bool
}

// Result is what a build reports back to the CLI.
type Result struct {
	Version        domain.Version
	RuntimeVersion domain.Version
	Packages       []string
	Warnings       []string
	// Skipped is set when the requested version was already built and
	// every requested package file still exists.
	Skipped bool
}

type Pipeline struct {
	cfg     *config.Config
	handler domain.SourceHandler
	cache   domain.Cache
	binder  domain.BindingBuilder
	asm     *assembler.Assembler
	store   domain.StateStore
	log     zerolog.Logger
}

func New(cfg *config.Config, handler domain.SourceHandler, cache domain.Cache, binder domain.BindingBuilder, asm *assembler.Assembler, store domain.StateStore, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		handler: handler,
		cache:   cache,
		binder:  binder,
		asm:     asm,
		store:   store,
		log:     log,
	}
}

// Run executes the full stage sequence for opts. Any returned error is
// a StageError naming the failing stage.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Result, error) {
	if len(opts.Kinds) == 0 {
		for _, k := range p.cfg.PackageKinds {
			kind, err := domain.ParsePackageKind(k)
			if err != nil {
				return Result{}, err
			}
			opts.Kinds = append(opts.Kinds, kind)
		}
	}

	bc := &BuildContext{
		Source:     p.handler.Kind(),
		WorkDir:    p.cfg.WorkDir,
		OutputDir:  p.cfg.OutputDir,
		PackageDir: p.cfg.PackageDir,
		done:       make(map[string]bool),
	}

	if err := p.runStage(ctx, bc, "resolve", func(ctx context.Context) error {
		return p.resolve(ctx, bc, opts)
	}); err != nil {
		return Result{}, err
	}

	if !opts.Force {
		skip, err := p.alreadyBuilt(bc, opts.Kinds)
		if err != nil {
			return Result{}, err
		}
		if skip {
			p.log.Info().Stringer("version", bc.Version).Msg("version already built, nothing to do")
			return Result{Version: bc.Version, Packages: p.packagePaths(bc, opts.Kinds), Skipped: true}, nil
		}
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"fetch", func(ctx context.Context) error { return p.fetch(ctx, bc, opts) }},
		{"extract", func(ctx context.Context) error { return p.extract(ctx, bc) }},
		{"detect", func(ctx context.Context) error { return p.detect(ctx, bc) }},
		{"binding", func(ctx context.Context) error { return p.binding(ctx, bc) }},
		{"patch", func(ctx context.Context) error { return p.patch(ctx, bc, opts) }},
		{"assemble", func(ctx context.Context) error { return p.assemble(ctx, bc, opts) }},
		{"record", func(_ context.Context) error { return p.record(bc) }},
	}

	for _, stage := range stages {
		if err := p.runStage(ctx, bc, stage.name, stage.fn); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Version:        bc.Version,
		RuntimeVersion: bc.RuntimeVersion,
		Packages:       bc.Packages,
		Warnings:       bc.Warnings,
	}, nil
}

// runStage runs fn once, marking completion only on success. Untyped
// errors are wrapped into a StageError carrying the stage name.
func (p *Pipeline) runStage(ctx context.Context, bc *BuildContext, name string, fn func(context.Context) error) error {
	if bc.done[name] {
		return nil
	}

	p.log.Info().Str("stage", name).Msg("running stage")
	start := time.Now()

	if err := fn(ctx); err != nil {
		var se *domain.StageError
		if !errors.As(err, &se) {
			err = domain.NewStageError(name, nil, "", err)
		}
		return err
	}

	p.log.Debug().Str("stage", name).Dur("took", time.Since(start)).Msg("stage complete")
	bc.done[name] = true
	return nil
}

// resolve determines the version to build. With NoDownload the last
// successful resolution is reused instead of touching the network.
func (p *Pipeline) resolve(ctx context.Context, bc *BuildContext, opts Options) error {
	if opts.NoDownload {
		v := source.CachedVersion(p.cfg.CacheDir, bc.Source)
		if v.IsZero() {
			return fmt.Errorf("--no-download requires a previously resolved version for %s", bc.Source)
		}
		bc.Version = v
		return nil
	}

	v, url, err := p.handler.ResolveLatest(ctx)
	if err != nil {
		return err
	}
	bc.Version = v
	bc.URL = url
	return nil
}

// alreadyBuilt reports whether the resolved version is in the ledger
// and every requested package file still exists on disk.
func (p *Pipeline) alreadyBuilt(bc *BuildContext, kinds []domain.PackageKind) (bool, error) {
	last, err := p.store.LastBuilt(bc.Source)
	if err != nil {
		return false, err
	}
	if last == nil || !last.Version.Equal(bc.Version) {
		return false, nil
	}

	for _, path := range p.packagePaths(bc, kinds) {
		if _, err := os.Stat(path); err != nil {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) packagePaths(bc *BuildContext, kinds []domain.PackageKind) []string {
	paths := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		spec := p.packageSpec(bc, kind)
		paths = append(paths, filepath.Join(bc.PackageDir, spec.FileName()))
	}
	return paths
}

func (p *Pipeline) fetch(ctx context.Context, bc *BuildContext, opts Options) error {
	if opts.ForceDownload {
		if err := p.cache.Invalidate(bc.Source, bc.Version); err != nil {
			return err
		}
	}

	if opts.NoDownload {
		art, ok := p.cache.Get(bc.Source, bc.Version)
		if !ok {
			return domain.NewStageError("fetch", nil, "",
				fmt.Errorf("--no-download set but no cached installer for %s %s", bc.Source, bc.Version))
		}
		bc.Artifact = art
		return nil
	}

	art, err := p.handler.Fetch(ctx, bc.Version, bc.URL)
	if err != nil {
		return err
	}
	bc.Artifact = art
	return nil
}

// extract always starts from a clean directory. A half-extracted tree
// from an interrupted run must never be mistaken for a complete one.
func (p *Pipeline) extract(ctx context.Context, bc *BuildContext) error {
	extractDir := filepath.Join(bc.WorkDir, "extract")
	if err := os.RemoveAll(extractDir); err != nil {
		return err
	}
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return err
	}

	tree, err := p.handler.Extract(ctx, bc.Artifact, extractDir)
	if err != nil {
		return err
	}
	bc.Tree = tree
	return nil
}

// detect reads versions out of the extracted tree. The resolved version
// stays authoritative; a detected app version only cross-checks it.
func (p *Pipeline) detect(ctx context.Context, bc *BuildContext) error {
	app, runtime, err := p.handler.DetectVersions(ctx, bc.Tree)
	if err != nil {
		return err
	}

	if !app.IsZero() && !app.Equal(bc.Version) {
		bc.Warnings = append(bc.Warnings, fmt.Sprintf(
			"bundle reports version %s but the resolved version is %s", app, bc.Version))
	}

	if runtime.IsZero() {
		return domain.NewStageError("detect", domain.ErrMetadataMissing, "",
			fmt.Errorf("runtime version not detectable from bundle"))
	}
	bc.RuntimeVersion = runtime
	return nil
}

func (p *Pipeline) binding(ctx context.Context, bc *BuildContext) error {
	path, err := p.binder.Build(ctx, bc.RuntimeVersion)
	if err != nil {
		return err
	}
	bc.BindingPath = path
	return nil
}

func (p *Pipeline) patch(ctx context.Context, bc *BuildContext, opts Options) error {
	pat := patcher.New(p.rules(bc.Source, opts), p.cfg.Timeouts.Asar.Std(), p.log)

	rep := &patcher.Report{}
	res, err := pat.Apply(ctx, bc.Tree, bc.BindingPath, bc.WorkDir, rep)
	if err != nil {
		return err
	}

	bc.AppAsar = res.AppAsar
	bc.AppDir = res.AppDir
	bc.UnpackedDir = res.UnpackedDir
	bc.IconsDir = res.IconsDir
	bc.Warnings = append(bc.Warnings, rep.Warnings...)
	return nil
}

// rules assembles the ordered rule list for a source. Binding swap
// first, then the stub and asset moves, rewrites, icons last.
func (p *Pipeline) rules(kind domain.SourceKind, opts Options) []patcher.Rule {
	rules := []patcher.Rule{
		patcher.NewBindingRule(p.cfg.Binding),
	}

	if kind == domain.SourceMacOS && p.cfg.Binding.SwiftSlot != "" {
		rules = append(rules, patcher.NewSwiftStubRule(p.cfg.Binding.SwiftSlot))
	}

	rules = append(rules, patcher.NewAssetsRule())

	for _, rw := range p.cfg.Patch.Rewrites {
		if rw.Gated && !opts.PatchPlatformDetection {
			continue
		}
		rules = append(rules, patcher.NewRewriteRule(rw))
	}

	rules = append(rules, patcher.NewIconsRule(
		kind, p.cfg.Patch.IconSizes, p.cfg.AppName, p.cfg.MaxParallel, p.cfg.Timeouts.Icon.Std()))

	return rules
}

func (p *Pipeline) assemble(ctx context.Context, bc *BuildContext, opts Options) error {
	in := assembler.StageInput{
		AppAsar:        bc.AppAsar,
		AppDir:         bc.AppDir,
		UnpackedDir:    bc.UnpackedDir,
		IconsDir:       bc.IconsDir,
		RuntimeVersion: bc.RuntimeVersion,
		OutputDir:      bc.OutputDir,
	}
	if bc.Source == domain.SourceMacOS {
		// The dmg ships a darwin-prebuilt node-pty the stub rule
		// removed; a Linux build comes in with the runtime.
		in.ExtraNpmDeps = map[string]string{"node-pty": "^1.0.0"}
	}

	root, err := p.asm.Stage(ctx, in)
	if err != nil {
		return err
	}
	bc.StagedRoot = root

	for _, kind := range opts.Kinds {
		path, err := p.asm.Package(ctx, root, p.packageSpec(bc, kind))
		if err != nil {
			return err
		}
		p.log.Info().Str("package", path).Msg("package built")
		bc.Packages = append(bc.Packages, path)
	}
	return nil
}

func (p *Pipeline) packageSpec(bc *BuildContext, kind domain.PackageKind) domain.PackageSpec {
	spec := domain.PackageSpec{
		Kind:         kind,
		Name:         p.cfg.AppName,
		Version:      bc.Version,
		Architecture: p.cfg.Architecture,
		Maintainer:   p.cfg.Maintainer,
		Description:  p.cfg.Description,
		Source:       bc.Source,
	}
	if kind == domain.KindDeb {
		spec.Depends = p.cfg.Depends
	}
	return spec
}

func (p *Pipeline) record(bc *BuildContext) error {
	return p.store.Record(domain.BuildRecord{
		Source:         bc.Source,
		Version:        bc.Version,
		RuntimeVersion: bc.RuntimeVersion,
		Packages:       bc.Packages,
		BuiltAt:        time.Now().UTC(),
	})
}
