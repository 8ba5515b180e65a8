// Package patcher applies the ordered set of transformations that
// turn an extracted vendor bundle into a Linux-loadable one. Every
// rule is idempotent: re-running the full list over a tree a prior
// interrupted run left half-patched converges to the same result as a
// single clean run, so there is no resumption bookkeeping.
package patcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
)

// Tree is the mutable view a rule works on.
type Tree struct {
	// AppDir holds the unpacked app.asar contents.
	AppDir string
	// ResourcesDir is the source bundle's resources directory (tray
	// icons, i18n catalogs).
	ResourcesDir string
	// UnpackedDir is the app.asar.unpacked sibling, empty when the
	// source bundle ships none.
	UnpackedDir string
	// BindingPath is the freshly compiled native binding.
	BindingPath string
	// IconSource and IconsDir are the icon input file and the
	// hicolor staging output.
	IconSource string
	IconsDir   string
}

// Report collects the non-fatal findings of a run; they surface in
// the final build report without aborting anything.
type Report struct {
	Warnings []string
}

func (r *Report) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Rule is one named, idempotent, independently retriable
// transformation.
type Rule interface {
	Name() string
	Apply(ctx context.Context, t *Tree, rep *Report) error
}

type Patcher struct {
	rules       []Rule
	asarTimeout time.Duration
	runner      func(context.Context, execx.Cmd) ([]byte, error)
	log         zerolog.Logger
}

func New(rules []Rule, asarTimeout time.Duration, log zerolog.Logger) *Patcher {
	return &Patcher{
		rules:       rules,
		asarTimeout: asarTimeout,
		runner:      execx.Run,
		log:         log,
	}
}

// Result locates the patch outputs consumed by the assembler.
type Result struct {
	AppAsar     string
	AppDir      string
	UnpackedDir string
	IconsDir    string
}

// Apply unpacks app.asar, runs every rule in order and repacks. The
// source tree's unpacked directory is patched in place; the repacked
// asar lands in workDir.
func (p *Patcher) Apply(ctx context.Context, src domain.ExtractedTree, bindingPath, workDir string, rep *Report) (Result, error) {
	appDir := filepath.Join(workDir, "app")
	if err := os.RemoveAll(appDir); err != nil {
		return Result{}, err
	}

	if out, err := p.runner(ctx, execx.Cmd{
		Name:    "npx",
		Args:    []string{"asar", "extract", src.Asar(), appDir},
		Timeout: p.asarTimeout,
	}); err != nil {
		return Result{}, domain.NewStageError("patch", asarKind(err), string(out), err)
	}

	unpacked := ""
	if _, err := os.Stat(src.Unpacked()); err == nil {
		unpacked = src.Unpacked()
	}

	tree := &Tree{
		AppDir:       appDir,
		ResourcesDir: src.Root,
		UnpackedDir:  unpacked,
		BindingPath:  bindingPath,
		IconSource:   src.IconSource,
		IconsDir:     filepath.Join(workDir, "icons"),
	}

	for _, rule := range p.rules {
		p.log.Info().Str("rule", rule.Name()).Msg("applying patch rule")
		if err := rule.Apply(ctx, tree, rep); err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
	}

	newAsar := filepath.Join(workDir, "app.asar")
	if out, err := p.runner(ctx, execx.Cmd{
		Name:    "npx",
		Args:    []string{"asar", "pack", appDir, newAsar},
		Timeout: p.asarTimeout,
	}); err != nil {
		return Result{}, domain.NewStageError("patch", asarKind(err), string(out), err)
	}

	return Result{
		AppAsar:     newAsar,
		AppDir:      appDir,
		UnpackedDir: unpacked,
		IconsDir:    tree.IconsDir,
	}, nil
}

// Rules exposes the configured rule list so callers can re-apply it to
// an already-unpacked tree (the idempotence tests lean on this).
func (p *Patcher) Rules() []Rule {
	return p.rules
}

func asarKind(err error) error {
	if execx.IsTimeout(err) {
		return domain.ErrExtractionTimeout
	}
	return nil
}
