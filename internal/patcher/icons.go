package patcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
	"github.com/portelect/portelect/internal/fsutil"
)

// IconsRule mines application icons out of the source-format icon
// container and stages a hicolor tree for the assembler. A resolution
// that cannot be produced degrades cosmetically, so per-size misses
// are warnings; a broken extraction tool is still an error.
type IconsRule struct {
	kind     domain.SourceKind
	sizes    []int
	appName  string
	parallel int
	timeout  time.Duration
	runner   func(context.Context, execx.Cmd) ([]byte, error)
}

func NewIconsRule(kind domain.SourceKind, sizes []int, appName string, parallel int, timeout time.Duration) *IconsRule {
	if parallel < 1 {
		parallel = 1
	}
	return &IconsRule{
		kind:     kind,
		sizes:    sizes,
		appName:  appName,
		parallel: parallel,
		timeout:  timeout,
		runner:   execx.Run,
	}
}

func (r *IconsRule) Name() string { return "inject-icons" }

func (r *IconsRule) Apply(ctx context.Context, t *Tree, rep *Report) error {
	if t.IconSource == "" {
		rep.Warnf("no icon source in extracted tree, packages will ship without icons")
		return nil
	}

	workDir := filepath.Join(filepath.Dir(t.IconsDir), "icons-work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}

	switch r.kind {
	case domain.SourceWindows:
		return r.fromExe(ctx, t, workDir, rep)
	case domain.SourceMacOS:
		return r.fromIcns(ctx, t, workDir, rep)
	default:
		return fmt.Errorf("no icon strategy for source %s", r.kind)
	}
}

// fromExe extracts the icon group from the windows executable with
// wrestool, explodes it with icotool and copies whichever resolutions
// the vendor shipped.
func (r *IconsRule) fromExe(ctx context.Context, t *Tree, workDir string, rep *Report) error {
	ico := filepath.Join(workDir, r.appName+".ico")

	if out, err := r.runner(ctx, execx.Cmd{
		Name:    "wrestool",
		Args:    []string{"-x", "-t", "14", t.IconSource, "-o", ico},
		Timeout: r.timeout,
	}); err != nil {
		return fmt.Errorf("extracting icon group: %w (output: %s)", err, out)
	}

	if out, err := r.runner(ctx, execx.Cmd{
		Name:    "icotool",
		Args:    []string{"-x", ico},
		Dir:     workDir,
		Timeout: r.timeout,
	}); err != nil {
		return fmt.Errorf("exploding icon group: %w (output: %s)", err, out)
	}

	for _, size := range r.sizes {
		pngs, _ := filepath.Glob(filepath.Join(workDir, fmt.Sprintf("*_%dx%dx*.png", size, size)))
		if len(pngs) == 0 {
			rep.Warnf("icon: no %dx%d resolution in vendor executable", size, size)
			continue
		}
		if err := fsutil.CopyFile(pngs[0], r.target(t, size), 0644); err != nil {
			return err
		}
	}

	return nil
}

// fromIcns converts the .icns entries with icns2png and resizes the
// largest one per required resolution. Conversions are independent of
// each other and run in a bounded pool.
func (r *IconsRule) fromIcns(ctx context.Context, t *Tree, workDir string, rep *Report) error {
	if _, err := os.Stat(t.IconSource); err != nil {
		rep.Warnf("icon: %s not found, packages will ship without icons", filepath.Base(t.IconSource))
		return nil
	}

	if out, err := r.runner(ctx, execx.Cmd{
		Name:    "icns2png",
		Args:    []string{"-x", "-o", workDir, t.IconSource},
		Timeout: r.timeout,
	}); err != nil {
		rep.Warnf("icon: icns conversion failed: %v (output: %s)", err, out)
		return nil
	}

	source := largestPNG(workDir)
	if source == "" {
		rep.Warnf("icon: nothing extracted from icns")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)

	for _, size := range r.sizes {
		size := size
		g.Go(func() error {
			target := r.target(t, size)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := r.runner(gctx, execx.Cmd{
				Name:    "convert",
				Args:    []string{source, "-resize", fmt.Sprintf("%dx%d", size, size), target},
				Timeout: r.timeout,
			})
			if err != nil {
				return fmt.Errorf("resizing to %dx%d: %w (output: %s)", size, size, err, out)
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *IconsRule) target(t *Tree, size int) string {
	return filepath.Join(t.IconsDir, "hicolor", fmt.Sprintf("%dx%d", size, size), "apps", r.appName+".png")
}

func largestPNG(dir string) string {
	pngs, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	sort.Slice(pngs, func(i, j int) bool {
		si, _ := os.Stat(pngs[i])
		sj, _ := os.Stat(pngs[j])
		if si == nil || sj == nil {
			return false
		}
		return si.Size() > sj.Size()
	})

	if len(pngs) == 0 {
		return ""
	}
	return pngs[0]
}
