package assembler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
	"github.com/portelect/portelect/internal/fsutil"
)

// buildDeb stages the install root under usr/, renders DEBIAN/control
// and hands the tree to dpkg-deb.
func (a *Assembler) buildDeb(ctx context.Context, stagedRoot string, spec domain.PackageSpec) (string, error) {
	stem := fmt.Sprintf("%s_%s_%s", spec.Name, spec.Version, spec.Architecture)
	pkgRoot := filepath.Join(a.packageDir, stem)

	if err := os.RemoveAll(pkgRoot); err != nil {
		return "", err
	}
	if err := fsutil.CopyDir(stagedRoot, filepath.Join(pkgRoot, "usr")); err != nil {
		return "", err
	}

	var control bytes.Buffer
	if err := controlTmpl.Execute(&control, map[string]any{
		"Name":         spec.Name,
		"Version":      spec.Version.String(),
		"Architecture": spec.Architecture,
		"Maintainer":   spec.Maintainer,
		"Depends":      spec.Depends,
		"Description":  spec.Description,
		"Source":       string(spec.Source),
	}); err != nil {
		return "", err
	}

	debianDir := filepath.Join(pkgRoot, "DEBIAN")
	if err := os.MkdirAll(debianDir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(debianDir, "control"), control.Bytes(), 0644); err != nil {
		return "", err
	}

	out, err := a.runner(ctx, execx.Cmd{
		Name:    "dpkg-deb",
		Args:    []string{"--build", pkgRoot},
		Timeout: a.pkgTimeout,
	})
	if err != nil {
		return "", packagingError(out, err)
	}

	pkgPath := filepath.Join(a.packageDir, spec.FileName())
	if _, err := os.Stat(pkgPath); err != nil {
		return "", packagingError(out, fmt.Errorf("dpkg-deb succeeded but %s is missing", pkgPath))
	}

	return pkgPath, nil
}
