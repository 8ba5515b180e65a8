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

// buildRPM renders a spec file whose %install copies the staged root
// and runs rpmbuild with a private topdir under the work directory.
func (a *Assembler) buildRPM(ctx context.Context, stagedRoot string, spec domain.PackageSpec) (string, error) {
	arch := RPMArch(spec.Architecture)
	topDir := filepath.Join(a.workDir, "rpm")
	specsDir := filepath.Join(topDir, "SPECS")

	if err := os.RemoveAll(topDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(specsDir, 0755); err != nil {
		return "", err
	}

	var rendered bytes.Buffer
	if err := specTmpl.Execute(&rendered, map[string]any{
		"Name":        spec.Name,
		"Version":     spec.Version.String(),
		"Description": spec.Description,
		"Source":      string(spec.Source),
		"RPMArch":     arch,
		"StagedRoot":  stagedRoot,
	}); err != nil {
		return "", err
	}

	specPath := filepath.Join(specsDir, spec.Name+".spec")
	if err := os.WriteFile(specPath, rendered.Bytes(), 0644); err != nil {
		return "", err
	}

	out, err := a.runner(ctx, execx.Cmd{
		Name: "rpmbuild",
		Args: []string{
			"-bb",
			"--define", "_topdir " + topDir,
			"--target", arch,
			specPath,
		},
		Timeout: a.pkgTimeout,
	})
	if err != nil {
		return "", packagingError(out, err)
	}

	built := filepath.Join(topDir, "RPMS", arch,
		fmt.Sprintf("%s-%s-1.%s.rpm", spec.Name, spec.Version, arch))
	if _, err := os.Stat(built); err != nil {
		return "", packagingError(out, fmt.Errorf("rpmbuild succeeded but %s is missing", built))
	}

	pkgPath := filepath.Join(a.packageDir, spec.FileName())
	if err := fsutil.CopyFile(built, pkgPath, 0644); err != nil {
		return "", err
	}

	return pkgPath, nil
}

// RPMArch maps a Debian architecture name onto the RPM equivalent.
func RPMArch(debArch string) string {
	switch debArch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return debArch
	}
}
