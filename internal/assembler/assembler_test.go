package assembler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
)

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	return New("claude-desktop", "Claude", "Claude AI assistant",
		t.TempDir(), t.TempDir(), time.Minute, time.Minute, zerolog.Nop())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func stageInput(t *testing.T) StageInput {
	t.Helper()
	appDir := t.TempDir()
	writeFile(t, filepath.Join(appDir, "resources", "i18n", "en-US.json"), `{"k":"v"}`)

	asar := filepath.Join(t.TempDir(), "app.asar")
	writeFile(t, asar, "packed app")

	unpacked := t.TempDir()
	writeFile(t, filepath.Join(unpacked, "node_modules", "sharp", "sharp.node"), "native")

	icons := t.TempDir()
	writeFile(t, filepath.Join(icons, "hicolor", "16x16", "apps", "claude-desktop.png"), "png")

	return StageInput{
		AppAsar:        asar,
		AppDir:         appDir,
		UnpackedDir:    unpacked,
		IconsDir:       icons,
		RuntimeVersion: domain.MustVersion("37.2.3"),
		OutputDir:      filepath.Join(t.TempDir(), "root"),
	}
}

// npmStub pretends npm install produced an Electron distribution in
// the staging directory.
func npmStub(t *testing.T) func(context.Context, execx.Cmd) ([]byte, error) {
	return func(_ context.Context, c execx.Cmd) ([]byte, error) {
		require.Equal(t, "npm", c.Name)
		require.Positive(t, c.Timeout)
		writeFile(t, filepath.Join(c.Dir, "node_modules", "electron", "dist", "electron"), "elf binary")
		return nil, nil
	}
}

func TestStageLayout(t *testing.T) {
	a := newAssembler(t)
	a.runner = npmStub(t)

	in := stageInput(t)
	root, err := a.Stage(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.OutputDir, root)

	launcher, err := os.ReadFile(filepath.Join(root, "bin", "claude-desktop"))
	require.NoError(t, err)
	assert.Contains(t, string(launcher), "lib/claude-desktop/app.asar")
	assert.Contains(t, string(launcher), "ELECTRON_FORCE_IS_PACKAGED")

	info, err := os.Stat(filepath.Join(root, "bin", "claude-desktop"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	desktop, err := os.ReadFile(filepath.Join(root, "share", "applications", "claude-desktop.desktop"))
	require.NoError(t, err)
	assert.Contains(t, string(desktop), "Name=Claude")
	assert.Contains(t, string(desktop), "Exec=claude-desktop %u")
	assert.Contains(t, string(desktop), "x-scheme-handler/claude")

	libDir := filepath.Join(root, "lib", "claude-desktop")
	assert.FileExists(t, filepath.Join(libDir, "app.asar"))
	assert.FileExists(t, filepath.Join(libDir, "app.asar.unpacked", "node_modules", "sharp", "sharp.node"))
	assert.FileExists(t, filepath.Join(root, "share", "icons", "hicolor", "16x16", "apps", "claude-desktop.png"))
	assert.FileExists(t, filepath.Join(libDir, "node_modules", "electron", "dist", "electron"))

	// i18n catalogs land where a packaged Electron resolves resources.
	assert.FileExists(t, filepath.Join(libDir, "node_modules", "electron", "dist", "resources", "en-US.json"))
}

func TestStagePinsRuntimeVersion(t *testing.T) {
	a := newAssembler(t)

	var manifest string
	a.runner = func(_ context.Context, c execx.Cmd) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(c.Dir, "package.json"))
		require.NoError(t, err)
		manifest = string(data)
		writeFile(t, filepath.Join(c.Dir, "node_modules", "electron", "dist", "electron"), "elf")
		return nil, nil
	}

	in := stageInput(t)
	in.ExtraNpmDeps = map[string]string{"node-pty": "^1.0.0"}
	_, err := a.Stage(context.Background(), in)
	require.NoError(t, err)

	assert.Contains(t, manifest, `"electron": "37.2.3"`)
	assert.Contains(t, manifest, `"node-pty": "^1.0.0"`)
}

func TestStageNpmFailureIsPackagingError(t *testing.T) {
	a := newAssembler(t)
	a.runner = func(_ context.Context, c execx.Cmd) ([]byte, error) {
		return []byte("npm ERR! network"), fmt.Errorf("npm exited with code 1")
	}

	_, err := a.Stage(context.Background(), stageInput(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPackaging)
	assert.Contains(t, err.Error(), "npm ERR! network")
}

func TestBuildDebRendersControlAndInvokesDpkg(t *testing.T) {
	a := newAssembler(t)

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "bin", "claude-desktop"), "launcher")

	spec := domain.PackageSpec{
		Kind:         domain.KindDeb,
		Name:         "claude-desktop",
		Version:      domain.MustVersion("1.0.1217"),
		Architecture: "amd64",
		Maintainer:   "Portelect Contributors",
		Description:  "Claude AI assistant",
		Depends:      []string{"libgtk-3-0", "libnotify4"},
		Source:       domain.SourceWindows,
	}

	var built string
	a.runner = func(_ context.Context, c execx.Cmd) ([]byte, error) {
		require.Equal(t, "dpkg-deb", c.Name)
		require.Equal(t, "--build", c.Args[0])
		built = c.Args[1]

		control, err := os.ReadFile(filepath.Join(built, "DEBIAN", "control"))
		require.NoError(t, err)
		assert.Contains(t, string(control), "Package: claude-desktop")
		assert.Contains(t, string(control), "Version: 1.0.1217")
		assert.Contains(t, string(control), "Depends: libgtk-3-0, libnotify4")

		writeFile(t, built+".deb", "deb bytes")
		return nil, nil
	}

	pkgPath, err := a.buildDeb(context.Background(), staged, spec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.packageDir, "claude-desktop_1.0.1217_amd64.deb"), pkgPath)
	assert.FileExists(t, filepath.Join(built, "usr", "bin", "claude-desktop"))
}

func TestBuildDebToolFailure(t *testing.T) {
	a := newAssembler(t)
	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "bin", "x"), "x")

	a.runner = func(_ context.Context, c execx.Cmd) ([]byte, error) {
		return []byte("dpkg-deb: error"), fmt.Errorf("dpkg-deb exited with code 2")
	}

	_, err := a.buildDeb(context.Background(), staged, domain.PackageSpec{
		Kind: domain.KindDeb, Name: "claude-desktop",
		Version: domain.MustVersion("1.0.0"), Architecture: "amd64",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPackaging)
}

func TestBuildRPMRendersSpecAndCollectsOutput(t *testing.T) {
	a := newAssembler(t)

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "bin", "claude-desktop"), "launcher")

	spec := domain.PackageSpec{
		Kind:         domain.KindRPM,
		Name:         "claude-desktop",
		Version:      domain.MustVersion("1.0.1217"),
		Architecture: "amd64",
		Description:  "Claude AI assistant",
		Source:       domain.SourceMacOS,
	}

	a.runner = func(_ context.Context, c execx.Cmd) ([]byte, error) {
		require.Equal(t, "rpmbuild", c.Name)

		specPath := c.Args[len(c.Args)-1]
		rendered, err := os.ReadFile(specPath)
		require.NoError(t, err)
		assert.Contains(t, string(rendered), "Name: claude-desktop")
		assert.Contains(t, string(rendered), "Version: 1.0.1217")
		assert.Contains(t, string(rendered), "BuildArch: x86_64")
		assert.Contains(t, string(rendered), staged)

		topDir := filepath.Join(a.workDir, "rpm")
		writeFile(t, filepath.Join(topDir, "RPMS", "x86_64", "claude-desktop-1.0.1217-1.x86_64.rpm"), "rpm bytes")
		return nil, nil
	}

	pkgPath, err := a.buildRPM(context.Background(), staged, spec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.packageDir, "claude-desktop-1.0.1217-1.x86_64.rpm"), pkgPath)
	assert.FileExists(t, pkgPath)
}

func TestRPMArch(t *testing.T) {
	assert.Equal(t, "x86_64", RPMArch("amd64"))
	assert.Equal(t, "aarch64", RPMArch("arm64"))
	assert.Equal(t, "riscv64", RPMArch("riscv64"))
}

func TestPackageUnknownKind(t *testing.T) {
	a := newAssembler(t)
	_, err := a.Package(context.Background(), t.TempDir(), domain.PackageSpec{Kind: "snap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend")
}

func TestLauncherTemplateEscaping(t *testing.T) {
	var b strings.Builder
	require.NoError(t, launcherTmpl.Execute(&b, map[string]string{"AppName": "claude-desktop"}))
	out := b.String()
	assert.True(t, strings.HasPrefix(out, "#!/bin/bash"))
	assert.NotContains(t, out, "{{")
}
