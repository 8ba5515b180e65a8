package assembler

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/portelect/portelect/internal/domain"
)

func stagedFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bin", "claude-desktop"), "#!/bin/bash\n")
	require.NoError(t, os.Chmod(filepath.Join(root, "bin", "claude-desktop"), 0755))
	writeFile(t, filepath.Join(root, "lib", "claude-desktop", "app.asar"), "packed")
	require.NoError(t, os.Symlink("app.asar", filepath.Join(root, "lib", "claude-desktop", "app.link")))
	return root
}

func readTar(t *testing.T, r io.Reader) map[string]*tar.Header {
	t.Helper()
	entries := make(map[string]*tar.Header)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		entries[hdr.Name] = hdr
	}
	return entries
}

func TestBuildTarballZst(t *testing.T) {
	a := New("claude-desktop", "Claude", "desc", t.TempDir(), t.TempDir(),
		time.Minute, time.Minute, zerolog.Nop())

	pkgPath, err := a.buildTarball(stagedFixture(t), domain.PackageSpec{
		Kind:         domain.KindTarZst,
		Name:         "claude-desktop",
		Version:      domain.MustVersion("1.0.1217"),
		Architecture: "amd64",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pkgPath, "claude-desktop_1.0.1217_amd64.tar.zst"))

	f, err := os.Open(pkgPath)
	require.NoError(t, err)
	defer f.Close()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	entries := readTar(t, dec)
	require.Contains(t, entries, "claude-desktop/bin/claude-desktop")
	assert.Contains(t, entries, "claude-desktop/lib/claude-desktop/app.asar")

	launcher := entries["claude-desktop/bin/claude-desktop"]
	assert.Equal(t, int64(0755), launcher.Mode&0777)

	link := entries["claude-desktop/lib/claude-desktop/app.link"]
	require.NotNil(t, link)
	assert.Equal(t, byte(tar.TypeSymlink), link.Typeflag)
	assert.Equal(t, "app.asar", link.Linkname)

	for name := range entries {
		assert.True(t, strings.HasPrefix(name, "claude-desktop/"),
			"entry %s escapes the package prefix", name)
	}
}

func TestBuildTarballXz(t *testing.T) {
	a := New("claude-desktop", "Claude", "desc", t.TempDir(), t.TempDir(),
		time.Minute, time.Minute, zerolog.Nop())

	pkgPath, err := a.buildTarball(stagedFixture(t), domain.PackageSpec{
		Kind:         domain.KindTarXz,
		Name:         "claude-desktop",
		Version:      domain.MustVersion("1.0.1217"),
		Architecture: "amd64",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pkgPath, ".tar.xz"))

	f, err := os.Open(pkgPath)
	require.NoError(t, err)
	defer f.Close()

	dec, err := xz.NewReader(f)
	require.NoError(t, err)

	entries := readTar(t, dec)
	assert.Contains(t, entries, "claude-desktop/bin/claude-desktop")
	assert.Contains(t, entries, "claude-desktop/lib/claude-desktop/app.asar")
}

func TestBuildTarballRejectsOtherKinds(t *testing.T) {
	a := New("claude-desktop", "Claude", "desc", t.TempDir(), t.TempDir(),
		time.Minute, time.Minute, zerolog.Nop())

	_, err := a.buildTarball(stagedFixture(t), domain.PackageSpec{
		Kind:    domain.KindDeb,
		Name:    "claude-desktop",
		Version: domain.MustVersion("1.0.0"),
	})
	assert.Error(t, err)
}
