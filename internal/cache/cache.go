// Package cache is the content-addressed store for downloaded
// installers, keyed by (source, version) and verified by sha256 on
// every read. Entries are immutable once stored and writes are
// all-or-nothing, so the cache directory is safe to share between
// invocations.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/fsutil"
)

const digestFile = "sha256"

type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

func New(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) Dir() string {
	return c.dir
}

func (c *DiskCache) entryDir(source domain.SourceKind, version domain.Version) string {
	return filepath.Join(c.dir, string(source), version.String())
}

// Get returns the cached installer for version, recomputing its digest
// against the one recorded at store time. Any mismatch invalidates the
// entry unconditionally and reports absent.
func (c *DiskCache) Get(source domain.SourceKind, version domain.Version) (domain.Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := c.entryDir(source, version)

	recorded, err := os.ReadFile(filepath.Join(dir, digestFile))
	if err != nil {
		return domain.Artifact{}, false
	}
	want := strings.TrimSpace(string(recorded))

	path, err := installerPath(dir)
	if err != nil {
		return domain.Artifact{}, false
	}

	got, err := fsutil.SHA256File(path)
	if err != nil || got != want {
		// No partial trust: a corrupted entry is removed, not
		// served.
		os.RemoveAll(dir)
		return domain.Artifact{}, false
	}

	return domain.Artifact{
		Source:  source,
		Version: version,
		SHA256:  want,
		Path:    path,
	}, true
}

// Store verifies srcPath against expectedSHA256 (when given) and moves
// it into the cache. On digest mismatch the partial download is
// deleted and ErrIntegrity reported; nothing is ever adopted unverified.
func (c *DiskCache) Store(source domain.SourceKind, version domain.Version, srcPath, expectedSHA256 string) (domain.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	got, err := fsutil.SHA256File(srcPath)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("digesting %s: %w", srcPath, err)
	}

	if expectedSHA256 != "" && got != expectedSHA256 {
		os.Remove(srcPath)
		return domain.Artifact{}, fmt.Errorf("%w: expected %s, got %s",
			domain.ErrIntegrity, expectedSHA256, got)
	}

	dir := c.entryDir(source, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.Artifact{}, err
	}

	dest := filepath.Join(dir, "installer"+strings.ToLower(filepath.Ext(srcPath)))
	if err := os.Rename(srcPath, dest); err != nil {
		return domain.Artifact{}, fmt.Errorf("storing installer: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, digestFile), []byte(got+"\n"), 0644); err != nil {
		os.RemoveAll(dir)
		return domain.Artifact{}, fmt.Errorf("recording digest: %w", err)
	}

	return domain.Artifact{
		Source:  source,
		Version: version,
		SHA256:  got,
		Path:    dest,
	}, nil
}

func (c *DiskCache) Invalidate(source domain.SourceKind, version domain.Version) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(c.entryDir(source, version))
}

func (c *DiskCache) Size() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var size int64
	err := filepath.Walk(c.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size, err
}

func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(c.dir)
}

func installerPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "installer") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}
