// Package source implements the installer-format handlers. Each
// handler knows how to resolve the latest vendor version, fetch the
// installer through the artifact cache, extract it into the
// normalized tree and read version metadata out of it. The variant is
// chosen by explicit configuration, never detected from file content.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/portelect/portelect/internal/config"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
	"github.com/portelect/portelect/internal/extract"
)

// versionSegment matches the version path segment of a resolved
// download URL, e.g. .../releases/win32/x64/1.0.1217/Claude-... .
var versionSegment = regexp.MustCompile(`/(\d+\.\d+\.\d+)/`)

// New returns the handler for kind, wired to the shared cache and
// fetcher.
func New(kind domain.SourceKind, cfg *config.Config, c domain.Cache, f domain.Fetcher, log zerolog.Logger) (domain.SourceHandler, error) {
	profile, err := cfg.SourceProfile(string(kind))
	if err != nil {
		return nil, err
	}

	b := base{
		kind:           kind,
		profile:        profile,
		cache:          c,
		fetch:          f,
		cacheDir:       cfg.CacheDir,
		resolveTimeout: cfg.Timeouts.Resolve.Std(),
		asarTimeout:    cfg.Timeouts.Asar.Std(),
		sevenZip:       extract.NewSevenZip(cfg.Timeouts.Extract.Std()),
		log:            log.With().Str("source", string(kind)).Logger(),
	}

	switch kind {
	case domain.SourceWindows:
		return &windowsHandler{base: b}, nil
	case domain.SourceMacOS:
		return &macosHandler{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

type base struct {
	kind           domain.SourceKind
	profile        config.Source
	cache          domain.Cache
	fetch          domain.Fetcher
	cacheDir       string
	resolveTimeout time.Duration
	asarTimeout    time.Duration
	sevenZip       *extract.SevenZip
	log            zerolog.Logger
}

func (b *base) Kind() domain.SourceKind {
	return b.kind
}

// ResolveLatest probes the vendor redirect endpoint. The final URL
// after all redirects embeds the version as a path segment; no body
// is consumed. Failures are never retried here.
func (b *base) ResolveLatest(ctx context.Context) (domain.Version, string, error) {
	final, err := b.resolveFinalURL(ctx, b.profile.DownloadURL)
	if err != nil {
		return nil, "", domain.NewStageError("resolve", domain.ErrResolution, "", err)
	}

	v, err := VersionFromURL(final)
	if err != nil {
		return nil, "", domain.NewStageError("resolve", domain.ErrResolution, final, err)
	}

	b.saveResolvedURL(final)
	b.log.Debug().Stringer("version", v).Str("url", final).Msg("resolved latest version")

	return v, final, nil
}

func (b *base) resolveFinalURL(ctx context.Context, url string) (string, error) {
	client := &http.Client{Timeout: b.resolveTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "portelect")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	// Only the redirected URL matters; drop the body immediately.
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.Request.URL.String(), nil
}

// VersionFromURL extracts the dotted version segment of a resolved
// download URL.
func VersionFromURL(url string) (domain.Version, error) {
	m := versionSegment.FindStringSubmatch(url)
	if m == nil {
		return nil, fmt.Errorf("no version segment in %s", url)
	}
	return domain.ParseVersion(m[1])
}

// Fetch returns a verified installer for version, short-circuiting on
// a valid cache entry. On a miss it downloads to a temp file and lets
// the cache ingest it; the digest computed on first download becomes
// the digest of record.
func (b *base) Fetch(ctx context.Context, version domain.Version, url string) (domain.Artifact, error) {
	if art, ok := b.cache.Get(b.kind, version); ok {
		b.log.Debug().Str("path", art.Path).Msg("installer cache hit")
		art.URL = url
		return art, nil
	}

	if url == "" {
		url = b.profile.DownloadURL
	}

	tmp := filepath.Join(b.cacheDir, fmt.Sprintf(".partial-%s-%s%s",
		b.kind, version, filepath.Ext(b.profile.InstallerName)))
	if err := os.MkdirAll(b.cacheDir, 0755); err != nil {
		return domain.Artifact{}, domain.NewStageError("fetch", nil, "", err)
	}

	digest, err := b.fetch.Download(ctx, url, tmp, "")
	if err != nil {
		return domain.Artifact{}, domain.NewStageError("fetch", kindOf(err, domain.ErrIntegrity), "", err)
	}

	art, err := b.cache.Store(b.kind, version, tmp, digest)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError("fetch", kindOf(err, domain.ErrIntegrity), "", err)
	}

	art.URL = url
	return art, nil
}

// asarManifest is the slice of package.json the pipeline cares about.
type asarManifest struct {
	ProductName     string            `json:"productName"`
	DevDependencies map[string]string `json:"devDependencies"`
	Engines         map[string]string `json:"engines"`
}

// readAsarManifest unpacks app.asar with the asar tool and parses the
// embedded package.json. A missing manifest is ErrMetadataMissing: the
// archive extracted fine but its shape changed.
func (b *base) readAsarManifest(ctx context.Context, asarPath string) (*asarManifest, error) {
	tmp, err := os.MkdirTemp("", "portelect-asar-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	appDir := filepath.Join(tmp, "app")
	out, err := execx.Run(ctx, execx.Cmd{
		Name:    "npx",
		Args:    []string{"asar", "extract", asarPath, appDir},
		Timeout: b.asarTimeout,
	})
	if err != nil {
		kind := domain.ErrExtractionFailed
		if execx.IsTimeout(err) {
			kind = domain.ErrExtractionTimeout
		}
		return nil, domain.NewStageError("detect", kind, string(out), err)
	}

	data, err := os.ReadFile(filepath.Join(appDir, "package.json"))
	if os.IsNotExist(err) {
		return nil, domain.NewStageError("detect", domain.ErrMetadataMissing, "",
			fmt.Errorf("package.json not present in app.asar"))
	}
	if err != nil {
		return nil, err
	}

	var m asarManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, domain.NewStageError("detect", domain.ErrMetadataMissing, "",
			fmt.Errorf("parsing package.json: %w", err))
	}

	return &m, nil
}

// runtimeFromManifest reads devDependencies.electron.
func (b *base) runtimeFromManifest(ctx context.Context, asarPath string) (domain.Version, error) {
	m, err := b.readAsarManifest(ctx, asarPath)
	if err != nil {
		return nil, err
	}

	raw, ok := m.DevDependencies["electron"]
	if !ok || raw == "" {
		return nil, domain.NewStageError("detect", domain.ErrMetadataMissing, "",
			fmt.Errorf("electron version not declared in package.json"))
	}

	return domain.ParseVersion(raw)
}

// resolvedURLEntry persists the last resolution per source so
// check-update can diff without downloading anything.
type resolvedURLEntry struct {
	URL        string    `json:"url"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func (b *base) saveResolvedURL(url string) {
	if err := os.MkdirAll(b.cacheDir, 0755); err != nil {
		return
	}
	data, _ := json.Marshal(resolvedURLEntry{URL: url, ResolvedAt: time.Now().UTC()})
	_ = os.WriteFile(resolvedURLPath(b.cacheDir, b.kind), data, 0644)
}

func resolvedURLPath(cacheDir string, kind domain.SourceKind) string {
	return filepath.Join(cacheDir, string(kind)+"_url.json")
}

// CachedVersion returns the version recorded by the last successful
// resolution for kind, or the zero Version when none exists.
func CachedVersion(cacheDir string, kind domain.SourceKind) domain.Version {
	data, err := os.ReadFile(resolvedURLPath(cacheDir, kind))
	if err != nil {
		return nil
	}

	var entry resolvedURLEntry
	if json.Unmarshal(data, &entry) != nil {
		return nil
	}

	v, err := VersionFromURL(entry.URL)
	if err != nil {
		return nil
	}
	return v
}

// kindOf keeps an already-typed kind when err wraps it, otherwise nil.
func kindOf(err, candidate error) error {
	if err == nil {
		return nil
	}
	var se *domain.StageError
	if errors.As(err, &se) && se.Kind != nil {
		return se.Kind
	}
	if errors.Is(err, candidate) {
		return candidate
	}
	return nil
}
