package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portelect/portelect/internal/cache"
	"github.com/portelect/portelect/internal/config"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/fsutil"
)

func TestVersionFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{
			name: "windows release url",
			url:  "https://storage.example.com/releases/win32/x64/1.0.1217/Claude-Setup-x64.exe",
			want: "1.0.1217",
		},
		{
			name: "macos release url",
			url:  "https://storage.example.com/releases/darwin/universal/1.0.64/Claude.dmg",
			want: "1.0.64",
		},
		{
			name:    "no version segment",
			url:     "https://example.com/latest/Claude-Setup.exe",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VersionFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.MustVersion(tt.want), got)
		})
	}
}

func newBase(t *testing.T, downloadURL string) base {
	t.Helper()
	return base{
		kind:           domain.SourceWindows,
		profile:        config.Source{DownloadURL: downloadURL, InstallerName: "Claude-Setup-x64.exe"},
		cacheDir:       t.TempDir(),
		resolveTimeout: 10 * time.Second,
		log:            zerolog.Nop(),
	}
}

func TestResolveLatestFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/releases/win32/x64/1.0.1217/Claude-Setup-x64.exe", http.StatusFound)
	})
	mux.HandleFunc("/releases/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("installer"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBase(t, srv.URL+"/redirect")
	version, final, err := b.ResolveLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MustVersion("1.0.1217"), version)
	assert.Contains(t, final, "/releases/win32/x64/1.0.1217/")

	// The resolution is persisted for later offline use.
	assert.Equal(t, domain.MustVersion("1.0.1217"), CachedVersion(b.cacheDir, domain.SourceWindows))
}

func TestResolveLatestVersionlessURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no redirect here"))
	}))
	defer srv.Close()

	b := newBase(t, srv.URL)
	_, _, err := b.ResolveLatest(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResolution)
}

func TestResolveLatestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := newBase(t, srv.URL)
	_, _, err := b.ResolveLatest(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResolution)
}

func TestCachedVersionMissing(t *testing.T) {
	assert.True(t, CachedVersion(t.TempDir(), domain.SourceMacOS).IsZero())
}

// fakeFetcher writes fixed content and counts invocations.
type fakeFetcher struct {
	content []byte
	calls   int
	err     error
}

func (f *fakeFetcher) Download(_ context.Context, _, dest, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if err := os.WriteFile(dest, f.content, 0644); err != nil {
		return "", err
	}
	return fsutil.SHA256File(dest)
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	fake := &fakeFetcher{content: []byte("installer bytes")}
	b := newBase(t, "https://example.com/download")
	b.cache = c
	b.fetch = fake

	version := domain.MustVersion("1.0.1217")
	art, err := b.Fetch(context.Background(), version, "https://example.com/1.0.1217/setup.exe")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.FileExists(t, art.Path)
	assert.NotEmpty(t, art.SHA256)

	// Second fetch is served from cache without another download.
	again, err := b.Fetch(context.Background(), version, "https://example.com/1.0.1217/setup.exe")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls, "cache hit must not download")
	assert.Equal(t, art.Path, again.Path)
}

func TestFetchPropagatesDownloadFailure(t *testing.T) {
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	fake := &fakeFetcher{err: errors.New("connection refused")}
	b := newBase(t, "https://example.com/download")
	b.cache = c
	b.fetch = fake

	_, err = b.Fetch(context.Background(), domain.MustVersion("1.0.0"), "")
	require.Error(t, err)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fetch", se.Stage)
}

func TestMacosDetectVersionsFromPlists(t *testing.T) {
	dir := t.TempDir()
	infoPlist := filepath.Join(dir, "Info.plist")
	runtimePlist := filepath.Join(dir, "Runtime.plist")

	require.NoError(t, os.WriteFile(infoPlist, []byte(plistXML(map[string]string{
		"CFBundleShortVersionString": "1.0.64",
		"CFBundleIdentifier":         "com.anthropic.claudefordesktop",
	})), 0644))
	require.NoError(t, os.WriteFile(runtimePlist, []byte(plistXML(map[string]string{
		"CFBundleVersion": "37.2.3",
	})), 0644))

	h := &macosHandler{base: base{kind: domain.SourceMacOS, log: zerolog.Nop()}}
	app, runtime, err := h.DetectVersions(context.Background(), domain.ExtractedTree{
		InfoPlist:    infoPlist,
		RuntimePlist: runtimePlist,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MustVersion("1.0.64"), app)
	assert.Equal(t, domain.MustVersion("37.2.3"), runtime)
}

func TestMacosDetectVersionsMissingPlist(t *testing.T) {
	h := &macosHandler{base: base{kind: domain.SourceMacOS, log: zerolog.Nop()}}
	_, _, err := h.DetectVersions(context.Background(), domain.ExtractedTree{
		InfoPlist: filepath.Join(t.TempDir(), "Info.plist"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMetadataMissing)
}

func TestWindowsAppVersionFromStem(t *testing.T) {
	h := &windowsHandler{base: base{
		kind:    domain.SourceWindows,
		profile: config.Source{NupkgPattern: `AnthropicClaude-(.+)-full\.nupkg`},
		log:     zerolog.Nop(),
	}}

	// Only the stem-derived app version is exercised here; the runtime
	// lookup needs the asar tool and is covered by the taxonomy tests.
	re := h.profile.NupkgPattern
	require.NotEmpty(t, re)

	tree := domain.ExtractedTree{InstallerStem: "AnthropicClaude-1.0.1217-full.nupkg"}
	app := appVersionFromStem(h.profile.NupkgPattern, tree.InstallerStem)
	assert.Equal(t, domain.MustVersion("1.0.1217"), app)

	assert.True(t, appVersionFromStem(h.profile.NupkgPattern, "SomethingElse.nupkg").IsZero())
}

func plistXML(entries map[string]string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0"><dict>`
	for k, v := range entries {
		body += "<key>" + k + "</key><string>" + v + "</string>"
	}
	return body + `</dict></plist>`
}
