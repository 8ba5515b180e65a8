package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"

	"github.com/portelect/portelect/internal/domain"
)

// macosHandler unpacks the vendor dmg. 7z reads HFS+/APFS images
// directly (exit code 2 covers its recoverable warnings); versions
// come from the bundle's Info.plist and the Electron framework plist.
type macosHandler struct {
	base
}

func (h *macosHandler) Extract(ctx context.Context, artifact domain.Artifact, workDir string) (domain.ExtractedTree, error) {
	h.log.Info().Str("installer", artifact.Path).Msg("extracting macos disk image")

	dmgDir := filepath.Join(workDir, "dmg-extract")
	out, err := h.sevenZip.Extract(ctx, artifact.Path, dmgDir, 2)
	if err != nil {
		return domain.ExtractedTree{}, extractionError(out, err)
	}

	contents, err := h.findAppContents(dmgDir)
	if err != nil {
		return domain.ExtractedTree{}, err
	}

	resources := filepath.Join(contents, "Resources")
	if _, err := os.Stat(resources); err != nil {
		return domain.ExtractedTree{}, domain.NewStageError("extract", domain.ErrMetadataMissing, "",
			fmt.Errorf("resources directory not found at %s", resources))
	}

	return domain.ExtractedTree{
		Root:       resources,
		IconSource: filepath.Join(resources, "electron.icns"),
		InfoPlist:  filepath.Join(contents, "Info.plist"),
		RuntimePlist: filepath.Join(contents,
			"Frameworks", "Electron Framework.framework", "Versions", "A", "Resources", "Info.plist"),
	}, nil
}

func (h *macosHandler) findAppContents(dmgDir string) (string, error) {
	bundle := h.profile.AppBundle

	// The image usually mounts as <Name>/<Name>.app.
	direct := filepath.Join(dmgDir, strings.TrimSuffix(bundle, ".app"), bundle, "Contents")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	var found string
	_ = filepath.WalkDir(dmgDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == bundle {
			contents := filepath.Join(path, "Contents")
			if _, err := os.Stat(contents); err == nil {
				found = contents
				return fs.SkipAll
			}
		}
		return nil
	})

	if found == "" {
		return "", domain.NewStageError("extract", domain.ErrMetadataMissing, "",
			fmt.Errorf("%s/Contents not found in %s", bundle, dmgDir))
	}
	return found, nil
}

type bundleInfo struct {
	ShortVersion string `plist:"CFBundleShortVersionString"`
	Version      string `plist:"CFBundleVersion"`
	DisplayName  string `plist:"CFBundleDisplayName"`
	Identifier   string `plist:"CFBundleIdentifier"`
}

func (h *macosHandler) DetectVersions(ctx context.Context, tree domain.ExtractedTree) (domain.Version, domain.Version, error) {
	info, err := readPlist(tree.InfoPlist)
	if err != nil {
		return nil, nil, domain.NewStageError("detect", domain.ErrMetadataMissing, "",
			fmt.Errorf("reading %s: %w", tree.InfoPlist, err))
	}

	raw := info.ShortVersion
	if raw == "" {
		raw = info.Version
	}
	app, err := domain.ParseVersion(raw)
	if err != nil {
		return nil, nil, domain.NewStageError("detect", domain.ErrMetadataMissing, "",
			fmt.Errorf("bundle declares no usable version: %w", err))
	}

	// Electron's own framework plist carries the runtime version; the
	// app manifest inside app.asar is the fallback.
	if rt, err := readPlist(tree.RuntimePlist); err == nil && rt.Version != "" {
		runtime, err := domain.ParseVersion(rt.Version)
		if err == nil {
			return app, runtime, nil
		}
	}

	runtime, err := h.runtimeFromManifest(ctx, tree.Asar())
	if err != nil {
		return nil, nil, err
	}

	return app, runtime, nil
}

func readPlist(path string) (*bundleInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var info bundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
