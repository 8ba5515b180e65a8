package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
	"github.com/portelect/portelect/internal/extract"
)

// windowsHandler unpacks the Squirrel installer exe: 7z opens the exe,
// the inner nupkg payload is a plain zip, and the normalized resources
// live under lib/net45/resources.
type windowsHandler struct {
	base
}

func (h *windowsHandler) Extract(ctx context.Context, artifact domain.Artifact, workDir string) (domain.ExtractedTree, error) {
	h.log.Info().Str("installer", artifact.Path).Msg("extracting windows installer")

	exeDir := filepath.Join(workDir, "extract")
	out, err := h.sevenZip.Extract(ctx, artifact.Path, exeDir)
	if err != nil {
		return domain.ExtractedTree{}, extractionError(out, err)
	}

	nupkgs, _ := filepath.Glob(filepath.Join(exeDir, "*.nupkg"))
	if len(nupkgs) == 0 {
		return domain.ExtractedTree{}, domain.NewStageError("extract", domain.ErrMetadataMissing, "",
			fmt.Errorf("no .nupkg payload found in installer exe"))
	}

	nupkgDir := filepath.Join(workDir, "nupkg")
	if err := extract.Unzip(nupkgs[0], nupkgDir); err != nil {
		return domain.ExtractedTree{}, domain.NewStageError("extract", domain.ErrExtractionFailed, "", err)
	}

	libDir := filepath.Join(nupkgDir, "lib", "net45")
	resources := filepath.Join(libDir, "resources")
	if _, err := os.Stat(resources); err != nil {
		return domain.ExtractedTree{}, domain.NewStageError("extract", domain.ErrMetadataMissing, "",
			fmt.Errorf("resources directory not found at %s", resources))
	}

	return domain.ExtractedTree{
		Root:          resources,
		IconSource:    findExe(libDir),
		InstallerStem: filepath.Base(nupkgs[0]),
	}, nil
}

func (h *windowsHandler) DetectVersions(ctx context.Context, tree domain.ExtractedTree) (domain.Version, domain.Version, error) {
	app := appVersionFromStem(h.profile.NupkgPattern, tree.InstallerStem)
	if app.IsZero() {
		h.log.Warn().Str("stem", tree.InstallerStem).Msg("could not read app version from installer payload name")
	}

	runtime, err := h.runtimeFromManifest(ctx, tree.Asar())
	if err != nil {
		return nil, nil, err
	}

	return app, runtime, nil
}

// appVersionFromStem recovers the app version from the nupkg payload
// filename. Returns the zero Version when the pattern does not match;
// the resolved version stays authoritative in that case.
func appVersionFromStem(pattern, stem string) domain.Version {
	if pattern == "" || stem == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	m := re.FindStringSubmatch(stem)
	if m == nil || len(m) < 2 {
		return nil
	}
	v, err := domain.ParseVersion(m[1])
	if err != nil {
		return nil
	}
	return v
}

// findExe locates the application executable next to the resources
// directory; it is the icon source on windows.
func findExe(libDir string) string {
	exes, _ := filepath.Glob(filepath.Join(libDir, "*.exe"))
	if len(exes) == 0 {
		return ""
	}
	return exes[0]
}

// extractionError maps a 7z failure onto the error taxonomy: a killed
// deadline is ExtractionTimeout, anything else ExtractionFailed with
// the captured tool output as diagnostic.
func extractionError(out []byte, err error) error {
	kind := domain.ErrExtractionFailed
	if execx.IsTimeout(err) {
		kind = domain.ErrExtractionTimeout
	}
	return domain.NewStageError("extract", kind, string(out), err)
}
