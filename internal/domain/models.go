package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// SourceKind selects the installer format a build starts from. It is
// always set explicitly by configuration or flag, never sniffed from
// file content.
type SourceKind string

const (
	SourceWindows SourceKind = "windows"
	SourceMacOS   SourceKind = "macos"
)

func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceWindows, SourceMacOS:
		return SourceKind(s), nil
	}
	return "", fmt.Errorf("unknown source %q (available: windows, macos)", s)
}

// Artifact is an immutable downloaded installer. It is only valid
// while its recomputed digest matches SHA256.
type Artifact struct {
	Source  SourceKind
	Version Version
	URL     string
	SHA256  string
	Path    string
}

// ExtractedTree is the normalized layout a source handler produces,
// independent of the installer format. Root always contains app.asar;
// the other fields are absolute paths that may be empty when the
// source format does not provide them.
type ExtractedTree struct {
	// Root is the resources directory holding app.asar and the
	// bundled tray/i18n assets.
	Root string

	// IconSource is the file icons are mined from (the application
	// executable for windows, the .icns for macos).
	IconSource string

	// InfoPlist and RuntimePlist locate the macOS bundle manifests.
	InfoPlist    string
	RuntimePlist string

	// InstallerStem is the inner installer payload name the app
	// version can be recovered from (the nupkg filename on windows).
	InstallerStem string
}

func (t ExtractedTree) Asar() string {
	return filepath.Join(t.Root, "app.asar")
}

func (t ExtractedTree) Unpacked() string {
	return filepath.Join(t.Root, "app.asar.unpacked")
}

// PackageKind is the target packaging backend. Closed set.
type PackageKind string

const (
	KindDeb    PackageKind = "deb"
	KindRPM    PackageKind = "rpm"
	KindTarZst PackageKind = "tar.zst"
	KindTarXz  PackageKind = "tar.xz"
)

func ParsePackageKind(s string) (PackageKind, error) {
	switch PackageKind(s) {
	case KindDeb, KindRPM, KindTarZst, KindTarXz:
		return PackageKind(s), nil
	}
	return "", fmt.Errorf("unknown package kind %q (available: deb, rpm, tar.zst, tar.xz)", s)
}

// PackageSpec is everything a packaging backend needs, derived from
// the build context with no hidden state.
type PackageSpec struct {
	Kind         PackageKind
	Name         string
	Version      Version
	Architecture string
	Maintainer   string
	Description  string
	Depends      []string
	Source       SourceKind
}

// FileName is the package artifact name, e.g.
// claude-desktop_1.0.1217_amd64.deb.
func (s PackageSpec) FileName() string {
	switch s.Kind {
	case KindRPM:
		return fmt.Sprintf("%s-%s-1.%s.rpm", s.Name, s.Version, rpmArch(s.Architecture))
	default:
		return fmt.Sprintf("%s_%s_%s.%s", s.Name, s.Version, s.Architecture, s.Kind)
	}
}

func rpmArch(debArch string) string {
	switch debArch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return debArch
	}
}

// BuildRecord is one row of the persisted build ledger.
type BuildRecord struct {
	Source         SourceKind
	Version        Version
	RuntimeVersion Version
	Packages       []string
	BuiltAt        time.Time
}
