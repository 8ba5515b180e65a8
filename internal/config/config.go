package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

// Duration is a time.Duration that TOML-decodes from strings like
// "10m" or "45s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	AppName      string   `toml:"app_name"`
	DisplayName  string   `toml:"display_name"`
	Maintainer   string   `toml:"maintainer"`
	Description  string   `toml:"description"`
	Architecture string   `toml:"architecture"`
	PackageKinds []string `toml:"package_kinds"`
	Depends      []string `toml:"depends"`

	WorkDir    string `toml:"work_dir"`
	OutputDir  string `toml:"output_dir"`
	PackageDir string `toml:"package_dir"`
	CacheDir   string `toml:"cache_dir"`
	StateFile  string `toml:"state_file"`

	MaxParallel  int `toml:"max_parallel"`
	FetchRetries int `toml:"fetch_retries"`

	Timeouts Timeouts          `toml:"timeouts"`
	Sources  map[string]Source `toml:"sources"`
	Binding  Binding           `toml:"binding"`
	Patch    Patch             `toml:"patch"`
}

type Timeouts struct {
	Resolve  Duration `toml:"resolve"`
	Download Duration `toml:"download"`
	Extract  Duration `toml:"extract"`
	Asar     Duration `toml:"asar"`
	Npm      Duration `toml:"npm"`
	Package  Duration `toml:"package"`
	Icon     Duration `toml:"icon"`
}

type Source struct {
	DownloadURL   string `toml:"download_url"`
	InstallerName string `toml:"installer_name"`
	// NupkgPattern recovers the app version from the inner installer
	// payload filename (windows only).
	NupkgPattern string `toml:"nupkg_pattern"`
	// AppBundle is the .app directory to locate inside the dmg
	// (macos only).
	AppBundle string `toml:"app_bundle"`
}

type Binding struct {
	ProjectDir string   `toml:"project_dir"`
	Slots      []string `toml:"slots"`
	FileName   string   `toml:"file_name"`
	// SwiftSlot is the macOS-only addon replaced by a stub module.
	SwiftSlot string `toml:"swift_slot"`
}

type Patch struct {
	IconSizes []int     `toml:"icon_sizes"`
	Rewrites  []Rewrite `toml:"rewrites"`
}

// Rewrite is one exact-substring replacement in a bundled script.
// Old/New track the vendor's minified bundles and are expected to be
// adjusted per release; Optional rewrites warn instead of failing
// when the marker is gone.
type Rewrite struct {
	Name     string `toml:"name"`
	FileGlob string `toml:"file_glob"`
	Old      string `toml:"old"`
	New      string `toml:"new"`
	Optional bool   `toml:"optional"`
	// Gated rewrites only run when the build explicitly asks for
	// them (--patch-platform-detection).
	Gated bool `toml:"gated"`
}

func Default() *Config {
	cwd, _ := os.Getwd()

	return &Config{
		AppName:      "claude-desktop",
		DisplayName:  "Claude",
		Maintainer:   "Portelect Contributors",
		Description:  "Vendor desktop application repackaged for Linux with Electron bundled",
		Architecture: "amd64",
		PackageKinds: []string{"deb"},
		Depends:      []string{"libgtk-3-0", "libnotify4", "libnss3", "libxss1", "libxtst6", "xdg-utils"},

		WorkDir:    filepath.Join(cwd, "build"),
		OutputDir:  filepath.Join(cwd, "build", "root"),
		PackageDir: filepath.Join(cwd, "packages"),
		CacheDir:   filepath.Join(xdg.CacheHome, "portelect", "downloads"),
		StateFile:  filepath.Join(xdg.StateHome, "portelect", "builds.db"),

		MaxParallel:  4,
		FetchRetries: 3,

		Timeouts: Timeouts{
			Resolve:  Duration(30 * time.Second),
			Download: Duration(30 * time.Minute),
			Extract:  Duration(10 * time.Minute),
			Asar:     Duration(5 * time.Minute),
			Npm:      Duration(15 * time.Minute),
			Package:  Duration(10 * time.Minute),
			Icon:     Duration(1 * time.Minute),
		},

		Sources: map[string]Source{
			"windows": {
				DownloadURL:   "https://claude.ai/api/desktop/win32/x64/exe/latest/redirect",
				InstallerName: "Claude-Setup-x64.exe",
				NupkgPattern:  `AnthropicClaude-(.+)-full\.nupkg`,
			},
			"macos": {
				DownloadURL:   "https://claude.ai/api/desktop/darwin/universal/dmg/latest/redirect",
				InstallerName: "Claude.dmg",
				AppBundle:     "Claude.app",
			},
		},

		Binding: Binding{
			ProjectDir: filepath.Join(cwd, "native", "patchy-cnb"),
			Slots:      []string{"node_modules/@ant/claude-native"},
			FileName:   "claude-native-binding.node",
			SwiftSlot:  "node_modules/@ant/claude-swift",
		},

		Patch: Patch{
			IconSizes: []int{16, 24, 32, 48, 64, 128, 256, 512},
			Rewrites: []Rewrite{
				{
					// Keeps the in-app title bar visible on Linux;
					// the marker lives in a minified bundle and
					// moves between vendor releases.
					Name:     "title-bar",
					FileGlob: ".vite/renderer/main_window/assets/MainWindowPage-*.js",
					Old:      "if(!n&&i)",
					New:      "if(n&&i)",
					Optional: true,
				},
				{
					Name:     "platform-detection",
					FileGlob: ".vite/build/index.js",
					Old:      `if(process.platform==="win32")return"win32-x64";throw`,
					New:      `if(process.platform==="win32")return"win32-x64";if(process.platform==="linux")return e==="arm64"?"linux-arm64":"linux-x64";throw`,
					Optional: true,
					Gated:    true,
				},
			},
		},
	}
}

// Path is the default config file location.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "portelect", "config.toml")
}

// Load reads the config file at path (Path() when empty), layered on
// top of defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = Path()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return cfg, nil
}

func Save(cfg *Config, path string) error {
	if path == "" {
		path = Path()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// SourceProfile returns the profile for kind, erroring on sources the
// config does not declare.
func (c *Config) SourceProfile(kind string) (Source, error) {
	src, ok := c.Sources[kind]
	if !ok {
		return Source{}, fmt.Errorf("no source profile configured for %q", kind)
	}
	return src, nil
}
