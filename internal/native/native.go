// Package native compiles the replacement OS-integration binding the
// patched application loads instead of the vendor's platform module.
// The binding project ships with this repository and declares the
// runtime ABI it targets; the build refuses to compile against a
// mismatched runtime because an ABI mismatch corrupts silently at load
// time instead of crashing here.
package native

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/execx"
	"github.com/portelect/portelect/internal/fsutil"
)

type Builder struct {
	projectDir string
	workDir    string
	npmTimeout time.Duration
	log        zerolog.Logger
}

func NewBuilder(projectDir, workDir string, npmTimeout time.Duration, log zerolog.Logger) *Builder {
	return &Builder{
		projectDir: projectDir,
		workDir:    workDir,
		npmTimeout: npmTimeout,
		log:        log,
	}
}

// projectManifest is the binding project's package.json subset.
type projectManifest struct {
	Name   string `json:"name"`
	Config struct {
		// RuntimeABI pins the Electron ABI the binding is built
		// for, e.g. "electron-v1".
		RuntimeABI string `json:"runtimeAbi"`
	} `json:"config"`
}

// ABITag derives the tag a runtime version expects of its bindings.
func ABITag(runtime domain.Version) string {
	return fmt.Sprintf("electron-v%d", runtime.Major())
}

// Build copies the pinned binding project into the work directory,
// compiles it with npm and returns the emitted .node module. A clean
// exit with no output file is still a build failure.
func (b *Builder) Build(ctx context.Context, runtime domain.Version) (string, error) {
	if err := b.verifyABI(runtime); err != nil {
		return "", err
	}

	buildDir := filepath.Join(b.workDir, "native-module")
	if err := os.RemoveAll(buildDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return "", err
	}
	if err := fsutil.CopyDir(b.projectDir, buildDir); err != nil {
		return "", domain.NewStageError("binding", domain.ErrBindingBuild, "",
			fmt.Errorf("staging binding project: %w", err))
	}

	b.log.Info().Str("abi", ABITag(runtime)).Msg("building native binding")

	for _, step := range [][]string{
		{"npm", "install"},
		{"npm", "run", "build"},
	} {
		out, err := execx.Run(ctx, execx.Cmd{
			Name:    step[0],
			Args:    step[1:],
			Dir:     buildDir,
			Timeout: b.npmTimeout,
		})
		if err != nil {
			return "", domain.NewStageError("binding", domain.ErrBindingBuild, string(out), err)
		}
	}

	modules, _ := filepath.Glob(filepath.Join(buildDir, "*.node"))
	if len(modules) == 0 {
		return "", domain.NewStageError("binding", domain.ErrBindingBuild, "",
			fmt.Errorf("compile succeeded but no .node module was emitted"))
	}

	return modules[0], nil
}

// verifyABI asserts the project's declared ABI tag matches the one the
// detected runtime expects. A project without a declared tag is also
// rejected: the pairing must be explicit.
func (b *Builder) verifyABI(runtime domain.Version) error {
	data, err := os.ReadFile(filepath.Join(b.projectDir, "package.json"))
	if err != nil {
		return domain.NewStageError("binding", domain.ErrBindingBuild, "",
			fmt.Errorf("binding project not found at %s: %w", b.projectDir, err))
	}

	var m projectManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.NewStageError("binding", domain.ErrBindingBuild, "",
			fmt.Errorf("parsing binding manifest: %w", err))
	}

	declared := m.Config.RuntimeABI
	expected := ABITag(runtime)
	if declared == "" {
		return domain.NewStageError("binding", domain.ErrBindingBuild, "",
			fmt.Errorf("binding manifest declares no runtimeAbi; expected %s", expected))
	}
	if declared != expected {
		return domain.NewStageError("binding", domain.ErrBindingBuild, "",
			fmt.Errorf("binding targets %s but runtime %s expects %s", declared, runtime, expected))
	}

	return nil
}
