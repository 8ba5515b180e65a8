package patcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/portelect/portelect/internal/config"
	"github.com/portelect/portelect/internal/domain"
	"github.com/portelect/portelect/internal/fsutil"
)

// bindingRule installs the compiled binding into every configured
// slot. A missing slot inside the app is a hard failure: it means the
// vendor reshaped the bundle and the tree no longer matches the
// normalization contract. The unpacked sibling gets the same
// replacement when it carries the slot.
type bindingRule struct {
	slots    []string
	fileName string
}

func NewBindingRule(cfg config.Binding) Rule {
	return &bindingRule{slots: cfg.Slots, fileName: cfg.FileName}
}

func (r *bindingRule) Name() string { return "replace-binding" }

func (r *bindingRule) Apply(_ context.Context, t *Tree, _ *Report) error {
	for _, slot := range r.slots {
		dir := filepath.Join(t.AppDir, filepath.FromSlash(slot))
		if _, err := os.Stat(dir); err != nil {
			return domain.NewStageError("patch", domain.ErrBindingInstall, "",
				fmt.Errorf("binding slot %s not present in app bundle", slot))
		}
		if err := fsutil.CopyFile(t.BindingPath, filepath.Join(dir, r.fileName), 0644); err != nil {
			return domain.NewStageError("patch", domain.ErrBindingInstall, "", err)
		}

		if t.UnpackedDir == "" {
			continue
		}
		udir := filepath.Join(t.UnpackedDir, filepath.FromSlash(slot))
		if _, err := os.Stat(udir); err != nil {
			continue
		}
		if err := fsutil.CopyFile(t.BindingPath, filepath.Join(udir, r.fileName), 0644); err != nil {
			return domain.NewStageError("patch", domain.ErrBindingInstall, "", err)
		}
	}

	return nil
}

// Stub module planted where the macOS-only Swift addon lived. The
// application requires the module unconditionally, so it must exist
// and answer every call with a harmless no-op.
const swiftStubIndex = `const EventEmitter = require("events");

class SwiftAddonStub extends EventEmitter {
  constructor() { super(); }
  helloWorldClaudeSwift(input = "") { return ""; }
  toggleOverlayVisible() {}
  showOverlay() {}
  hideOverlay() {}
  showDictation(mode) {}
  toggleDictation(mode) {}
  hideDictationAndPotentiallySubmit() {}
  setRecentChats(chats) {}
  setActiveChatId(chatId) {}
  setLoggedIn(loggedIn) {}
  setDictationInfo(baseURL, cookieHeader, languageCode) {}
  getOpenDocuments() { return []; }
  getOpenWindows() { return []; }
  captureWindowScreenshot(windowId) { return Promise.resolve(null); }
}

module.exports = new SwiftAddonStub();
`

const swiftStubManifest = `{
  "name": "@ant/claude-swift",
  "version": "1.0.0",
  "description": "Linux stub for macOS Swift addon",
  "main": "index.js",
  "private": true
}
`

// swiftStubRule replaces the macOS Swift addon with the stub and drops
// the host-prebuilt node-pty from the unpacked tree (a Linux build is
// installed with the runtime instead).
type swiftStubRule struct {
	slot string
}

func NewSwiftStubRule(slot string) Rule {
	return &swiftStubRule{slot: slot}
}

func (r *swiftStubRule) Name() string { return "swift-stub" }

func (r *swiftStubRule) Apply(_ context.Context, t *Tree, _ *Report) error {
	dir := filepath.Join(t.AppDir, filepath.FromSlash(r.slot))
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "js"), 0755); err != nil {
		return err
	}

	files := map[string]string{
		"index.js":     swiftStubIndex,
		"package.json": swiftStubManifest,
		filepath.Join("js", "index.js"): swiftStubIndex,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return err
		}
	}

	if t.UnpackedDir != "" {
		if err := os.RemoveAll(filepath.Join(t.UnpackedDir, filepath.FromSlash(r.slot))); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(t.UnpackedDir, "node_modules", "node-pty")); err != nil {
			return err
		}
	}

	return nil
}

// assetsRule copies the tray icons and i18n catalogs from the bundle
// resources into the app so they resolve under the packaged layout.
type assetsRule struct{}

func NewAssetsRule() Rule { return assetsRule{} }

func (assetsRule) Name() string { return "bundle-assets" }

func (assetsRule) Apply(_ context.Context, t *Tree, _ *Report) error {
	appResources := filepath.Join(t.AppDir, "resources")
	i18nDir := filepath.Join(appResources, "i18n")
	if err := os.MkdirAll(i18nDir, 0755); err != nil {
		return err
	}

	trays, _ := filepath.Glob(filepath.Join(t.ResourcesDir, "Tray*"))
	for _, tray := range trays {
		if err := fsutil.CopyFile(tray, filepath.Join(appResources, filepath.Base(tray)), 0644); err != nil {
			return err
		}
	}

	catalogs, _ := filepath.Glob(filepath.Join(t.ResourcesDir, "*.json"))
	for _, catalog := range catalogs {
		if filepath.Base(catalog) == "build-props.json" {
			continue
		}
		if err := fsutil.CopyFile(catalog, filepath.Join(i18nDir, filepath.Base(catalog)), 0644); err != nil {
			return err
		}
	}

	return nil
}

// rewriteRule performs one exact-substring replacement in a bundled
// script. Whole-file regexes are deliberately avoided: an exact marker
// either matches or it does not, and cannot corrupt unrelated content.
// Finding the new string already in place makes the rule a no-op,
// which is what keeps re-application byte-stable.
type rewriteRule struct {
	cfg config.Rewrite
}

func NewRewriteRule(cfg config.Rewrite) Rule {
	return &rewriteRule{cfg: cfg}
}

func (r *rewriteRule) Name() string { return "rewrite-" + r.cfg.Name }

func (r *rewriteRule) Apply(_ context.Context, t *Tree, rep *Report) error {
	matches, err := filepath.Glob(filepath.Join(t.AppDir, filepath.FromSlash(r.cfg.FileGlob)))
	if err != nil {
		return fmt.Errorf("bad file glob %q: %w", r.cfg.FileGlob, err)
	}
	if len(matches) != 1 {
		return r.miss(rep, fmt.Sprintf("expected 1 file matching %s, found %d", r.cfg.FileGlob, len(matches)))
	}

	target := matches[0]
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	content := string(data)

	if strings.Contains(content, r.cfg.New) {
		// Already applied by a previous run.
		return nil
	}
	if !strings.Contains(content, r.cfg.Old) {
		return r.miss(rep, fmt.Sprintf("marker not found in %s", filepath.Base(target)))
	}

	content = strings.ReplaceAll(content, r.cfg.Old, r.cfg.New)
	return os.WriteFile(target, []byte(content), info.Mode())
}

// miss handles a missing marker per the rule's policy: vendor text
// drift on an optional rewrite must not fail an otherwise-valid build.
func (r *rewriteRule) miss(rep *Report, msg string) error {
	if r.cfg.Optional {
		rep.Warnf("rewrite %s skipped: %s", r.cfg.Name, msg)
		return nil
	}
	return fmt.Errorf("rewrite %s: %s", r.cfg.Name, msg)
}
