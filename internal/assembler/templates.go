package assembler

import (
	"strings"
	"text/template"
)

// launcherScript starts the bundled Electron against the packaged
// app.asar, carrying host proxy settings and Wayland hints through to
// Chromium.
const launcherScript = `#!/bin/bash
APP_DIR="$(dirname "$(dirname "$(readlink -f "$0")")")"

# Force Electron to report as packaged app (enables proper resource paths)
export ELECTRON_FORCE_IS_PACKAGED=true

# Build proxy arguments for Electron/Chromium
PROXY_ARGS=""

PROXY_URL="${https_proxy:-${HTTPS_PROXY:-${http_proxy:-${HTTP_PROXY:-}}}}"
NO_PROXY_LIST="${no_proxy:-${NO_PROXY:-}}"

if [ -n "$PROXY_URL" ]; then
    PROXY_ARGS="--proxy-server=$PROXY_URL"

    if [ -n "$NO_PROXY_LIST" ]; then
        PROXY_ARGS="$PROXY_ARGS --proxy-bypass-list=$NO_PROXY_LIST"
    fi
fi

# xdg-desktop-portal < 1.8.0 mishandles openDirectory dialogs; forcing
# portal version 4 falls back to native GTK dialogs on old systems.
XDG_PORTAL_FIX=""
if command -v dpkg &> /dev/null; then
    PORTAL_VERSION=$(dpkg -s xdg-desktop-portal 2>/dev/null | grep "^Version:" | sed 's/Version: //' | cut -d'-' -f1)
    if [ -n "$PORTAL_VERSION" ]; then
        REQUIRED_VERSION="1.8.0"
        if [ "$(printf '%s\n' "$REQUIRED_VERSION" "$PORTAL_VERSION" | sort -V | head -n1)" != "$REQUIRED_VERSION" ]; then
            XDG_PORTAL_FIX="--xdg-portal-required-version=4"
        fi
    fi
fi

exec "$APP_DIR/lib/{{.AppName}}/node_modules/electron/dist/electron" \
    "$APP_DIR/lib/{{.AppName}}/app.asar" \
    ${WAYLAND_DISPLAY:+--ozone-platform-hint=auto --enable-features=WaylandWindowDecorations} \
    $XDG_PORTAL_FIX \
    $PROXY_ARGS "$@"
`

const desktopEntry = `[Desktop Entry]
Name={{.DisplayName}}
Comment={{.Description}}
Exec={{.AppName}} %u
Icon={{.AppName}}
Type=Application
Categories=Office;Utility;
Terminal=false
MimeTypes=x-scheme-handler/{{.Scheme}};
`

const debControl = `Package: {{.Name}}
Version: {{.Version}}
Architecture: {{.Architecture}}
Maintainer: {{.Maintainer}}
{{- if .Depends}}
Depends: {{join .Depends ", "}}
{{- end}}
Description: {{.Description}} (from {{.Source}} source)
 {{.Description}},
 repackaged for Linux systems with Electron bundled.
`

const rpmSpec = `Name: {{.Name}}
Version: {{.Version}}
Release: 1
Summary: {{.Description}}
License: Proprietary
BuildArch: {{.RPMArch}}
AutoReqProv: no

%description
{{.Description}} (from {{.Source}} source), repackaged for Linux
systems with Electron bundled.

%install
mkdir -p %{buildroot}/usr
cp -a {{.StagedRoot}}/. %{buildroot}/usr/

%files
/usr/*
`

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

var (
	launcherTmpl = template.Must(template.New("launcher").Parse(launcherScript))
	desktopTmpl  = template.Must(template.New("desktop").Parse(desktopEntry))
	controlTmpl  = template.Must(template.New("control").Funcs(templateFuncs).Parse(debControl))
	specTmpl     = template.Must(template.New("spec").Parse(rpmSpec))
)
