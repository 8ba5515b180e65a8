package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Every pipeline failure wraps exactly one of
// these (or none, for untyped wiring failures) inside a StageError so
// callers can branch with errors.Is without string matching.
var (
	ErrResolution        = errors.New("version resolution failed")
	ErrIntegrity         = errors.New("artifact integrity check failed")
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrMetadataMissing   = errors.New("bundle metadata missing")
	ErrBindingBuild      = errors.New("binding build failed")
	ErrBindingInstall    = errors.New("binding install failed")
	ErrPackaging         = errors.New("packaging failed")
)

// StageError carries the failing stage name and any diagnostic output
// captured from an external process. Kind is one of the sentinels
// above; Err is the underlying cause and may be nil.
type StageError struct {
	Stage      string
	Kind       error
	Diagnostic string
	Err        error
}

func NewStageError(stage string, kind error, diagnostic string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Diagnostic: diagnostic, Err: err}
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %s", e.Stage)
	if e.Kind != nil {
		fmt.Fprintf(&b, ": %s", e.Kind)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	if d := strings.TrimSpace(e.Diagnostic); d != "" {
		fmt.Fprintf(&b, "\n%s", d)
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel kind so errors.Is(err, ErrIntegrity) works
// even when Err wraps something else.
func (e *StageError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}
