package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/portelect/portelect/internal/domain"
)

func TestStageErrorMatchesKind(t *testing.T) {
	cause := fmt.Errorf("7z exited with code 1")
	err := domain.NewStageError("extract", domain.ErrExtractionFailed, "cannot open archive", cause)

	assert.True(t, errors.Is(err, domain.ErrExtractionFailed))
	assert.False(t, errors.Is(err, domain.ErrExtractionTimeout))
	assert.ErrorIs(t, err, cause)
}

func TestStageErrorMessage(t *testing.T) {
	err := domain.NewStageError("fetch", domain.ErrIntegrity, "", fmt.Errorf("expected abc, got def"))
	msg := err.Error()

	assert.Contains(t, msg, "stage fetch")
	assert.Contains(t, msg, "integrity")
	assert.Contains(t, msg, "expected abc, got def")
}

func TestStageErrorDiagnosticAppended(t *testing.T) {
	err := domain.NewStageError("extract", domain.ErrExtractionFailed, "ERROR: bad header", nil)
	assert.Contains(t, err.Error(), "ERROR: bad header")
}

func TestStageErrorWrappedDeep(t *testing.T) {
	inner := domain.NewStageError("patch", domain.ErrBindingInstall, "", nil)
	outer := fmt.Errorf("rule replace-binding: %w", inner)

	assert.True(t, errors.Is(outer, domain.ErrBindingInstall))

	var se *domain.StageError
	assert.True(t, errors.As(outer, &se))
	assert.Equal(t, "patch", se.Stage)
}
