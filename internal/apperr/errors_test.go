package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("advance PRJ001: %w", Guard("Classification", "Support", "macro RED is not classified", "return to Classification", "owner"))
	require.ErrorIs(t, err, ErrGuardFailed)

	var ge *GuardError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "return to Classification", ge.Hint)
	assert.Equal(t, []string{"owner"}, ge.Missing)
	assert.Contains(t, err.Error(), "missing: owner")
}

func TestIncompleteCaseError(t *testing.T) {
	var err error = &IncompleteCaseError{CaseID: "c1", Missing: []string{"leader", "roadmap"}}
	assert.True(t, errors.Is(err, ErrIncompleteCase))
	assert.False(t, errors.Is(err, ErrGuardFailed))
	assert.Equal(t, "case c1 is incomplete: missing leader, roadmap", err.Error())
}

func TestHelpers(t *testing.T) {
	assert.ErrorIs(t, Invalid("investment must be > 0"), ErrInvalidInput)
	err := NotFound("project", "PRJ404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "project PRJ404: not found", err.Error())
}
