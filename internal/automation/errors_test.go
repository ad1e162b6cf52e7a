package automation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("no such selector")
	err := fmt.Errorf("filling: %w", E(KindElementNotFound, "fill", cause))

	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindElementNotFound, KindOf(err))
}

func TestEUsesSentinelWhenCauseMissing(t *testing.T) {
	err := E(KindSurfaceLoadTimeout, "open", nil)

	assert.ErrorIs(t, err, ErrSurfaceLoadTimeout)
	assert.Contains(t, err.Error(), "open")
}

func TestKindOfPlainSentinel(t *testing.T) {
	assert.Equal(t, KindNoBudgetSet, KindOf(fmt.Errorf("validate: %w", ErrNoBudgetSet)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestSoft(t *testing.T) {
	assert.True(t, Soft(E(KindMaxPagesReached, "", nil)))
	assert.True(t, Soft(ErrDomainSkipped))
	assert.False(t, Soft(ErrOracleUnavailable))
}
