package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsKind(t *testing.T) {
	err := Wrap(ErrNotMatured, "releaseAt=%s", "2026-01-01")

	assert.True(t, errors.Is(err, ErrNotMatured))
	assert.False(t, errors.Is(err, ErrAlreadyReleased))
	assert.Equal(t, KindNotMatured, KindOf(err))
	assert.Contains(t, err.Error(), "releaseAt=2026-01-01")
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("扣款失败: %w", ErrInsufficientFunds)

	assert.Equal(t, KindInsufficientFunds, KindOf(err))
	assert.True(t, IsKind(err, KindInsufficientFunds))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := WithCause(ErrConflict, cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrConflict))
}
