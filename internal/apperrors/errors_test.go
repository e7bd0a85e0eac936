package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBasicProperties(t *testing.T) {
	err := New(KindPrecondition, "test message")

	assert.Equal(t, KindPrecondition, err.Kind)
	assert.Equal(t, "test message", err.Message)
	assert.Empty(t, err.Details)
	assert.Nil(t, err.Cause)
}

func TestErrorString(t *testing.T) {
	err := New(KindPrecondition, "test message")
	assert.Equal(t, "precondition: test message", err.Error())
}

func TestErrorStringWithDetails(t *testing.T) {
	err := New(KindPrecondition, "test message").WithDetails("extra info")
	assert.Equal(t, "precondition: test message (extra info)", err.Error())
}

func TestWrap(t *testing.T) {
	original := errors.New("disk full")
	wrapped := Wrap(original, KindInvariant, "state write failed")

	assert.Equal(t, KindInvariant, wrapped.Kind)
	assert.Equal(t, "state write failed", wrapped.Message)
	assert.Equal(t, original, wrapped.Cause)
	assert.Equal(t, original, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := errors.New("connection refused")
	wrapped := Wrapf(original, KindExternal, "builder invocation for %s failed", "feat-1")

	assert.Equal(t, "builder invocation for feat-1 failed", wrapped.Message)
	assert.Equal(t, original, wrapped.Cause)
}

func TestWithDetailsfModifiesInPlace(t *testing.T) {
	err := New(KindBudget, "daily cap exceeded")
	detailed := err.WithDetailsf("cap=%d spent=%d", 100, 150)

	assert.Same(t, err, detailed)
	assert.Equal(t, "cap=100 spent=150", detailed.Details)
}

func TestRetryablePolicy(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
	}{
		{KindPrecondition, false},
		{KindContention, true},
		{KindInvariant, false},
		{KindBudget, false},
		{KindExternal, true},
		{KindUnrecoverable, false},
	}

	for _, tc := range cases {
		err := New(tc.kind, "x")
		assert.Equalf(t, tc.retryable, err.Retryable(), "kind=%s", tc.kind)
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := New(KindContention, "lock busy")
	outer := errors.Join(errors.New("context"), inner)

	kind, ok := KindOf(outer)
	assert.True(t, ok)
	assert.Equal(t, KindContention, kind)
}

func TestKindOfReturnsFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	err := New(KindContention, "lock busy on feature-7")
	sentinel := New(KindContention, "")

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(KindBudget, "")))
}
