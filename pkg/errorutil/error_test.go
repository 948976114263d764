package errorutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindedErr struct {
	kind      Kind
	retryable bool
}

func (e *kindedErr) Error() string   { return "kinded" }
func (e *kindedErr) Kind() Kind      { return e.kind }
func (e *kindedErr) Retryable() bool { return e.retryable }

func TestWrapPlainErrorIsRetryableInternal(t *testing.T) {
	e := Wrap(errors.New("boom"))
	require.NotNil(t, e)
	assert.Equal(t, KindInternal, e.Kind)
	assert.True(t, e.Retryable)
	assert.Equal(t, "boom", e.Error())
}

func TestWrapKeepsExistingError(t *testing.T) {
	orig := NonRetriable(KindProtocol, "bad body")
	wrapped := fmt.Errorf("resolve: %w", orig)

	assert.Same(t, orig, Wrap(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, KindProtocol, KindOf(wrapped))
}

func TestWrapKindedError(t *testing.T) {
	e := Wrap(&kindedErr{kind: KindNetwork, retryable: true})
	assert.Equal(t, KindNetwork, e.Kind)
	assert.True(t, e.Retryable)
	assert.Equal(t, 500, e.Code)

	var k *kindedErr
	assert.True(t, errors.As(e, &k))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil))
	assert.False(t, IsRetryable(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestValidation(t *testing.T) {
	e := Validation("amount %s out of range", "9.99")
	assert.Equal(t, KindValidation, e.Kind)
	assert.Equal(t, "amount 9.99 out of range", e.Message)
	assert.False(t, e.Retryable)
}
