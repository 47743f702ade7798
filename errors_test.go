package catnip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("connect", CodeBadArg, "invalid remote port")

	require.Equal(t, "connect", err.Op)
	require.Equal(t, CodeBadArg, err.Code)
	require.Equal(t, "catnip: invalid remote port (op=connect)", err.Error())
}

func TestQueueError(t *testing.T) {
	err := NewQueueError("push", 7, CodeBadState, "qtoken already closed")

	require.EqualValues(t, 7, err.QD)
	require.Equal(t, "catnip: qtoken already closed (op=push)", err.Error())
}

func TestWrapErrorPreservesCause(t *testing.T) {
	inner := errors.New("connection reset by peer")
	wrapped := WrapError("pop", CodeConnectionReset, inner)

	require.Equal(t, CodeConnectionReset, wrapped.Code)
	require.ErrorIs(t, wrapped, inner)

	rewrapped := WrapError("wait", CodeTimeout, wrapped)
	require.Equal(t, CodeTimeout, rewrapped.Code)
	require.ErrorIs(t, rewrapped, inner)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("push", CodeBadState, nil))
}

func TestIsMatchesOnCodeOnly(t *testing.T) {
	a := NewError("connect", CodeTimeout, "syn retries exhausted")
	b := NewError("wait", CodeTimeout, "different op and message")
	c := NewError("connect", CodeRefused, "")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestIsCode(t *testing.T) {
	err := NewError("wait", CodeTimeout, "deadline elapsed")

	require.True(t, IsCode(err, CodeTimeout))
	require.False(t, IsCode(err, CodeBadArg))
	require.False(t, IsCode(nil, CodeTimeout))
}

func TestIsCodeThroughWrappedError(t *testing.T) {
	inner := errors.New("no route")
	wrapped := WrapError("connect", CodeUnreachable, inner)
	fullyWrapped := errors.Join(wrapped)

	require.True(t, IsCode(fullyWrapped, CodeUnreachable))
}
