package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrappedErrorMatchesKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")
	err := fmt.Errorf("run job: %w", Wrap(EngineError, "whisper-cli", cause))

	require.ErrorIs(t, err, EngineError)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, Cancelled)
	require.Equal(t, EngineError, KindOf(err))
	require.Contains(t, err.Error(), "whisper-cli")
	require.Contains(t, err.Error(), "exit status 1")
}

func TestBareKindIsAnError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("start: %w", Busy)
	require.ErrorIs(t, err, Busy)
	require.Equal(t, Busy, KindOf(err))
}

func TestKindOfClassifiesContextCancellation(t *testing.T) {
	t.Parallel()

	require.Equal(t, Cancelled, KindOf(context.Canceled))
	require.True(t, IsCancelled(fmt.Errorf("read segments: %w", context.Canceled)))
	require.Equal(t, EngineError, KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapNilReturnsNil(t *testing.T) {
	t.Parallel()

	require.NoError(t, Wrap(CryptoError, "decrypt", nil))
}

func TestErrorMessageVariants(t *testing.T) {
	t.Parallel()

	require.Equal(t, "busy", New(Busy, "").Error())
	require.Equal(t, "invalid_input: source path is required", New(InvalidInput, "source path is required").Error())
	require.Equal(t, "crypto_error: bad padding", (&Error{Kind: CryptoError, Err: errors.New("bad padding")}).Error())
}
