package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := errors.New(errors.KindCodeMismatch, "invalid code")
		require.Equal(t, errors.KindCodeMismatch, errors.KindOf(err))
	})

	t.Run("wrapped classified error", func(t *testing.T) {
		err := fmt.Errorf("confirm: %w", errors.Classified(errors.KindRateLimited, "slow down", stderrors.New("429")))
		require.Equal(t, errors.KindRateLimited, errors.KindOf(err))
	})

	t.Run("plain error", func(t *testing.T) {
		require.Equal(t, errors.KindUnknown, errors.KindOf(stderrors.New("boom")))
	})

	t.Run("nil", func(t *testing.T) {
		require.Equal(t, errors.KindUnknown, errors.KindOf(nil))
	})
}

func TestSentinelsMatchByKind(t *testing.T) {
	err := errors.Wrapf(errors.Classified(errors.KindSessionExpired, "session expired", nil), "[Store.Complete] %s", "abc")
	require.True(t, errors.Is(err, errors.ErrSessionExpired))
	require.False(t, errors.Is(err, errors.ErrAlreadyProcessed))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "IdentityMismatch", errors.KindIdentityMismatch.String())
	require.Equal(t, "Kind(99)", errors.Kind(99).String())
	require.True(t, errors.KindNetworkUnavailable.Retryable())
	require.False(t, errors.KindCodeExpired.Retryable())
}

func TestWrapfNil(t *testing.T) {
	require.NoError(t, errors.Wrapf(nil, "nothing"))
}
