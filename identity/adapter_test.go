package identity_test

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/identity/providerfake"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type testFixture struct {
	provider *providerfake.FakeProvider
	adapter  *identity.Adapter
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	provider := providerfake.NewFakeProvider()
	adapter, err := identity.NewAdapter(provider)
	require.NoError(t, err)
	return &testFixture{provider: provider, adapter: adapter}
}

func TestNewAdapterRequiresProvider(t *testing.T) {
	_, err := identity.NewAdapter(nil)
	require.Error(t, err)
}

func TestRequestCode(t *testing.T) {
	ctx := context.Background()

	t.Run("existing identity", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.AddIdentity("guest@example.com", "Guest")

		challenge, err := f.adapter.RequestCode(ctx, "  Guest@Example.com ")
		require.NoError(t, err)
		require.NotEmpty(t, challenge.Session)
		require.Equal(t, "guest@example.com", challenge.Identifier)
		require.Equal(t, 0, f.provider.Calls(providerfake.OpProvisionIdentity))
	})

	t.Run("unknown identity is provisioned and retried once", func(t *testing.T) {
		f := setupTestFixture(t)

		challenge, err := f.adapter.RequestCode(ctx, "new@guest.com")
		require.NoError(t, err)
		require.NotNil(t, challenge)
		require.True(t, f.provider.HasIdentity("new@guest.com"))
		require.Equal(t, 1, f.provider.Calls(providerfake.OpProvisionIdentity))
		require.Equal(t, 2, f.provider.Calls(providerfake.OpRequestCode))
	})

	t.Run("provisioning failure is classified", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.InjectError(providerfake.OpProvisionIdentity, stderrors.New("connection reset"))

		_, err := f.adapter.RequestCode(ctx, "new@guest.com")
		require.Equal(t, errors.KindNetworkUnavailable, errors.KindOf(err))
		require.Equal(t, 1, f.provider.Calls(providerfake.OpRequestCode))
	})

	t.Run("invalid identifier never reaches the provider", func(t *testing.T) {
		f := setupTestFixture(t)
		for _, identifier := range []string{"", "not-an-email", "a@b", "Name <a@b.com>", "a@.com"} {
			_, err := f.adapter.RequestCode(ctx, identifier)
			require.Equal(t, errors.KindInvalidInput, errors.KindOf(err), identifier)
		}
		require.Equal(t, 0, f.provider.Calls(providerfake.OpRequestCode))
	})
}

func TestConfirmCode(t *testing.T) {
	ctx := context.Background()

	t.Run("correct code", func(t *testing.T) {
		f := setupTestFixture(t)
		id := f.provider.AddIdentity("guest@example.com", "Guest")
		challenge, err := f.adapter.RequestCode(ctx, "guest@example.com")
		require.NoError(t, err)
		code, ok := f.provider.LastCode("guest@example.com")
		require.True(t, ok)

		verification, err := f.adapter.ConfirmCode(ctx, "guest@example.com", code, challenge)
		require.NoError(t, err)
		require.Equal(t, id.Subject, verification.Identity.Subject)
		require.NotEmpty(t, verification.Token.AccessToken)
		require.NotEmpty(t, verification.Token.Extra("id_token"))
	})

	t.Run("wrong code", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.AddIdentity("guest@example.com", "")
		challenge, err := f.adapter.RequestCode(ctx, "guest@example.com")
		require.NoError(t, err)
		code, _ := f.provider.LastCode("guest@example.com")

		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		_, err = f.adapter.ConfirmCode(ctx, "guest@example.com", wrong, challenge)
		require.True(t, errors.Is(err, errors.ErrCodeMismatch))
	})

	t.Run("malformed code", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.adapter.ConfirmCode(ctx, "guest@example.com", "12a456", &identity.Challenge{Session: "s"})
		require.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
		require.Equal(t, 0, f.provider.Calls(providerfake.OpConfirmCode))
	})

	t.Run("missing challenge", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.adapter.ConfirmCode(ctx, "guest@example.com", "123456", nil)
		require.True(t, errors.Is(err, errors.ErrSessionExpired))
	})
}

func TestSignOut(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.adapter.SignOut(context.Background(), &oauth2.Token{AccessToken: "abc"}))
	require.True(t, f.provider.IsRevoked("abc"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errors.Kind
	}{
		{"user not found", identity.NewProviderError("UserNotFoundException", 400, "x"), errors.KindIdentityNotFound},
		{"vendor prefixed code", identity.NewProviderError("aws.idp#CodeMismatchException", 400, "x"), errors.KindCodeMismatch},
		{"expired code", identity.NewProviderError(identity.CodeExpiredCode, 400, "x"), errors.KindCodeExpired},
		{"limit exceeded", identity.NewProviderError(identity.CodeLimitExceeded, 400, "x"), errors.KindRateLimited},
		{"status 429", identity.NewProviderError("throttled", http.StatusTooManyRequests, "x"), errors.KindRateLimited},
		{"invalid parameter", identity.NewProviderError(identity.CodeInvalidParameter, 400, "x"), errors.KindInvalidCredentialFormat},
		{"not authorized", identity.NewProviderError(identity.CodeNotAuthorized, 401, "x"), errors.KindSessionExpired},
		{"unknown provider code", identity.NewProviderError("something_new", 500, "x"), errors.KindNetworkUnavailable},
		{"transport failure", context.DeadlineExceeded, errors.KindNetworkUnavailable},
		{"already classified", errors.New(errors.KindAlreadyProcessed, "done"), errors.KindAlreadyProcessed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, identity.Classify(tt.err).Kind)
		})
	}
	require.Nil(t, identity.Classify(nil))
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	f.provider.AddIdentity("guest@example.com", "")

	authz, err := f.adapter.StartAuthorization(ctx, "guest@example.com", "http://localhost/auth/callback")
	require.NoError(t, err)
	require.Contains(t, authz.AuthorizationURL, "session_id="+authz.SessionID)

	_, err = f.adapter.CompleteAuthorization(ctx, authz.SessionURI, "other@example.com")
	require.True(t, errors.Is(err, errors.ErrSessionExpired))

	token, err := f.adapter.CompleteAuthorization(ctx, authz.SessionURI, "guest@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)

	_, err = f.adapter.CompleteAuthorization(ctx, authz.SessionURI, "guest@example.com")
	require.Error(t, err)
}
