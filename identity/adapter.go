package identity

import (
	"context"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/internal/metrics"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Adapter wraps a Provider and classifies every failure it returns.
type Adapter struct {
	provider Provider
	logger   zerolog.Logger
}

type AdapterOption func(*Adapter)

func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func NewAdapter(provider Provider, options ...AdapterOption) (*Adapter, error) {
	if provider == nil {
		return nil, pkgerrors.New("[identity.NewAdapter] provider is required")
	}
	a := &Adapter{
		provider: provider,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

// RequestCode asks the provider to send a code to identifier. An unknown
// identity is provisioned and the request retried once; callers never see the
// intermediate IdentityNotFound.
func (a *Adapter) RequestCode(ctx context.Context, identifier string) (*Challenge, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	identifier = NormalizeIdentifier(identifier)

	challenge, err := a.provider.RequestCode(ctx, identifier)
	if err == nil {
		return challenge, nil
	}
	classified := a.classify("request_code", err)
	if classified.Kind != errors.KindIdentityNotFound {
		return nil, classified
	}

	// A sign-in attempt for an unknown guest silently becomes an account creation.
	if err := a.provider.ProvisionIdentity(ctx, identifier); err != nil {
		return nil, a.classify("provision_identity", err)
	}
	metrics.AutoProvisioned.Inc()
	a.logger.Info().Msg("identity provisioned during code request")

	challenge, err = a.provider.RequestCode(ctx, identifier)
	if err != nil {
		return nil, a.classify("request_code", err)
	}
	return challenge, nil
}

// ConfirmCode verifies code against the challenge issued for identifier.
func (a *Adapter) ConfirmCode(ctx context.Context, identifier, code string, challenge *Challenge) (*Verification, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	if challenge == nil || challenge.Session == "" {
		return nil, errors.New(errors.KindSessionExpired, msgSessionExpired)
	}
	verification, err := a.provider.ConfirmCode(ctx, NormalizeIdentifier(identifier), code, challenge)
	if err != nil {
		return nil, a.classify("confirm_code", err)
	}
	return verification, nil
}

// SignOut is best effort; the classified error is returned for logging only.
func (a *Adapter) SignOut(ctx context.Context, token *oauth2.Token) error {
	if err := a.provider.SignOut(ctx, token); err != nil {
		return a.classify("sign_out", err)
	}
	return nil
}

// StartAuthorization opens a redirect based authorization session for identifier.
func (a *Adapter) StartAuthorization(ctx context.Context, identifier, redirectURI string) (*Authorization, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	authz, err := a.provider.StartAuthorization(ctx, NormalizeIdentifier(identifier), redirectURI)
	if err != nil {
		return nil, a.classify("start_authorization", err)
	}
	return authz, nil
}

// CompleteAuthorization materializes the tokens for a bound authorization session.
func (a *Adapter) CompleteAuthorization(ctx context.Context, sessionURI, identifier string) (*oauth2.Token, error) {
	token, err := a.provider.CompleteAuthorization(ctx, sessionURI, NormalizeIdentifier(identifier))
	if err != nil {
		return nil, a.classify("complete_authorization", err)
	}
	return token, nil
}

func (a *Adapter) classify(operation string, err error) *errors.Error {
	classified := Classify(err)
	metrics.ProviderErrors.WithLabelValues(operation, classified.Kind.String()).Inc()
	a.logger.Debug().Err(err).
		Str("operation", operation).
		Stringer("kind", classified.Kind).
		Msg("identity provider call failed")
	return classified
}
