// Package identity wraps the external identity provider behind a small
// adapter. The adapter is the only place provider failures are classified into
// the guest authentication error taxonomy.
package identity

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Identity is a verified identity as reported by the provider.
type Identity struct {
	Subject string `json:"sub"`   // provider's stable subject identifier
	Email   string `json:"email"` // the identifier that was verified
	Name    string `json:"name,omitempty"`
}

// Challenge correlates a code request with its matching confirmation.
type Challenge struct {
	Session    string    // opaque challenge session issued by the provider
	Identifier string    // identifier the code was sent to
	IssuedAt   time.Time // when the code was requested
}

// Verification is the result of a successful code confirmation.
type Verification struct {
	Identity Identity
	Token    *oauth2.Token // access, refresh and (in Extra) id_token
}

// Authorization is a redirect based authorization session issued by the provider.
type Authorization struct {
	SessionID        string    // opaque session identifier, echoed back on the callback
	SessionURI       string    // provider handle used to complete the session
	AuthorizationURL string    // where the guest is sent to sign in
	ExpiresAt        time.Time // zero when the provider does not say
}

// Provider is the raw external identity provider. Implementations return
// provider specific errors (*ProviderError, transport errors); callers go
// through Adapter, which classifies them.
type Provider interface {
	RequestCode(ctx context.Context, identifier string) (*Challenge, error)
	ConfirmCode(ctx context.Context, identifier, code string, challenge *Challenge) (*Verification, error)
	SignOut(ctx context.Context, token *oauth2.Token) error

	// ProvisionIdentity is an administrative call made with the workload credential.
	ProvisionIdentity(ctx context.Context, identifier string) error

	StartAuthorization(ctx context.Context, identifier, redirectURI string) (*Authorization, error)
	CompleteAuthorization(ctx context.Context, sessionURI, identifier string) (*oauth2.Token, error)
}
