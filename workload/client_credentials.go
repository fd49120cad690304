package workload

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/clientcredentials"
)

// subjectParam names the token endpoint parameter carrying the delegated end user.
const subjectParam = "subject"

// ClientCredentialsSource issues workload credentials with the OAuth2
// client-credentials grant. Delegated credentials pass the end user as an
// extra endpoint parameter.
type ClientCredentialsSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

var _ Source = (*ClientCredentialsSource)(nil)

func (s *ClientCredentialsSource) Fetch(ctx context.Context, subject string) (*Credential, error) {
	cfg := clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     s.TokenURL,
		Scopes:       s.Scopes,
	}
	if subject != "" {
		cfg.EndpointParams = url.Values{subjectParam: {subject}}
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[ClientCredentialsSource.Fetch] token request")
	}
	return &Credential{
		Token:            tok.AccessToken,
		ExpiresAt:        tok.Expiry,
		DelegatedSubject: subject,
	}, nil
}
