// Package remote talks to the hosted identity provider over its JSON HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

var _ identity.Provider = (*Provider)(nil)

const maxErrorBody = 64 << 10

// Credentials supplies workload bearer tokens for administrative calls.
// *workload.Manager satisfies it.
type Credentials interface {
	TokenSource(ctx context.Context, subject string) oauth2.TokenSource
	Invalidate(subject string)
}

// VerifyFunc verifies a raw ID token and returns the identity it asserts.
type VerifyFunc func(ctx context.Context, rawIDToken string) (identity.Identity, error)

type Config struct {
	BaseURL   string
	ClientID  string
	IssuerURL string
}

type Provider struct {
	baseURL     string
	clientID    string
	issuerURL   string
	httpClient  *http.Client
	credentials Credentials
	verify      VerifyFunc
	logger      zerolog.Logger

	oidcMu       sync.Mutex
	oidcVerifier *oidc.IDTokenVerifier
}

type Option func(*Provider)

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithVerifier replaces OIDC discovery based ID token verification.
func WithVerifier(verify VerifyFunc) Option {
	return func(p *Provider) {
		p.verify = verify
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func New(cfg Config, credentials Credentials, options ...Option) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("[remote.New] base url is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("[remote.New] client id is required")
	}
	if credentials == nil {
		return nil, errors.New("[remote.New] credentials are required")
	}
	p := &Provider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		clientID:    cfg.ClientID,
		issuerURL:   cfg.IssuerURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		credentials: credentials,
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.verify == nil {
		if p.issuerURL == "" {
			return nil, errors.New("[remote.New] issuer url is required")
		}
		p.verify = p.verifyWithOIDC
	}
	return p, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t tokenResponse) token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if t.IDToken != "" {
		token = token.WithExtra(map[string]any{"id_token": t.IDToken})
	}
	return token
}

func (p *Provider) RequestCode(ctx context.Context, identifier string) (*identity.Challenge, error) {
	var resp struct {
		Session string `json:"session"`
	}
	body := map[string]string{"client_id": p.clientID, "identifier": identifier}
	if err := p.do(ctx, p.httpClient, http.MethodPost, "/otp/request", body, &resp); err != nil {
		return nil, err
	}
	if resp.Session == "" {
		return nil, errors.New("[Provider.RequestCode] provider returned no challenge session")
	}
	return &identity.Challenge{Session: resp.Session, Identifier: identifier, IssuedAt: time.Now()}, nil
}

func (p *Provider) ConfirmCode(ctx context.Context, identifier, code string, challenge *identity.Challenge) (*identity.Verification, error) {
	var resp tokenResponse
	body := map[string]string{
		"client_id":  p.clientID,
		"identifier": identifier,
		"code":       code,
		"session":    challenge.Session,
	}
	if err := p.do(ctx, p.httpClient, http.MethodPost, "/otp/confirm", body, &resp); err != nil {
		return nil, err
	}
	if resp.IDToken == "" {
		return nil, errors.New("[Provider.ConfirmCode] provider returned no id_token")
	}
	id, err := p.verify(ctx, resp.IDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.ConfirmCode] verify id_token")
	}
	if id.Email == "" {
		id.Email = identifier
	}
	return &identity.Verification{Identity: id, Token: resp.token()}, nil
}

func (p *Provider) SignOut(ctx context.Context, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return nil
	}
	client := &http.Client{
		Timeout:   p.httpClient.Timeout,
		Transport: &oauth2.Transport{Source: oauth2.StaticTokenSource(token), Base: p.httpClient.Transport},
	}
	return p.do(ctx, client, http.MethodPost, "/sign-out", map[string]string{"client_id": p.clientID}, nil)
}

func (p *Provider) ProvisionIdentity(ctx context.Context, identifier string) error {
	body := map[string]string{"identifier": identifier}
	err := p.do(ctx, p.workloadClient(ctx, ""), http.MethodPost, "/admin/identities", body, nil)
	var perr *identity.ProviderError
	if errors.As(err, &perr) && perr.Status == http.StatusConflict {
		// Created concurrently by another request.
		return nil
	}
	p.invalidateOnUnauthorized("", err)
	return err
}

func (p *Provider) StartAuthorization(ctx context.Context, identifier, redirectURI string) (*identity.Authorization, error) {
	var resp struct {
		SessionID        string `json:"session_id"`
		SessionURI       string `json:"session_uri"`
		AuthorizationURL string `json:"authorization_url"`
		ExpiresIn        int64  `json:"expires_in"`
	}
	body := map[string]string{
		"client_id":    p.clientID,
		"identifier":   identifier,
		"redirect_uri": redirectURI,
	}
	if err := p.do(ctx, p.workloadClient(ctx, ""), http.MethodPost, "/authorizations", body, &resp); err != nil {
		p.invalidateOnUnauthorized("", err)
		return nil, err
	}
	if resp.SessionID == "" || resp.SessionURI == "" || resp.AuthorizationURL == "" {
		return nil, errors.New("[Provider.StartAuthorization] incomplete authorization session")
	}
	authz := &identity.Authorization{
		SessionID:        resp.SessionID,
		SessionURI:       resp.SessionURI,
		AuthorizationURL: resp.AuthorizationURL,
	}
	if resp.ExpiresIn > 0 {
		authz.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return authz, nil
}

// CompleteAuthorization is called with a credential delegated to identifier.
func (p *Provider) CompleteAuthorization(ctx context.Context, sessionURI, identifier string) (*oauth2.Token, error) {
	var resp tokenResponse
	body := map[string]string{"client_id": p.clientID, "session_uri": sessionURI}
	if err := p.do(ctx, p.workloadClient(ctx, identifier), http.MethodPost, "/authorizations/complete", body, &resp); err != nil {
		p.invalidateOnUnauthorized(identifier, err)
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("[Provider.CompleteAuthorization] provider returned no access_token")
	}
	return resp.token(), nil
}

func (p *Provider) workloadClient(ctx context.Context, subject string) *http.Client {
	return &http.Client{
		Timeout: p.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: p.credentials.TokenSource(ctx, subject),
			Base:   p.httpClient.Transport,
		},
	}
}

// invalidateOnUnauthorized drops a cached workload credential the provider rejected.
func (p *Provider) invalidateOnUnauthorized(subject string, err error) {
	var perr *identity.ProviderError
	if errors.As(err, &perr) && perr.Status == http.StatusUnauthorized {
		p.credentials.Invalidate(subject)
	}
}

func (p *Provider) do(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "[Provider] marshal %s", path)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "[Provider] build %s", path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[Provider] %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := parseProviderError(resp.StatusCode, raw)
		p.logger.Debug().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("code", perr.Code).
			Msg("identity provider returned an error")
		return perr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[Provider] decode %s", path)
	}
	return nil
}

// parseProviderError reads the error code from whichever field the provider used.
func parseProviderError(status int, raw []byte) *identity.ProviderError {
	code, message := "", ""
	if gjson.ValidBytes(raw) {
		result := gjson.GetManyBytes(raw, "error", "__type", "code", "error_description", "message")
		for _, r := range result[:3] {
			if r.Type == gjson.String && r.String() != "" {
				code = r.String()
				break
			}
		}
		for _, r := range result[3:] {
			if r.String() != "" {
				message = r.String()
				break
			}
		}
	}
	if message == "" {
		message = fmt.Sprintf("http status %d", status)
	}
	return identity.NewProviderError(code, status, message)
}

func (p *Provider) verifyWithOIDC(ctx context.Context, rawIDToken string) (identity.Identity, error) {
	verifier, err := p.verifier(ctx)
	if err != nil {
		return identity.Identity{}, err
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return identity.Identity{}, errors.Wrap(err, "[Provider.verifyWithOIDC] Verify")
	}
	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return identity.Identity{}, errors.Wrap(err, "[Provider.verifyWithOIDC] Claims")
	}
	return identity.Identity{Subject: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}

// verifier runs OIDC discovery on first use and keeps the result.
func (p *Provider) verifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	p.oidcMu.Lock()
	defer p.oidcMu.Unlock()
	if p.oidcVerifier != nil {
		return p.oidcVerifier, nil
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), p.issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[Provider.verifier] oidc discovery")
	}
	p.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: p.clientID})
	return p.oidcVerifier, nil
}
