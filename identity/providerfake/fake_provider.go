// Package providerfake is an in-process identity provider. It backs the
// identity adapter in tests and when the service runs with PROVIDER_MODE=local.
package providerfake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

var _ identity.Provider = (*FakeProvider)(nil)

// Operation names a provider call for error injection.
type Operation string

const (
	OpRequestCode           Operation = "request_code"
	OpConfirmCode           Operation = "confirm_code"
	OpSignOut               Operation = "sign_out"
	OpProvisionIdentity     Operation = "provision_identity"
	OpStartAuthorization    Operation = "start_authorization"
	OpCompleteAuthorization Operation = "complete_authorization"
)

// CodeSender delivers a freshly generated code out-of-band.
type CodeSender interface {
	SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error
}

type challenge struct {
	identifier string
	codeHash   []byte
	expiresAt  time.Time
	attempts   int
}

type authorization struct {
	sessionID  string
	identifier string
	expiresAt  time.Time
	used       bool
}

type FakeProvider struct {
	lock sync.Mutex

	identities     map[string]identity.Identity // identifier -> identity
	challenges     map[string]*challenge        // challenge session -> challenge
	authorizations map[string]*authorization    // session uri -> authorization
	requests       map[string][]time.Time       // identifier -> recent code requests
	revoked        map[string]struct{}          // revoked access tokens
	lastCodes      map[string]string            // identifier -> last code sent
	injected       map[Operation][]error
	calls          map[Operation]int

	issuer        string
	audience      string
	signingKey    []byte
	codeValidity  time.Duration
	authzValidity time.Duration
	maxAttempts   int
	requestLimit  int
	requestWindow time.Duration
	tokenExpiry   time.Duration
	sender        CodeSender
	nowFunc       func() time.Time
}

type Option func(*FakeProvider)

func WithNowFunc(now func() time.Time) Option {
	return func(p *FakeProvider) {
		p.nowFunc = now
	}
}

func WithCodeValidity(validity time.Duration) Option {
	return func(p *FakeProvider) {
		p.codeValidity = validity
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(p *FakeProvider) {
		p.maxAttempts = attempts
	}
}

// WithRequestLimit caps code requests per identifier within window.
func WithRequestLimit(limit int, window time.Duration) Option {
	return func(p *FakeProvider) {
		p.requestLimit = limit
		p.requestWindow = window
	}
}

func WithCodeSender(sender CodeSender) Option {
	return func(p *FakeProvider) {
		p.sender = sender
	}
}

func WithIssuer(issuer, audience string) Option {
	return func(p *FakeProvider) {
		p.issuer = issuer
		p.audience = audience
	}
}

func WithSigningKey(key []byte) Option {
	return func(p *FakeProvider) {
		p.signingKey = key
	}
}

func NewFakeProvider(options ...Option) *FakeProvider {
	p := &FakeProvider{
		identities:     make(map[string]identity.Identity),
		challenges:     make(map[string]*challenge),
		authorizations: make(map[string]*authorization),
		requests:       make(map[string][]time.Time),
		revoked:        make(map[string]struct{}),
		lastCodes:      make(map[string]string),
		injected:       make(map[Operation][]error),
		calls:          make(map[Operation]int),
		issuer:         "http://localhost:8080/local-idp",
		audience:       "guest-auth",
		codeValidity:   5 * time.Minute,
		authzValidity:  10 * time.Minute,
		maxAttempts:    3,
		requestLimit:   5,
		requestWindow:  15 * time.Minute,
		tokenExpiry:    time.Hour,
		nowFunc:        time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	if len(p.signingKey) == 0 {
		p.signingKey = make([]byte, 32)
		_, _ = rand.Read(p.signingKey)
	}
	return p
}

// AddIdentity registers an existing identity and returns it.
func (p *FakeProvider) AddIdentity(identifier, name string) identity.Identity {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.addIdentityLocked(identifier, name)
}

func (p *FakeProvider) addIdentityLocked(identifier, name string) identity.Identity {
	if existing, ok := p.identities[identifier]; ok {
		return existing
	}
	id := identity.Identity{Subject: uuid.New().String(), Email: identifier, Name: name}
	p.identities[identifier] = id
	return id
}

// HasIdentity reports whether identifier has been registered or provisioned.
func (p *FakeProvider) HasIdentity(identifier string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, ok := p.identities[identifier]
	return ok
}

// LastCode returns the last code generated for identifier.
func (p *FakeProvider) LastCode(identifier string) (string, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	code, ok := p.lastCodes[identifier]
	return code, ok
}

// InjectError makes the next call of op fail with err. Errors queue in order.
func (p *FakeProvider) InjectError(op Operation, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.injected[op] = append(p.injected[op], err)
}

// Calls returns how many times op has been invoked.
func (p *FakeProvider) Calls(op Operation) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.calls[op]
}

// IsRevoked reports whether an access token was signed out.
func (p *FakeProvider) IsRevoked(accessToken string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, ok := p.revoked[accessToken]
	return ok
}

// enter records the call and pops an injected error. Callers hold the lock.
func (p *FakeProvider) enter(op Operation) error {
	p.calls[op]++
	queue := p.injected[op]
	if len(queue) == 0 {
		return nil
	}
	p.injected[op] = queue[1:]
	return queue[0]
}

func (p *FakeProvider) RequestCode(ctx context.Context, identifier string) (*identity.Challenge, error) {
	p.lock.Lock()
	if err := p.enter(OpRequestCode); err != nil {
		p.lock.Unlock()
		return nil, err
	}
	if _, ok := p.identities[identifier]; !ok {
		p.lock.Unlock()
		return nil, identity.NewProviderError(identity.CodeUserNotFound, http.StatusNotFound, "user does not exist")
	}

	now := p.nowFunc()
	if !p.allowRequestLocked(identifier, now) {
		p.lock.Unlock()
		return nil, identity.NewProviderError(identity.CodeTooManyRequests, http.StatusTooManyRequests, "code request limit exceeded")
	}

	code, err := GenerateCode()
	if err != nil {
		p.lock.Unlock()
		return nil, errors.Wrap(err, "[FakeProvider.RequestCode] GenerateCode")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		p.lock.Unlock()
		return nil, errors.Wrap(err, "[FakeProvider.RequestCode] bcrypt")
	}

	session := uuid.New().String()
	expiresAt := now.Add(p.codeValidity)
	p.challenges[session] = &challenge{identifier: identifier, codeHash: hash, expiresAt: expiresAt}
	p.lastCodes[identifier] = code
	sender := p.sender
	p.lock.Unlock()

	if sender != nil {
		if err := sender.SendCode(ctx, identifier, code, expiresAt); err != nil {
			return nil, errors.Wrap(err, "[FakeProvider.RequestCode] SendCode")
		}
	}
	return &identity.Challenge{Session: session, Identifier: identifier, IssuedAt: now}, nil
}

func (p *FakeProvider) allowRequestLocked(identifier string, now time.Time) bool {
	if p.requestLimit <= 0 {
		return true
	}
	cutoff := now.Add(-p.requestWindow)
	recent := p.requests[identifier][:0]
	for _, at := range p.requests[identifier] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= p.requestLimit {
		p.requests[identifier] = recent
		return false
	}
	p.requests[identifier] = append(recent, now)
	return true
}

func (p *FakeProvider) ConfirmCode(ctx context.Context, identifier, code string, ch *identity.Challenge) (*identity.Verification, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := p.enter(OpConfirmCode); err != nil {
		return nil, err
	}
	stored, ok := p.challenges[ch.Session]
	if !ok || stored.identifier != identifier {
		return nil, identity.NewProviderError(identity.CodeInvalidSession, http.StatusBadRequest, "invalid session for the user")
	}
	if stored.attempts >= p.maxAttempts {
		delete(p.challenges, ch.Session)
		return nil, identity.NewProviderError(identity.CodeLimitExceeded, http.StatusBadRequest, "attempt limit exceeded")
	}
	if !p.nowFunc().Before(stored.expiresAt) {
		return nil, identity.NewProviderError(identity.CodeExpiredCode, http.StatusBadRequest, "code expired")
	}
	if bcrypt.CompareHashAndPassword(stored.codeHash, []byte(code)) != nil {
		stored.attempts++
		return nil, identity.NewProviderError(identity.CodeCodeMismatch, http.StatusBadRequest, "invalid code provided")
	}

	delete(p.challenges, ch.Session)
	id := p.identities[identifier]
	token, err := p.mintTokensLocked(id)
	if err != nil {
		return nil, err
	}
	return &identity.Verification{Identity: id, Token: token}, nil
}

func (p *FakeProvider) SignOut(ctx context.Context, token *oauth2.Token) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := p.enter(OpSignOut); err != nil {
		return err
	}
	if token == nil || token.AccessToken == "" {
		return identity.NewProviderError(identity.CodeNotAuthorized, http.StatusUnauthorized, "missing access token")
	}
	p.revoked[token.AccessToken] = struct{}{}
	return nil
}

func (p *FakeProvider) ProvisionIdentity(ctx context.Context, identifier string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := p.enter(OpProvisionIdentity); err != nil {
		return err
	}
	p.addIdentityLocked(identifier, "")
	return nil
}

// StartAuthorization auto-approves: the authorization URL is the redirect URI
// itself with the session id attached.
func (p *FakeProvider) StartAuthorization(ctx context.Context, identifier, redirectURI string) (*identity.Authorization, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := p.enter(OpStartAuthorization); err != nil {
		return nil, err
	}
	if _, ok := p.identities[identifier]; !ok {
		return nil, identity.NewProviderError(identity.CodeUserNotFound, http.StatusNotFound, "user does not exist")
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		return nil, identity.NewProviderError(identity.CodeInvalidParameter, http.StatusBadRequest, "invalid redirect uri")
	}

	sessionID := randomToken(24)
	sessionURI := "urn:local-idp:authorization:" + sessionID
	expiresAt := p.nowFunc().Add(p.authzValidity)
	p.authorizations[sessionURI] = &authorization{sessionID: sessionID, identifier: identifier, expiresAt: expiresAt}

	q := target.Query()
	q.Set("session_id", sessionID)
	target.RawQuery = q.Encode()
	return &identity.Authorization{
		SessionID:        sessionID,
		SessionURI:       sessionURI,
		AuthorizationURL: target.String(),
		ExpiresAt:        expiresAt,
	}, nil
}

// SessionURI returns the provider handle for a session id handed out by StartAuthorization.
func (p *FakeProvider) SessionURI(sessionID string) string {
	return "urn:local-idp:authorization:" + sessionID
}

func (p *FakeProvider) CompleteAuthorization(ctx context.Context, sessionURI, identifier string) (*oauth2.Token, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := p.enter(OpCompleteAuthorization); err != nil {
		return nil, err
	}
	authz, ok := p.authorizations[sessionURI]
	if !ok || authz.used || !p.nowFunc().Before(authz.expiresAt) {
		return nil, identity.NewProviderError(identity.CodeSessionExpired, http.StatusBadRequest, "authorization session expired")
	}
	if authz.identifier != identifier {
		return nil, identity.NewProviderError(identity.CodeNotAuthorized, http.StatusForbidden, "identity does not match authorization session")
	}
	authz.used = true
	return p.mintTokensLocked(p.identities[identifier])
}

func (p *FakeProvider) mintTokensLocked(id identity.Identity) (*oauth2.Token, error) {
	now := p.nowFunc()
	expiry := now.Add(p.tokenExpiry)

	idToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"iss":   p.issuer,
		"sub":   id.Subject,
		"aud":   p.audience,
		"email": id.Email,
		"name":  id.Name,
		"iat":   now.Unix(),
		"exp":   expiry.Unix(),
		"jti":   uuid.New().String(),
	}).SignedString(p.signingKey)
	if err != nil {
		return nil, errors.Wrap(err, "[FakeProvider] sign id token")
	}
	accessToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"iss": p.issuer,
		"sub": id.Subject,
		"aud": p.audience,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
		"jti": uuid.New().String(),
	}).SignedString(p.signingKey)
	if err != nil {
		return nil, errors.Wrap(err, "[FakeProvider] sign access token")
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: randomToken(32),
		Expiry:       expiry,
	}
	return token.WithExtra(map[string]any{"id_token": idToken}), nil
}

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
