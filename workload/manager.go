// Package workload obtains and caches the service's own (non-user) credentials
// used for administrative identity provider calls.
package workload

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshSkew is how long before expiry a cached credential is replaced.
	DefaultRefreshSkew = 30 * time.Second
	// DefaultFetchTimeout bounds one shared credential fetch.
	DefaultFetchTimeout = 10 * time.Second
)

// Credential is a workload access token. It is never persisted.
type Credential struct {
	Token            string
	ExpiresAt        time.Time
	DelegatedSubject string // set when the credential is scoped to one end user
}

// Source issues fresh credentials. An empty subject requests the service credential.
type Source interface {
	Fetch(ctx context.Context, subject string) (*Credential, error)
}

type cacheKey struct {
	provider string
	subject  string
}

// Manager caches credentials per (provider, delegated subject).
type Manager struct {
	provider     string
	source       Source
	refreshSkew  time.Duration
	fetchTimeout time.Duration
	nowFunc      func() time.Time
	logger       zerolog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*Credential
	group singleflight.Group
}

type ManagerOption func(*Manager)

func WithRefreshSkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshSkew = skew
	}
}

// WithFetchTimeout bounds a credential fetch. The fetch is shared by every
// waiting caller, so it runs detached from any single caller's cancellation.
func WithFetchTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.fetchTimeout = timeout
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(provider string, source Source, options ...ManagerOption) (*Manager, error) {
	if provider == "" {
		return nil, errors.New("[workload.NewManager] provider is required")
	}
	if source == nil {
		return nil, errors.New("[workload.NewManager] source is required")
	}
	m := &Manager{
		provider:     provider,
		source:       source,
		refreshSkew:  DefaultRefreshSkew,
		fetchTimeout: DefaultFetchTimeout,
		nowFunc:      time.Now,
		logger:       zerolog.Nop(),
		cache:        make(map[cacheKey]*Credential),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Get returns the service's own credential.
func (m *Manager) Get(ctx context.Context) (*Credential, error) {
	return m.get(ctx, "")
}

// GetDelegated returns a credential scoped to subject. It is cached under its
// own key and never handed out for a different subject.
func (m *Manager) GetDelegated(ctx context.Context, subject string) (*Credential, error) {
	if subject == "" {
		return nil, errors.New("[Manager.GetDelegated] subject is required")
	}
	return m.get(ctx, subject)
}

func (m *Manager) get(ctx context.Context, subject string) (*Credential, error) {
	key := cacheKey{provider: m.provider, subject: subject}

	m.mu.RLock()
	cred, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && m.fresh(cred) {
		return cred, nil
	}

	v, err, _ := m.group.Do(m.provider+"\x00"+subject, func() (any, error) {
		// Another caller may have refreshed while we waited for the group.
		m.mu.RLock()
		cred, ok := m.cache[key]
		m.mu.RUnlock()
		if ok && m.fresh(cred) {
			return cred, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()
		fetched, err := m.source.Fetch(fetchCtx, subject)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.get] source.Fetch")
		}
		if fetched == nil || fetched.Token == "" {
			return nil, errors.New("[Manager.get] source returned an empty credential")
		}
		fetched.DelegatedSubject = subject

		m.mu.Lock()
		m.pruneLocked()
		m.cache[key] = fetched
		m.mu.Unlock()

		m.logger.Debug().
			Str("provider", m.provider).
			Bool("delegated", subject != "").
			Time("expires_at", fetched.ExpiresAt).
			Msg("workload credential refreshed")
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// fresh is false once now is inside the refresh skew of ExpiresAt.
// A zero ExpiresAt means the credential does not expire.
func (m *Manager) fresh(cred *Credential) bool {
	if cred.ExpiresAt.IsZero() {
		return true
	}
	return m.nowFunc().Add(m.refreshSkew).Before(cred.ExpiresAt)
}

// pruneLocked drops credentials that have already expired.
func (m *Manager) pruneLocked() {
	now := m.nowFunc()
	for key, cred := range m.cache {
		if !cred.ExpiresAt.IsZero() && !now.Before(cred.ExpiresAt) {
			delete(m.cache, key)
		}
	}
}

// Len returns the number of cached credentials.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// Invalidate drops a cached credential, e.g. after the provider rejected it.
func (m *Manager) Invalidate(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, cacheKey{provider: m.provider, subject: subject})
}

// TokenSource adapts the manager to oauth2 so it can drive an oauth2.Transport.
func (m *Manager) TokenSource(ctx context.Context, subject string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, manager: m, subject: subject}
}

type tokenSource struct {
	ctx     context.Context
	manager *Manager
	subject string
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.manager.get(ts.ctx, ts.subject)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.Token,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt,
	}, nil
}
