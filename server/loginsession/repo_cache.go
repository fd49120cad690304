package loginsession

import (
	"time"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/patrickmn/go-cache"
	pkgerrors "github.com/pkg/errors"
)

// CacheLoginSessionRepo keeps login sessions in process memory. Entries expire
// with the session.
type CacheLoginSessionRepo struct {
	sessions *cache.Cache
	nowFunc  func() time.Time
}

type Option func(*CacheLoginSessionRepo)

func WithNowFunc(now func() time.Time) Option {
	return func(r *CacheLoginSessionRepo) {
		r.nowFunc = now
	}
}

// NewCacheLoginSessionRepo creates a repo whose expired entries are purged every cleanupInterval.
func NewCacheLoginSessionRepo(cleanupInterval time.Duration, options ...Option) *CacheLoginSessionRepo {
	r := &CacheLoginSessionRepo{
		sessions: cache.New(cache.NoExpiration, cleanupInterval),
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Upsert creates or replaces a login session
func (r *CacheLoginSessionRepo) Upsert(sessionID string, session Session) error {
	if sessionID == "" {
		return pkgerrors.New("[CacheLoginSessionRepo.Upsert] sessionID is required")
	}
	ttl := cache.NoExpiration
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(r.nowFunc())
		if ttl <= 0 {
			r.sessions.Delete(sessionID)
			return nil
		}
	}
	r.sessions.Set(sessionID, session, ttl)
	return nil
}

// Get returns the live session for sessionID or errors.ErrNotFound.
func (r *CacheLoginSessionRepo) Get(sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, pkgerrors.New("[CacheLoginSessionRepo.Get] sessionID is required")
	}
	v, ok := r.sessions.Get(sessionID)
	if !ok {
		return Session{}, errors.ErrNotFound
	}
	session := v.(Session)
	if session.Expired(r.nowFunc()) {
		r.sessions.Delete(sessionID)
		return Session{}, errors.ErrNotFound
	}
	return session, nil
}

// Delete removes a login session
func (r *CacheLoginSessionRepo) Delete(sessionID string) error {
	if sessionID == "" {
		return pkgerrors.New("[CacheLoginSessionRepo.Delete] sessionID is required")
	}
	r.sessions.Delete(sessionID)
	return nil
}
