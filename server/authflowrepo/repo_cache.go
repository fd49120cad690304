package authflowrepo

import (
	"context"
	"errors"
	"time"

	guesterrors "github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/patrickmn/go-cache"
)

// CacheRepo keeps flow state in process memory. It is enough for a single
// instance deployment.
type CacheRepo struct {
	states  *cache.Cache
	nowFunc func() time.Time
}

func NewCacheRepo(cleanupInterval time.Duration) *CacheRepo {
	return &CacheRepo{
		states:  cache.New(cache.NoExpiration, cleanupInterval),
		nowFunc: time.Now,
	}
}

// Upsert stores or replaces the flow state for sessionID
func (r *CacheRepo) Upsert(ctx context.Context, sessionID string, state *AuthFlowState) error {
	if sessionID == "" {
		return errors.New("session id cannot be empty")
	}
	if state == nil {
		return errors.New("state cannot be nil")
	}
	ttl := state.ExpiresAt.Sub(r.nowFunc())
	if ttl <= 0 {
		return errors.New("state is already expired")
	}
	c := *state
	r.states.Set(sessionID, &c, ttl)
	return nil
}

// Get returns a copy of the flow state or errors.ErrNotFound
func (r *CacheRepo) Get(ctx context.Context, sessionID string) (*AuthFlowState, error) {
	if sessionID == "" {
		return nil, errors.New("session id cannot be empty")
	}
	v, ok := r.states.Get(sessionID)
	if !ok {
		return nil, guesterrors.ErrNotFound
	}
	c := *v.(*AuthFlowState)
	return &c, nil
}

// Delete removes the flow state
func (r *CacheRepo) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id cannot be empty")
	}
	r.states.Delete(sessionID)
	return nil
}
