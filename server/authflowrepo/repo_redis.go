package authflowrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	guesterrors "github.com/jrsteele09/go-guest-auth/internal/errors"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "guestauth:flow:"

// RedisRepo shares flow state between instances, so a callback may land on
// any of them.
type RedisRepo struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRepo(client redis.UniversalClient, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRepo{client: client, prefix: prefix}
}

func (r *RedisRepo) Upsert(ctx context.Context, sessionID string, state *AuthFlowState) error {
	if sessionID == "" {
		return errors.New("session id cannot be empty")
	}
	if state == nil {
		return errors.New("state cannot be nil")
	}
	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		return errors.New("state is already expired")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(err, "[RedisRepo.Upsert] marshal")
	}
	if err := r.client.Set(ctx, r.prefix+sessionID, raw, ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, "[RedisRepo.Upsert] Set")
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, sessionID string) (*AuthFlowState, error) {
	if sessionID == "" {
		return nil, errors.New("session id cannot be empty")
	}
	raw, err := r.client.Get(ctx, r.prefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, guesterrors.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[RedisRepo.Get] Get")
	}
	var state AuthFlowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, pkgerrors.Wrap(err, "[RedisRepo.Get] unmarshal")
	}
	return &state, nil
}

func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id cannot be empty")
	}
	if err := r.client.Del(ctx, r.prefix+sessionID).Err(); err != nil {
		return pkgerrors.Wrap(err, "[RedisRepo.Delete] Del")
	}
	return nil
}
