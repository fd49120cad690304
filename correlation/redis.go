package correlation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

const defaultRedisPrefix = "guestauth:corr:"

// RedisBackend stores each record as JSON under a key that expires with the
// record. Transitions are WATCH/MULTI optimistic transactions.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) recordKey(sessionID string) string {
	return b.prefix + "session:" + sessionID
}

func (b *RedisBackend) guestKey(guest string) string {
	return b.prefix + "guest:" + guest
}

func (b *RedisBackend) Insert(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return pkgerrors.Wrap(err, "[RedisBackend.Insert] marshal")
	}
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)

	ok, err := b.client.SetNX(ctx, b.recordKey(rec.SessionID), payload, ttl).Result()
	if err != nil {
		return pkgerrors.Wrap(err, "[RedisBackend.Insert] SetNX")
	}
	if !ok {
		return errors.ErrAlreadyExists
	}
	if err := b.client.Set(ctx, b.guestKey(rec.GuestIdentifier), rec.SessionID, ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, "[RedisBackend.Insert] guest index")
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context, sessionID string, now time.Time) (*Record, error) {
	return b.load(ctx, b.client, sessionID, now)
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *RedisBackend) load(ctx context.Context, c getter, sessionID string, now time.Time) (*Record, error) {
	payload, err := c.Get(ctx, b.recordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[RedisBackend.load] Get")
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, pkgerrors.Wrap(err, "[RedisBackend.load] unmarshal")
	}
	if rec.Expired(now) {
		return nil, errors.ErrNotFound
	}
	return &rec, nil
}

func (b *RedisBackend) Transition(ctx context.Context, sessionID string, status Status, now time.Time) (bool, error) {
	key := b.recordKey(sessionID)
	applied := false

	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := b.load(ctx, tx, sessionID, now)
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != StatusPending {
			return nil
		}
		rec.Status = status
		rec.UpdatedAt = now
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Another transition committed first.
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "[RedisBackend.Transition]")
	}
	return applied, nil
}

func (b *RedisBackend) FindRecentPending(ctx context.Context, guest string, since, now time.Time) (*Record, error) {
	sessionID, err := b.client.Get(ctx, b.guestKey(guest)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[RedisBackend.FindRecentPending] Get")
	}
	rec, err := b.Load(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending || rec.CreatedAt.Before(since) {
		return nil, errors.ErrNotFound
	}
	return rec, nil
}

// Sweep is a no-op; redis expires keys itself.
func (b *RedisBackend) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
