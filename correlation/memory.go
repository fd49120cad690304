package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/patrickmn/go-cache"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps records in a go-cache without a janitor. Expiry is
// judged against the caller's clock and records leave the cache only through
// Sweep, which also prunes the guest index. Transitions are serialised by a
// mutex.
type MemoryBackend struct {
	mu      sync.Mutex
	records *cache.Cache
	latest  map[string]string // guest identifier to newest session id
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: cache.New(cache.NoExpiration, 0),
		latest:  make(map[string]string),
	}
}

func (b *MemoryBackend) Insert(ctx context.Context, rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.loadLocked(rec.SessionID, rec.CreatedAt); ok {
		return errors.ErrAlreadyExists
	}
	b.records.Set(rec.SessionID, rec.clone(), cache.NoExpiration)
	b.latest[rec.GuestIdentifier] = rec.SessionID
	return nil
}

func (b *MemoryBackend) Load(ctx context.Context, sessionID string, now time.Time) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.loadLocked(sessionID, now)
	if !ok {
		return nil, errors.ErrNotFound
	}
	return rec.clone(), nil
}

func (b *MemoryBackend) loadLocked(sessionID string, now time.Time) (*Record, bool) {
	v, ok := b.records.Get(sessionID)
	if !ok {
		return nil, false
	}
	rec := v.(*Record)
	if rec.Expired(now) {
		return nil, false
	}
	return rec, true
}

func (b *MemoryBackend) Transition(ctx context.Context, sessionID string, status Status, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.loadLocked(sessionID, now)
	if !ok || rec.Status != StatusPending {
		return false, nil
	}
	rec.Status = status
	rec.UpdatedAt = now
	return true, nil
}

func (b *MemoryBackend) FindRecentPending(ctx context.Context, guest string, since, now time.Time) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessionID, ok := b.latest[guest]
	if !ok {
		return nil, errors.ErrNotFound
	}
	rec, ok := b.loadLocked(sessionID, now)
	if !ok {
		delete(b.latest, guest)
		return nil, errors.ErrNotFound
	}
	if rec.Status != StatusPending || rec.CreatedAt.Before(since) {
		return nil, errors.ErrNotFound
	}
	return rec.clone(), nil
}

func (b *MemoryBackend) Sweep(ctx context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for sessionID, item := range b.records.Items() {
		rec := item.Object.(*Record)
		if !rec.Expired(now) {
			continue
		}
		b.records.Delete(sessionID)
		if b.latest[rec.GuestIdentifier] == sessionID {
			delete(b.latest, rec.GuestIdentifier)
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of stored records and indexed guests, expired or not.
func (b *MemoryBackend) Len() (records, guests int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records.ItemCount(), len(b.latest)
}
