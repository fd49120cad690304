package correlation_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-guest-auth/correlation"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testFixture struct {
	store   *correlation.Store
	backend correlation.Backend
	clock   *clock
}

type backendFactory func(t *testing.T) correlation.Backend

func setupTestFixture(t *testing.T, newBackend backendFactory, options ...correlation.StoreOption) *testFixture {
	t.Helper()
	f := &testFixture{
		backend: newBackend(t),
		clock:   &clock{now: time.Now().UTC().Truncate(time.Millisecond)},
	}
	options = append([]correlation.StoreOption{correlation.WithNowFunc(f.clock.Now)}, options...)
	store, err := correlation.NewStore(f.backend, options...)
	require.NoError(t, err)
	f.store = store
	return f
}

func newSessionID() string {
	return "sess-" + uuid.NewString()
}

func newGuest() string {
	return uuid.NewString()[:8] + "@example.com"
}

// runStoreSuite exercises Store against a backend. sweeps is false for
// backends that expire records on their own.
func runStoreSuite(t *testing.T, newBackend backendFactory, sweeps bool) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()

		rec, created, err := f.store.Create(ctx, sessionID, "conv-1", "  "+guest)
		require.NoError(t, err)
		require.True(t, created)
		require.Equal(t, correlation.StatusPending, rec.Status)
		require.Equal(t, guest, rec.GuestIdentifier)
		require.True(t, rec.ExpiresAt.Equal(f.clock.Now().Add(10*time.Minute)))

		got, err := f.store.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Equal(t, "conv-1", got.ConversationID)
		require.Equal(t, correlation.StatusPending, got.Status)
	})

	t.Run("create validates input", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		_, _, err := f.store.Create(ctx, "", "conv", newGuest())
		require.True(t, errors.Is(err, errors.ErrInvalidInput))
		_, _, err = f.store.Create(ctx, newSessionID(), "conv", " ")
		require.True(t, errors.Is(err, errors.ErrInvalidInput))
	})

	t.Run("recent pending record is reused for the same guest", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		guest := newGuest()
		first, _, err := f.store.Create(ctx, newSessionID(), "conv-1", guest)
		require.NoError(t, err)

		f.clock.Advance(10 * time.Second)
		second, created, err := f.store.Create(ctx, newSessionID(), "conv-2", guest)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, first.SessionID, second.SessionID)

		other, created, err := f.store.Create(ctx, newSessionID(), "conv-3", newGuest())
		require.NoError(t, err)
		require.True(t, created)
		require.NotEqual(t, first.SessionID, other.SessionID)

		f.clock.Advance(21 * time.Second)
		third, created, err := f.store.Create(ctx, newSessionID(), "conv-4", guest)
		require.NoError(t, err)
		require.True(t, created)
		require.NotEqual(t, first.SessionID, third.SessionID)
	})

	t.Run("completed record is not reused", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		guest := newGuest()
		first, _, err := f.store.Create(ctx, newSessionID(), "conv-1", guest)
		require.NoError(t, err)
		_, err = f.store.Complete(ctx, first.SessionID, guest)
		require.NoError(t, err)

		second, created, err := f.store.Create(ctx, newSessionID(), "conv-2", guest)
		require.NoError(t, err)
		require.True(t, created)
		require.NotEqual(t, first.SessionID, second.SessionID)
	})

	t.Run("duplicate session id", func(t *testing.T) {
		f := setupTestFixture(t, newBackend, correlation.WithDedupWindow(0))
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)

		rec, created, err := f.store.Create(ctx, sessionID, "conv-2", guest)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, "conv-1", rec.ConversationID)

		_, _, err = f.store.Create(ctx, sessionID, "conv-3", newGuest())
		require.True(t, errors.Is(err, errors.ErrAlreadyExists))
	})

	t.Run("complete then replay", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)

		rec, err := f.store.Complete(ctx, sessionID, guest)
		require.NoError(t, err)
		require.Equal(t, correlation.StatusCompleted, rec.Status)
		require.Equal(t, "conv-1", rec.ConversationID)

		_, err = f.store.Complete(ctx, sessionID, guest)
		require.True(t, errors.Is(err, errors.ErrAlreadyProcessed))
	})

	t.Run("identity mismatch burns the record", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)

		_, err = f.store.Complete(ctx, sessionID, "attacker@example.com")
		require.True(t, errors.Is(err, errors.ErrIdentityMismatch))

		_, err = f.store.Complete(ctx, sessionID, guest)
		require.True(t, errors.Is(err, errors.ErrAlreadyProcessed))

		rec, err := f.store.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Equal(t, correlation.StatusFailed, rec.Status)
	})

	t.Run("empty candidate is a mismatch", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID := newSessionID()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", newGuest())
		require.NoError(t, err)
		_, err = f.store.Complete(ctx, sessionID, "")
		require.True(t, errors.Is(err, errors.ErrIdentityMismatch))
	})

	t.Run("identifier comparison is normalised", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)
		_, err = f.store.Complete(ctx, sessionID, " "+strings.ToUpper(guest))
		require.NoError(t, err)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		_, err := f.store.Complete(ctx, newSessionID(), newGuest())
		require.True(t, errors.Is(err, errors.ErrSessionExpired))
		_, err = f.store.Get(ctx, newSessionID())
		require.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("expired record is absent", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)

		f.clock.Advance(10 * time.Minute)
		_, err = f.store.Get(ctx, sessionID)
		require.True(t, errors.Is(err, errors.ErrNotFound))
		_, err = f.store.Complete(ctx, sessionID, guest)
		require.True(t, errors.Is(err, errors.ErrSessionExpired))
		require.True(t, errors.Is(f.store.Fail(ctx, sessionID), errors.ErrSessionExpired))
	})

	t.Run("fail", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)

		require.NoError(t, f.store.Fail(ctx, sessionID))
		require.True(t, errors.Is(f.store.Fail(ctx, sessionID), errors.ErrAlreadyProcessed))
		_, err = f.store.Complete(ctx, sessionID, guest)
		require.True(t, errors.Is(err, errors.ErrAlreadyProcessed))
	})

	t.Run("concurrent completions have one winner", func(t *testing.T) {
		f := setupTestFixture(t, newBackend)
		sessionID, guest := newSessionID(), newGuest()
		_, _, err := f.store.Create(ctx, sessionID, "conv-1", guest)
		require.NoError(t, err)

		const callers = 16
		results := make(chan error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.store.Complete(ctx, sessionID, guest)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			require.True(t, errors.Is(err, errors.ErrAlreadyProcessed), err.Error())
		}
		require.Equal(t, 1, wins)
	})

	if sweeps {
		t.Run("sweep removes expired records", func(t *testing.T) {
			f := setupTestFixture(t, newBackend)
			expiring := newSessionID()
			_, _, err := f.store.Create(ctx, expiring, "conv-1", newGuest())
			require.NoError(t, err)

			f.clock.Advance(6 * time.Minute)
			live := newSessionID()
			_, _, err = f.store.Create(ctx, live, "conv-2", newGuest())
			require.NoError(t, err)

			f.clock.Advance(5 * time.Minute)
			removed, err := f.store.Sweep(ctx)
			require.NoError(t, err)
			require.GreaterOrEqual(t, removed, 1)

			_, err = f.store.Get(ctx, live)
			require.NoError(t, err)
		})
	}
}
