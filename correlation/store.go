package correlation

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/internal/metrics"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	msgSessionExpired   = "session expired"
	msgAlreadyProcessed = "session already processed"
	msgIdentityMismatch = "identity does not match the session"
)

type Store struct {
	backend     Backend
	ttl         time.Duration
	dedupWindow time.Duration
	nowFunc     func() time.Time
	logger      zerolog.Logger
}

type StoreOption func(*Store)

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithDedupWindow sets how long a pending record is reused for repeated
// initiations by the same guest. Zero disables reuse.
func WithDedupWindow(window time.Duration) StoreOption {
	return func(s *Store) {
		s.dedupWindow = window
	}
}

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(backend Backend, options ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, pkgerrors.New("[correlation.NewStore] backend is required")
	}
	s := &Store{
		backend:     backend,
		ttl:         DefaultTTL,
		dedupWindow: DefaultDedupWindow,
		nowFunc:     time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.ttl <= 0 {
		return nil, pkgerrors.New("[correlation.NewStore] ttl must be positive")
	}
	return s, nil
}

// Create inserts a pending record. When the same guest created a pending
// record within the dedup window that record is returned instead and created
// is false. The window is a best-effort check: concurrent creates may both
// insert.
func (s *Store) Create(ctx context.Context, sessionID, conversationID, guestIdentifier string) (rec *Record, created bool, err error) {
	sessionID = strings.TrimSpace(sessionID)
	guest := identity.NormalizeIdentifier(guestIdentifier)
	if sessionID == "" {
		return nil, false, errors.New(errors.KindInvalidInput, "session id is required")
	}
	if guest == "" {
		return nil, false, errors.New(errors.KindInvalidInput, "guest identifier is required")
	}

	now := s.nowFunc()
	if s.dedupWindow > 0 {
		existing, err := s.backend.FindRecentPending(ctx, guest, now.Add(-s.dedupWindow), now)
		switch {
		case err == nil:
			metrics.CorrelationCreated.WithLabelValues("reused").Inc()
			s.logger.Debug().Str("session_id", existing.SessionID).Msg("reusing recent pending correlation")
			return existing, false, nil
		case !errors.Is(err, errors.ErrNotFound):
			return nil, false, pkgerrors.Wrap(err, "[Store.Create] FindRecentPending")
		}
	}

	rec = &Record{
		SessionID:       sessionID,
		ConversationID:  conversationID,
		GuestIdentifier: guest,
		Status:          StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
		UpdatedAt:       now,
	}
	if err := s.backend.Insert(ctx, rec); err != nil {
		if !errors.Is(err, errors.ErrAlreadyExists) {
			return nil, false, pkgerrors.Wrap(err, "[Store.Create] Insert")
		}
		existing, loadErr := s.backend.Load(ctx, sessionID, now)
		if loadErr == nil && existing.GuestIdentifier == guest {
			metrics.CorrelationCreated.WithLabelValues("reused").Inc()
			return existing, false, nil
		}
		return nil, false, errors.Wrapf(err, "[Store.Create] session %s", sessionID)
	}
	metrics.CorrelationCreated.WithLabelValues("created").Inc()
	return rec, true, nil
}

// TTL is the lifetime given to new records.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the live record for sessionID. Expired records are reported as
// errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	rec, err := s.backend.Load(ctx, sessionID, s.nowFunc())
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete marks the record completed when candidate matches the guest that
// created it. A mismatch burns the record so it cannot be completed later.
func (s *Store) Complete(ctx context.Context, sessionID, candidate string) (*Record, error) {
	now := s.nowFunc()
	rec, err := s.backend.Load(ctx, sessionID, now)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, s.outcome("expired", errors.New(errors.KindSessionExpired, msgSessionExpired))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Store.Complete] Load")
	}
	if rec.Status != StatusPending {
		return nil, s.outcome("already_processed", errors.New(errors.KindAlreadyProcessed, msgAlreadyProcessed))
	}

	if candidate = identity.NormalizeIdentifier(candidate); candidate == "" || candidate != rec.GuestIdentifier {
		if _, err := s.backend.Transition(ctx, sessionID, StatusFailed, now); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to burn mismatched correlation")
		}
		s.logger.Warn().Str("session_id", sessionID).Msg("callback identity mismatch")
		return nil, s.outcome("mismatch", errors.New(errors.KindIdentityMismatch, msgIdentityMismatch))
	}

	applied, err := s.backend.Transition(ctx, sessionID, StatusCompleted, now)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Store.Complete] Transition")
	}
	if !applied {
		return nil, s.lostRace(ctx, sessionID, now)
	}
	rec.Status = StatusCompleted
	rec.UpdatedAt = now
	metrics.CorrelationCompletions.WithLabelValues("completed").Inc()
	return rec, nil
}

// Fail marks a pending record failed, for callbacks that reported a provider error.
func (s *Store) Fail(ctx context.Context, sessionID string) error {
	now := s.nowFunc()
	applied, err := s.backend.Transition(ctx, sessionID, StatusFailed, now)
	if err != nil {
		return pkgerrors.Wrap(err, "[Store.Fail] Transition")
	}
	if !applied {
		return s.lostRace(ctx, sessionID, now)
	}
	metrics.CorrelationCompletions.WithLabelValues("failed").Inc()
	return nil
}

// Sweep removes expired records.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	removed, err := s.backend.Sweep(ctx, s.nowFunc())
	if err != nil {
		return 0, pkgerrors.Wrap(err, "[Store.Sweep]")
	}
	metrics.CorrelationSwept.Add(float64(removed))
	return removed, nil
}

// lostRace explains a rejected transition by re-reading the record.
func (s *Store) lostRace(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.backend.Load(ctx, sessionID, now)
	if errors.Is(err, errors.ErrNotFound) {
		return s.outcome("expired", errors.New(errors.KindSessionExpired, msgSessionExpired))
	}
	if err != nil {
		return pkgerrors.Wrap(err, "[Store] Load")
	}
	return s.outcome("already_processed", errors.New(errors.KindAlreadyProcessed, msgAlreadyProcessed))
}

func (s *Store) outcome(label string, err error) error {
	metrics.CorrelationCompletions.WithLabelValues(label).Inc()
	return err
}
