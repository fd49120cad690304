package guestauth

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/internal/metrics"
	"github.com/jrsteele09/go-guest-auth/profiles"
	"github.com/jrsteele09/go-guest-auth/ratelimit"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const DefaultMaxAttempts = 3

// Verifier is the identity provider as seen by the machine. *identity.Adapter
// implements it; its errors are already classified.
type Verifier interface {
	RequestCode(ctx context.Context, identifier string) (*identity.Challenge, error)
	ConfirmCode(ctx context.Context, identifier, code string, challenge *identity.Challenge) (*identity.Verification, error)
	SignOut(ctx context.Context, token *oauth2.Token) error
}

// Machine owns one Session. Provider calls are made without holding the
// lock; their results are applied only if the machine has not moved on in
// the meantime, which is tracked with a generation counter.
type Machine struct {
	mu         sync.Mutex
	session    Session
	generation uint64

	verifier    Verifier
	profiles    profiles.Collaborator
	limiter     ratelimit.Limiter
	maxAttempts int
	logger      zerolog.Logger
}

type Option func(*Machine)

func WithMaxAttempts(attempts int) Option {
	return func(m *Machine) {
		m.maxAttempts = attempts
	}
}

// WithLimiter caps code requests per identifier.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(m *Machine) {
		m.limiter = limiter
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

func NewMachine(verifier Verifier, collaborator profiles.Collaborator, options ...Option) (*Machine, error) {
	if verifier == nil {
		return nil, pkgerrors.New("[guestauth.NewMachine] verifier is required")
	}
	if collaborator == nil {
		return nil, pkgerrors.New("[guestauth.NewMachine] profile collaborator is required")
	}
	m := &Machine{
		session:     Session{Step: StepAnonymous},
		verifier:    verifier,
		profiles:    collaborator,
		limiter:     ratelimit.Unlimited{},
		maxAttempts: DefaultMaxAttempts,
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	return m, nil
}

// View returns the current state and the actions available to the guest.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.view(m.maxAttempts)
}

// Snapshot returns a copy of the session.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// Result returns the verified identity once the machine is authenticated.
func (m *Machine) Result() (*Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Step != StepAuthenticated || m.session.Identity == nil {
		return nil, false
	}
	return &Result{
		Identifier:  m.session.PendingIdentifier,
		Identity:    *m.session.Identity,
		CustomerKey: m.session.CustomerKey,
		Token:       m.session.Token,
	}, true
}

// SetDetails records the guest details passed to profile sync.
func (m *Machine) SetDetails(details Details) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Details = Details{
		DisplayName: strings.TrimSpace(details.DisplayName),
		Phone:       strings.TrimSpace(details.Phone),
	}
}

// InitiateAuth sends a code to identifier. It is ignored unless the machine
// is anonymous. Invalid identifiers are rejected locally.
func (m *Machine) InitiateAuth(ctx context.Context, identifier string) View {
	m.mu.Lock()
	if m.session.Step != StepAnonymous {
		defer m.mu.Unlock()
		return m.session.view(m.maxAttempts)
	}
	if err := identity.ValidateIdentifier(identifier); err != nil {
		defer m.mu.Unlock()
		m.session.Err = toError(err)
		return m.session.view(m.maxAttempts)
	}
	identifier = identity.NormalizeIdentifier(identifier)
	m.session.PendingIdentifier = identifier
	gen := m.beginSendLocked()
	m.mu.Unlock()

	m.send(ctx, gen, identifier)
	return m.View()
}

// ResendCode requests a fresh code for the pending identifier.
func (m *Machine) ResendCode(ctx context.Context) View {
	m.mu.Lock()
	if !m.session.canResend() {
		defer m.mu.Unlock()
		return m.session.view(m.maxAttempts)
	}
	identifier := m.session.PendingIdentifier
	gen := m.beginSendLocked()
	m.mu.Unlock()

	m.send(ctx, gen, identifier)
	return m.View()
}

func (m *Machine) beginSendLocked() uint64 {
	m.setStepLocked(StepSending)
	m.session.Err = nil
	m.session.CodeInput = ""
	return m.generation
}

func (m *Machine) send(ctx context.Context, gen uint64, identifier string) {
	challenge, err := m.requestCode(ctx, identifier)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.session.Step != StepSending || m.session.PendingIdentifier != identifier {
		m.logger.Debug().Msg("dropping stale code request response")
		return
	}
	if err != nil {
		m.setStepLocked(StepAnonymous)
		m.session.Challenge = nil
		m.session.Err = toError(err)
		return
	}
	// A new challenge carries a fresh attempt budget.
	m.session.Challenge = challenge
	m.session.Attempts = 0
	m.setStepLocked(StepAwaitingCode)
}

func (m *Machine) requestCode(ctx context.Context, identifier string) (*identity.Challenge, error) {
	res, err := m.limiter.Allow(ctx, identifier)
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing code request")
	case !res.Allowed:
		metrics.RateLimited.WithLabelValues("otp_request").Inc()
		return nil, errors.New(errors.KindRateLimited, msgWait)
	}
	return m.verifier.RequestCode(ctx, identifier)
}

// EnterCode takes the current contents of the code field. Non-digits are
// dropped and input beyond the code length is ignored. The code is submitted
// once the buffer holds exactly identity.CodeLength digits.
func (m *Machine) EnterCode(ctx context.Context, input string) View {
	m.mu.Lock()
	if !m.session.canEnterCode(m.maxAttempts) {
		defer m.mu.Unlock()
		return m.session.view(m.maxAttempts)
	}
	m.session.CodeInput = sanitizeCode(input)
	if len(m.session.CodeInput) < identity.CodeLength {
		defer m.mu.Unlock()
		return m.session.view(m.maxAttempts)
	}

	code := m.session.CodeInput
	identifier := m.session.PendingIdentifier
	challenge := m.session.Challenge
	details := m.session.Details
	gen := m.generation
	m.setStepLocked(StepVerifying)
	m.session.Err = nil
	m.mu.Unlock()

	m.confirmCode(ctx, gen, identifier, code, challenge, details)
	return m.View()
}

func sanitizeCode(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == identity.CodeLength {
			break
		}
	}
	return b.String()
}

func (m *Machine) confirmCode(ctx context.Context, gen uint64, identifier, code string, challenge *identity.Challenge, details Details) {
	verification, err := m.verifier.ConfirmCode(ctx, identifier, code, challenge)

	m.mu.Lock()
	if gen != m.generation || m.session.Step != StepVerifying ||
		m.session.PendingIdentifier != identifier || m.session.Challenge != challenge {
		m.mu.Unlock()
		m.logger.Debug().Msg("dropping stale code confirmation response")
		return
	}
	if err != nil {
		m.session.Attempts++
		m.session.CodeInput = ""
		m.session.Err = toError(err)
		if m.session.Attempts >= m.maxAttempts && m.session.Err.Cause == errors.KindCodeMismatch {
			m.session.Err.Message = msgOutOfTries
		}
		m.setStepLocked(StepAwaitingCode)
		m.mu.Unlock()
		return
	}

	id := verification.Identity
	m.session.Identity = &id
	m.session.Token = verification.Token
	m.session.CustomerKey = id.Subject
	m.session.CodeInput = ""
	m.session.Challenge = nil
	m.setStepLocked(StepAuthenticated)
	needSync := !m.session.ProfileSynced
	m.session.ProfileSynced = true
	m.mu.Unlock()

	if needSync {
		m.syncProfile(ctx, gen, id, details)
	}
}

// syncProfile links the verified identity to a customer record. Failures keep
// the provider subject as the customer key and are never shown to the guest.
func (m *Machine) syncProfile(ctx context.Context, gen uint64, id identity.Identity, details Details) {
	customer, err := m.profiles.Sync(ctx, profiles.SyncRequest{
		DisplayName: details.DisplayName,
		Phone:       details.Phone,
		Identity:    id,
	})
	if err != nil {
		metrics.ProfileSyncFallbacks.Inc()
		m.logger.Warn().Err(errors.Classified(errors.KindProfileSyncUnavailable, "profile sync unavailable", err)).
			Msg("continuing with provider subject as customer key")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.session.Step != StepAuthenticated {
		return
	}
	m.session.CustomerKey = customer.CustomerID
}

// ChangeIdentifier abandons the current conversation from any state.
// Responses to calls still in flight are dropped.
func (m *Machine) ChangeIdentifier() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return m.session.view(m.maxAttempts)
}

// SignOut signs out at the provider, best effort, and resets the machine.
func (m *Machine) SignOut(ctx context.Context) View {
	m.mu.Lock()
	token := m.session.Token
	m.mu.Unlock()

	if token != nil {
		if err := m.verifier.SignOut(ctx, token); err != nil {
			m.logger.Warn().Err(err).Msg("provider sign out failed")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return m.session.view(m.maxAttempts)
}

func (m *Machine) resetLocked() {
	m.generation++
	from := m.session.Step
	m.session = Session{Step: StepAnonymous}
	if from != StepAnonymous {
		metrics.StepTransitions.WithLabelValues(string(from), string(StepAnonymous)).Inc()
	}
}

func (m *Machine) setStepLocked(step Step) {
	if m.session.Step == step {
		return
	}
	metrics.StepTransitions.WithLabelValues(string(m.session.Step), string(step)).Inc()
	m.session.Step = step
}
