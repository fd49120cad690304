// Package guestauth drives the passwordless one-time passcode flow for a
// single guest. One Machine exists per browser tab.
package guestauth

import (
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"golang.org/x/oauth2"
)

type Step string

const (
	StepAnonymous     Step = "anonymous"
	StepSending       Step = "sending"
	StepAwaitingCode  Step = "awaiting_code"
	StepVerifying     Step = "verifying"
	StepAuthenticated Step = "authenticated"
)

// ErrorKind tells the UI which recovery to offer.
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindAuth       ErrorKind = "auth"
	ErrorKindRateLimit  ErrorKind = "rateLimit"
	ErrorKindValidation ErrorKind = "validation"
)

type Error struct {
	Message string      `json:"message"`
	Kind    ErrorKind   `json:"kind"`
	Cause   errors.Kind `json:"-"`
}

// Details are collected with the identifier and passed to profile sync.
type Details struct {
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Session is the state of one verification conversation.
type Session struct {
	Step              Step
	PendingIdentifier string
	Attempts          int
	Err               *Error
	ProfileSynced     bool
	CodeInput         string
	Challenge         *identity.Challenge
	Identity          *identity.Identity
	CustomerKey       string
	Token             *oauth2.Token
	Details           Details
}

// View is what the booking page renders: the session plus the actions
// currently available.
type View struct {
	Step              Step   `json:"step"`
	PendingIdentifier string `json:"pendingIdentifier,omitempty"`
	Attempts          int    `json:"attempts"`
	MaxAttempts       int    `json:"maxAttempts"`
	CodeLength        int    `json:"codeLength"`
	CodeInput         string `json:"codeInput,omitempty"`
	Error             *Error `json:"error,omitempty"`
	CustomerKey       string `json:"customerKey,omitempty"`
	CanEnterCode      bool   `json:"canEnterCode"`
	CanResend         bool   `json:"canResend"`
	CanStartOver      bool   `json:"canStartOver"`
	CanSignOut        bool   `json:"canSignOut"`
}

// Result is the outcome of a successful verification.
type Result struct {
	Identifier  string
	Identity    identity.Identity
	CustomerKey string
	Token       *oauth2.Token
}

func (s *Session) cause() errors.Kind {
	if s.Err == nil {
		return errors.KindUnknown
	}
	return s.Err.Cause
}

func (s *Session) canEnterCode(maxAttempts int) bool {
	if s.Step != StepAwaitingCode || s.Attempts >= maxAttempts {
		return false
	}
	switch s.cause() {
	case errors.KindCodeExpired, errors.KindRateLimited, errors.KindSessionExpired:
		return false
	}
	return true
}

func (s *Session) canResend() bool {
	return s.Step == StepAwaitingCode && s.cause() != errors.KindSessionExpired
}

func (s *Session) view(maxAttempts int) View {
	v := View{
		Step:              s.Step,
		PendingIdentifier: s.PendingIdentifier,
		Attempts:          s.Attempts,
		MaxAttempts:       maxAttempts,
		CodeLength:        identity.CodeLength,
		CodeInput:         s.CodeInput,
		CustomerKey:       s.CustomerKey,
		CanEnterCode:      s.canEnterCode(maxAttempts),
		CanResend:         s.canResend(),
		CanStartOver:      s.Step != StepAnonymous || s.PendingIdentifier != "",
		CanSignOut:        s.Step == StepAuthenticated,
	}
	if s.Err != nil {
		e := *s.Err
		v.Error = &e
	}
	return v
}

func (s *Session) clone() Session {
	c := *s
	if s.Err != nil {
		e := *s.Err
		c.Err = &e
	}
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	return c
}
