package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy every guest authentication failure is classified into.
// Provider errors are mapped to a Kind exactly once, at the identity adapter boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetworkUnavailable
	KindInvalidInput
	KindInvalidCredentialFormat
	KindCodeMismatch
	KindCodeExpired
	KindRateLimited
	KindSessionExpired
	KindIdentityNotFound
	KindIdentityMismatch
	KindAlreadyProcessed
	KindProfileSyncUnavailable
	KindCallbackProviderError
)

var kindNames = map[Kind]string{
	KindUnknown:                 "Unknown",
	KindNetworkUnavailable:      "NetworkUnavailable",
	KindInvalidInput:            "InvalidInput",
	KindInvalidCredentialFormat: "InvalidCredentialFormat",
	KindCodeMismatch:            "CodeMismatch",
	KindCodeExpired:             "CodeExpired",
	KindRateLimited:             "RateLimited",
	KindSessionExpired:          "SessionExpired",
	KindIdentityNotFound:        "IdentityNotFound",
	KindIdentityMismatch:        "IdentityMismatch",
	KindAlreadyProcessed:        "AlreadyProcessed",
	KindProfileSyncUnavailable:  "ProfileSyncUnavailable",
	KindCallbackProviderError:   "CallbackProviderError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether the same request may simply be repeated.
func (k Kind) Retryable() bool {
	return k == KindNetworkUnavailable || k == KindCodeMismatch
}

// Error carries a classified failure upward as a (message, kind) pair.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil && (t.Message == "" || t.Message == e.Message)
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Classified wraps cause with a kind and message.
func Classified(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Kind sentinels for errors.Is comparisons
var (
	ErrNetworkUnavailable      = &Error{Kind: KindNetworkUnavailable}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrInvalidCredentialFormat = &Error{Kind: KindInvalidCredentialFormat}
	ErrCodeMismatch            = &Error{Kind: KindCodeMismatch}
	ErrCodeExpired             = &Error{Kind: KindCodeExpired}
	ErrRateLimited             = &Error{Kind: KindRateLimited}
	ErrSessionExpired          = &Error{Kind: KindSessionExpired}
	ErrIdentityNotFound        = &Error{Kind: KindIdentityNotFound}
	ErrIdentityMismatch        = &Error{Kind: KindIdentityMismatch}
	ErrAlreadyProcessed        = &Error{Kind: KindAlreadyProcessed}
	ErrProfileSyncUnavailable  = &Error{Kind: KindProfileSyncUnavailable}
	ErrCallbackProviderError   = &Error{Kind: KindCallbackProviderError}
)

// Storage errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
