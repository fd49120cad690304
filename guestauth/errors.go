package guestauth

import "github.com/jrsteele09/go-guest-auth/internal/errors"

const (
	msgExpired     = "This code has expired. Request a new one."
	msgWait        = "Too many attempts. Please wait a few minutes before trying again."
	msgOutOfTries  = "Too many incorrect codes. Request a new code to try again."
	msgStartOver   = "Something went wrong. Please start over."
	msgNetwork     = "We couldn't reach the sign-in service. Check your connection and try again."
	msgInvalidCode = "invalid code"
)

// toError maps a classified failure onto what the guest is shown.
func toError(err error) *Error {
	kind := errors.KindOf(err)
	e := &Error{Cause: kind}

	var classified *errors.Error
	if errors.As(err, &classified) {
		e.Message = classified.Message
	}

	switch kind {
	case errors.KindNetworkUnavailable:
		e.Kind = ErrorKindNetwork
		e.Message = msgNetwork
	case errors.KindInvalidInput, errors.KindInvalidCredentialFormat:
		e.Kind = ErrorKindValidation
	case errors.KindRateLimited:
		e.Kind = ErrorKindRateLimit
		e.Message = msgWait
	case errors.KindCodeMismatch:
		e.Kind = ErrorKindAuth
		e.Message = msgInvalidCode
	case errors.KindCodeExpired:
		e.Kind = ErrorKindAuth
		e.Message = msgExpired
	case errors.KindSessionExpired:
		e.Kind = ErrorKindAuth
		e.Message = "session expired"
	default:
		e.Kind = ErrorKindAuth
		e.Message = msgStartOver
	}
	return e
}
