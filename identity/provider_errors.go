package identity

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
)

// Provider error codes. The remote provider reports one of these in the
// "error" (or "__type") field of a failed response.
const (
	CodeUserNotFound       = "user_not_found"
	CodeInvalidParameter   = "invalid_parameter"
	CodeCodeMismatch       = "code_mismatch"
	CodeExpiredCode        = "expired_code"
	CodeTooManyRequests    = "too_many_requests"
	CodeLimitExceeded      = "limit_exceeded"
	CodeSessionExpired     = "session_expired"
	CodeInvalidSession     = "invalid_session"
	CodeNotAuthorized      = "not_authorized"
	CodeServiceUnavailable = "service_unavailable"
)

// aliases maps vendor exception names onto the codes above.
var aliases = map[string]string{
	"usernotfoundexception":     CodeUserNotFound,
	"invalidparameterexception": CodeInvalidParameter,
	"codemismatchexception":     CodeCodeMismatch,
	"expiredcodeexception":      CodeExpiredCode,
	"toomanyrequestsexception":  CodeTooManyRequests,
	"limitexceededexception":    CodeLimitExceeded,
	"notauthorizedexception":    CodeNotAuthorized,
	"invalid_grant":             CodeSessionExpired,
	"invalid_request":           CodeInvalidParameter,
	"internalerrorexception":    CodeServiceUnavailable,
}

// ProviderError is a failure reported by the identity provider itself.
type ProviderError struct {
	Code    string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error %s (status %d): %s", e.Code, e.Status, e.Message)
}

// NewProviderError normalises code through the known vendor aliases.
func NewProviderError(code string, status int, message string) *ProviderError {
	normalised := strings.ToLower(strings.TrimSpace(code))
	if i := strings.LastIndex(normalised, "#"); i >= 0 {
		normalised = normalised[i+1:]
	}
	if alias, ok := aliases[normalised]; ok {
		normalised = alias
	}
	return &ProviderError{Code: normalised, Status: status, Message: message}
}

// Messages carried with each classified kind. They are safe to show to guests.
const (
	msgNetwork        = "We couldn't reach the sign-in service. Check your connection and try again."
	msgInvalidFormat  = "That doesn't look like a valid email address."
	msgCodeMismatch   = "invalid code"
	msgCodeExpired    = "This code has expired. Request a new one."
	msgRateLimited    = "Too many attempts. Please wait a few minutes before trying again."
	msgSessionExpired = "session expired"
	msgNotFound       = "No account exists for this email address."
)

// Classify maps any provider or transport failure into the closed taxonomy.
// Already classified errors pass through unchanged. Unrecognised provider
// failures are treated as the provider being unavailable, which is retryable.
func Classify(err error) *errors.Error {
	if err == nil {
		return nil
	}

	var classified *errors.Error
	if stderrors.As(err, &classified) {
		return classified
	}

	var perr *ProviderError
	if stderrors.As(err, &perr) {
		return classifyProviderError(perr)
	}

	// Timeouts, dial failures and anything else that never produced a provider answer.
	return errors.Classified(errors.KindNetworkUnavailable, msgNetwork, err)
}

func classifyProviderError(perr *ProviderError) *errors.Error {
	switch perr.Code {
	case CodeUserNotFound:
		return errors.Classified(errors.KindIdentityNotFound, msgNotFound, perr)
	case CodeInvalidParameter:
		return errors.Classified(errors.KindInvalidCredentialFormat, msgInvalidFormat, perr)
	case CodeCodeMismatch:
		return errors.Classified(errors.KindCodeMismatch, msgCodeMismatch, perr)
	case CodeExpiredCode:
		return errors.Classified(errors.KindCodeExpired, msgCodeExpired, perr)
	case CodeTooManyRequests, CodeLimitExceeded:
		return errors.Classified(errors.KindRateLimited, msgRateLimited, perr)
	case CodeSessionExpired, CodeInvalidSession, CodeNotAuthorized:
		return errors.Classified(errors.KindSessionExpired, msgSessionExpired, perr)
	}
	if perr.Status == http.StatusTooManyRequests {
		return errors.Classified(errors.KindRateLimited, msgRateLimited, perr)
	}
	return errors.Classified(errors.KindNetworkUnavailable, msgNetwork, perr)
}
