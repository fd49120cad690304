package identity

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
)

// CodeLength is the fixed length of a one-time passcode.
const CodeLength = 6

// NormalizeIdentifier trims and lower-cases an email identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// ValidateIdentifier checks the identifier locally. Invalid identifiers are
// never sent to the provider.
func ValidateIdentifier(identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.New(errors.KindInvalidInput, "Enter your email address.")
	}
	addr, err := mail.ParseAddress(identifier)
	if err != nil || addr.Address != identifier || addr.Name != "" {
		return errors.New(errors.KindInvalidInput, msgInvalidFormat)
	}
	at := strings.LastIndex(identifier, "@")
	domain := identifier[at+1:]
	if at < 1 || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return errors.New(errors.KindInvalidInput, msgInvalidFormat)
	}
	return nil
}

// ValidateCode checks that code is exactly CodeLength digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return errors.New(errors.KindInvalidInput, "Enter the 6-digit code from your email.")
	}
	for _, r := range code {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return errors.New(errors.KindInvalidInput, "The code only contains digits.")
		}
	}
	return nil
}
