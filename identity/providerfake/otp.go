package providerfake

import (
	"crypto/rand"

	"github.com/jrsteele09/go-guest-auth/identity"
)

// GenerateCode returns a numeric one-time passcode of identity.CodeLength digits.
func GenerateCode() (string, error) {
	b := make([]byte, identity.CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, identity.CodeLength)
	for i := range s {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}
