package config

import "time"

type SecurityConfig interface {
	GetMaxSessionAge() time.Duration
	GetSecureCookies() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetMaxSessionAge bounds the guest login session cookie.
func (Security) GetMaxSessionAge() time.Duration {
	return GetEnvMinutes("SESSION_MAX_AGE_MINUTES", 12*60)
}

func (Security) GetSecureCookies() bool {
	return GetEnvBool("SECURE_COOKIES", false)
}
