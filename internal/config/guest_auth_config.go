package config

import "time"

type GuestAuthConfig interface {
	GetMaxOTPAttempts() int
	GetOTPValidity() time.Duration
	GetOTPCodeLength() int
	GetMachineIdleTimeout() time.Duration
}

type GuestAuth struct{}

var _ GuestAuthConfig = GuestAuth{}

func (GuestAuth) GetMaxOTPAttempts() int {
	attempts := GetEnvInt("MAX_OTP_ATTEMPTS", 3)
	if attempts <= 0 {
		return 3
	}
	return attempts
}

func (GuestAuth) GetOTPValidity() time.Duration {
	return GetEnvMinutes("OTP_VALIDITY_MINUTES", 5)
}

// GetOTPCodeLength is fixed; the booking form auto-submits at this length.
func (GuestAuth) GetOTPCodeLength() int {
	return 6
}

// GetMachineIdleTimeout is how long an idle browser tab keeps its verification state.
func (GuestAuth) GetMachineIdleTimeout() time.Duration {
	return GetEnvMinutes("GUEST_AUTH_IDLE_MINUTES", 30)
}
