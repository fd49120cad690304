package config

import "time"

type RateLimitConfig interface {
	GetEnableRateLimiting() bool
	GetOTPRequestLimit() int
	GetOTPRequestWindow() time.Duration
}

type RateLimit struct{}

var _ RateLimitConfig = RateLimit{}

func (RateLimit) GetEnableRateLimiting() bool {
	return GetEnvBool("RATE_LIMIT_ENABLED", true)
}

// GetOTPRequestLimit is the number of code requests allowed per identifier per window.
func (RateLimit) GetOTPRequestLimit() int {
	return GetEnvInt("OTP_REQUEST_LIMIT", 5)
}

func (RateLimit) GetOTPRequestWindow() time.Duration {
	return GetEnvDuration("OTP_REQUEST_WINDOW", 15*time.Minute)
}
