package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	GuestAuthConfig
	CorrelationConfig
	StorageConfig
	SmtpConfig
	RateLimitConfig
	RouteConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
	IsDev() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Provider
	GuestAuth
	Correlation
	Storage
	Smtp
	RateLimit
	Routes
	Security
}

// New loads an optional .env file from the working directory and returns the
// environment backed configuration. Variables already set in the process
// environment win over the file.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
