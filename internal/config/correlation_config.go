package config

import (
	"strings"
	"time"
)

type CorrelationDriver string

const (
	CorrelationDriverMemory   CorrelationDriver = "memory"
	CorrelationDriverRedis    CorrelationDriver = "redis"
	CorrelationDriverPostgres CorrelationDriver = "postgres"
)

type CorrelationConfig interface {
	GetCorrelationDriver() CorrelationDriver
	GetCorrelationTable() string
	GetCorrelationTTL() time.Duration
	GetCorrelationDedupWindow() time.Duration
	GetCorrelationSweepInterval() time.Duration
	GetCallbackBudget() time.Duration
}

type Correlation struct{}

var _ CorrelationConfig = Correlation{}

func (Correlation) GetCorrelationDriver() CorrelationDriver {
	switch CorrelationDriver(strings.ToLower(GetEnv("CORRELATION_DRIVER", ""))) {
	case CorrelationDriverRedis:
		return CorrelationDriverRedis
	case CorrelationDriverPostgres:
		return CorrelationDriverPostgres
	default:
		return CorrelationDriverMemory
	}
}

// GetCorrelationTable names the postgres table (or redis key prefix) holding correlation records.
func (Correlation) GetCorrelationTable() string {
	return GetEnv("CORRELATION_TABLE", "guest_auth_correlations")
}

func (Correlation) GetCorrelationTTL() time.Duration {
	return GetEnvMinutes("CORRELATION_TTL_MINUTES", 10)
}

func (Correlation) GetCorrelationDedupWindow() time.Duration {
	return GetEnvDuration("CORRELATION_DEDUP_WINDOW", 30*time.Second)
}

func (Correlation) GetCorrelationSweepInterval() time.Duration {
	return GetEnvDuration("CORRELATION_SWEEP_INTERVAL", time.Minute)
}

// GetCallbackBudget bounds the callback handler, which blocks the guest's return navigation.
func (Correlation) GetCallbackBudget() time.Duration {
	return GetEnvDuration("CALLBACK_BUDGET", 2*time.Second)
}
