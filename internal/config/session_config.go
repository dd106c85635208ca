package config

import (
	"time"

	"github.com/quantrail/quantachat/dbsession"
)

type SessionConfig interface {
	GetSweepInterval() time.Duration
	GetAISessionDuration() time.Duration
}

type Sessions struct{}

var _ SessionConfig = Sessions{}

// GetSweepInterval returns how often expired per-database sessions are
// pruned.
func (Sessions) GetSweepInterval() time.Duration {
	raw := GetEnv("DB_SESSION_SWEEP_INTERVAL", "")
	if raw != "" {
		if interval, err := time.ParseDuration(raw); err == nil && interval > 0 {
			return interval
		}
	}
	return dbsession.DefaultSweepInterval
}

// GetAISessionDuration returns the lifetime requested for new AI-service
// sessions.
func (Sessions) GetAISessionDuration() time.Duration {
	raw := GetEnv("AI_SESSION_DURATION", "")
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Minute
}
