// Package correlation binds an asynchronous authorization callback to the
// guest who started it. A record is created when the redirect flow starts and
// transitions away from pending exactly once.
package correlation

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusExpired is reported to callers for records that are gone or past
	// their expiry. Stored records never carry it.
	StatusExpired Status = "expired"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultDedupWindow = 30 * time.Second
)

type Record struct {
	SessionID       string    `json:"sessionId"`
	ConversationID  string    `json:"conversationId"`
	GuestIdentifier string    `json:"guestIdentifier"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}
