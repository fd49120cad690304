package loginsession

import "time"

// Session is a verified guest's login session. It is created when the
// verification machine reaches authenticated and later receives the tokens
// materialized by the redirect callback.
type Session struct {
	// Core identity
	Identifier  string
	Subject     string
	Name        string
	CustomerKey string

	// Conversation id of the last completed redirect flow, echoed on the landing route
	ConversationID string

	// Provider tokens
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenExpiry  time.Time

	// Session management
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Repo interface {
	Upsert(sessionID string, session Session) error
	Get(sessionID string) (Session, error)
	Delete(sessionID string) error
}
