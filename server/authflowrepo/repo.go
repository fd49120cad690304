package authflowrepo

import (
	"context"
	"time"
)

// AuthFlowState is what the instance that started a redirect flow leaves for
// the instance that receives its callback.
type AuthFlowState struct {
	SessionURI string    `json:"sessionUri"` // provider handle used to complete the session
	Delivery   string    `json:"delivery,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Repo stores flow state keyed by the provider session id. States expire at
// their ExpiresAt.
type Repo interface {
	Upsert(ctx context.Context, sessionID string, state *AuthFlowState) error
	Get(ctx context.Context, sessionID string) (*AuthFlowState, error)
	Delete(ctx context.Context, sessionID string) error
}
