// Package profiles keeps the booking site's customer record in step with a
// verified guest identity.
package profiles

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/pkg/errors"
)

// Customer is the booking customer linked to a provider subject.
type Customer struct {
	CustomerID  string    `json:"customerId"`
	Subject     string    `json:"subject"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SyncRequest carries the details collected before verification.
type SyncRequest struct {
	DisplayName string
	Phone       string
	Identity    identity.Identity
}

// Collaborator creates or updates the customer for a verified identity.
type Collaborator interface {
	Sync(ctx context.Context, req SyncRequest) (*Customer, error)
}

var _ Collaborator = (*Service)(nil)

type Service struct {
	repo    CustomerRepo
	nowFunc func() time.Time
}

type ServiceOption func(*Service)

func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func NewService(repo CustomerRepo, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[profiles.NewService] customer repo is required")
	}
	s := &Service{repo: repo, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Sync upserts the customer keyed by the provider subject. Empty details never
// overwrite previously stored ones.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*Customer, error) {
	if req.Identity.Subject == "" {
		return nil, errors.New("[Service.Sync] identity subject is required")
	}
	now := s.nowFunc()
	customer := &Customer{
		CustomerID:  uuid.New().String(),
		Subject:     req.Identity.Subject,
		Email:       identity.NormalizeIdentifier(req.Identity.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Phone:       strings.TrimSpace(req.Phone),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if customer.DisplayName == "" {
		customer.DisplayName = strings.TrimSpace(req.Identity.Name)
	}
	stored, err := s.repo.UpsertBySubject(ctx, customer)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Sync] UpsertBySubject")
	}
	return stored, nil
}
