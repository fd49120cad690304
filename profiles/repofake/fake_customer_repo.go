package fakecustomerrepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/profiles"
)

var _ profiles.CustomerRepo = (*FakeCustomerRepo)(nil)

type FakeCustomerRepo struct {
	customers map[string]*profiles.Customer // subject to customer
	upserts   int
	failWith  error
	lock      sync.RWMutex
}

func NewFakeCustomerRepo() *FakeCustomerRepo {
	return &FakeCustomerRepo{
		customers: make(map[string]*profiles.Customer),
	}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (r *FakeCustomerRepo) FailWith(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.failWith = err
}

// Upserts returns the number of UpsertBySubject calls, failed ones included.
func (r *FakeCustomerRepo) Upserts() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.upserts
}

func (r *FakeCustomerRepo) UpsertBySubject(ctx context.Context, customer *profiles.Customer) (*profiles.Customer, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.upserts++
	if r.failWith != nil {
		return nil, r.failWith
	}
	existing, ok := r.customers[customer.Subject]
	if !ok {
		stored := *customer
		r.customers[customer.Subject] = &stored
		return &stored, nil
	}
	existing.Email = customer.Email
	if customer.DisplayName != "" {
		existing.DisplayName = customer.DisplayName
	}
	if customer.Phone != "" {
		existing.Phone = customer.Phone
	}
	existing.UpdatedAt = customer.UpdatedAt
	stored := *existing
	return &stored, nil
}

func (r *FakeCustomerRepo) GetBySubject(ctx context.Context, subject string) (*profiles.Customer, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.failWith != nil {
		return nil, r.failWith
	}
	customer, ok := r.customers[subject]
	if !ok {
		return nil, errors.ErrNotFound
	}
	stored := *customer
	return &stored, nil
}
