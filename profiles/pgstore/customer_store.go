package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/profiles"
	pkgerrors "github.com/pkg/errors"
)

var _ profiles.CustomerRepo = (*CustomerStore)(nil)

type CustomerStore struct {
	pool *pgxpool.Pool
}

func NewCustomerStore(pool *pgxpool.Pool) (*CustomerStore, error) {
	if pool == nil {
		return nil, pkgerrors.New("[pgstore.NewCustomerStore] pool is required")
	}
	return &CustomerStore{pool: pool}, nil
}

const customerColumns = `customer_id, subject, email, display_name, phone, created_at, updated_at`

func (s *CustomerStore) UpsertBySubject(ctx context.Context, c *profiles.Customer) (*profiles.Customer, error) {
	const q = `
INSERT INTO guest_customers (` + customerColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (subject) DO UPDATE SET
    email        = EXCLUDED.email,
    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), guest_customers.display_name),
    phone        = COALESCE(NULLIF(EXCLUDED.phone, ''), guest_customers.phone),
    updated_at   = EXCLUDED.updated_at
RETURNING ` + customerColumns
	row := s.pool.QueryRow(ctx, q, c.CustomerID, c.Subject, c.Email, c.DisplayName, c.Phone, c.CreatedAt, c.UpdatedAt)
	stored, err := scanCustomer(row)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[CustomerStore.UpsertBySubject]")
	}
	return stored, nil
}

func (s *CustomerStore) GetBySubject(ctx context.Context, subject string) (*profiles.Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM guest_customers WHERE subject = $1`
	stored, err := scanCustomer(s.pool.QueryRow(ctx, q, subject))
	if pkgerrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[CustomerStore.GetBySubject]")
	}
	return stored, nil
}

func scanCustomer(row pgx.Row) (*profiles.Customer, error) {
	var c profiles.Customer
	if err := row.Scan(&c.CustomerID, &c.Subject, &c.Email, &c.DisplayName, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
