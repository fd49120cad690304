package profiles

import "context"

type CustomerRepo interface {
	// UpsertBySubject inserts customer, or merges it into the existing row for
	// the same subject, and returns the stored row.
	UpsertBySubject(ctx context.Context, customer *Customer) (*Customer, error)
	GetBySubject(ctx context.Context, subject string) (*Customer, error)
}
