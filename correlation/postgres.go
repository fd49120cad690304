package correlation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/internal/pgdb"
	"github.com/jrsteele09/go-guest-auth/migrations"
	pkgerrors "github.com/pkg/errors"
)

var _ Backend = (*PostgresBackend)(nil)

const DefaultTable = "guest_auth_correlations"

// PostgresBackend keeps records in a table. Transitions are conditional
// updates that only match live pending rows.
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
	ident string // quoted table name
}

func NewPostgresBackend(pool *pgxpool.Pool, table string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, pkgerrors.New("[correlation.NewPostgresBackend] pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !pgdb.ValidIdentifier(table) {
		return nil, pkgerrors.Errorf("[correlation.NewPostgresBackend] invalid table name %q", table)
	}
	return &PostgresBackend{pool: pool, table: table, ident: pgdb.QuoteIdentifier(table)}, nil
}

// EnsureSchema applies the embedded migrations for the configured table.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := pgdb.RunMigrations(ctx, b.pool, migrations.FS, map[string]string{
		migrations.CorrelationTablePlaceholder: b.table,
	})
	return err
}

const recordColumns = `session_id, conversation_id, guest_identifier, status, created_at, expires_at, updated_at`

func (b *PostgresBackend) Insert(ctx context.Context, rec *Record) error {
	// An expired row with the same id is replaced; a live one is a conflict.
	q := `INSERT INTO ` + b.ident + ` (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO UPDATE SET
    conversation_id  = EXCLUDED.conversation_id,
    guest_identifier = EXCLUDED.guest_identifier,
    status           = EXCLUDED.status,
    created_at       = EXCLUDED.created_at,
    expires_at       = EXCLUDED.expires_at,
    updated_at       = EXCLUDED.updated_at
WHERE ` + b.ident + `.expires_at <= EXCLUDED.created_at`
	tag, err := b.pool.Exec(ctx, q, rec.SessionID, rec.ConversationID, rec.GuestIdentifier, string(rec.Status), rec.CreatedAt, rec.ExpiresAt, rec.UpdatedAt)
	if err != nil {
		return pkgerrors.Wrap(err, "[PostgresBackend.Insert]")
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrAlreadyExists
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, sessionID string, now time.Time) (*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM ` + b.ident + ` WHERE session_id = $1 AND expires_at > $2`
	rec, err := scanRecord(b.pool.QueryRow(ctx, q, sessionID, now))
	if pkgerrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[PostgresBackend.Load]")
	}
	return rec, nil
}

func (b *PostgresBackend) Transition(ctx context.Context, sessionID string, status Status, now time.Time) (bool, error) {
	q := `UPDATE ` + b.ident + ` SET status = $2, updated_at = $3
WHERE session_id = $1 AND status = 'pending' AND expires_at > $3`
	tag, err := b.pool.Exec(ctx, q, sessionID, string(status), now)
	if err != nil {
		return false, pkgerrors.Wrap(err, "[PostgresBackend.Transition]")
	}
	return tag.RowsAffected() == 1, nil
}

func (b *PostgresBackend) FindRecentPending(ctx context.Context, guest string, since, now time.Time) (*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM ` + b.ident + `
WHERE guest_identifier = $1 AND status = 'pending' AND created_at >= $2 AND expires_at > $3
ORDER BY created_at DESC
LIMIT 1`
	rec, err := scanRecord(b.pool.QueryRow(ctx, q, guest, since, now))
	if pkgerrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[PostgresBackend.FindRecentPending]")
	}
	return rec, nil
}

func (b *PostgresBackend) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM `+b.ident+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "[PostgresBackend.Sweep]")
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.SessionID, &rec.ConversationID, &rec.GuestIdentifier, &status, &rec.CreatedAt, &rec.ExpiresAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	return &rec, nil
}
