// Package pgdb opens the shared postgres pool and applies the embedded schema.
package pgdb

import (
	"context"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// migrationLockID serialises concurrent RunMigrations calls across instances.
const migrationLockID = 7_301_994

// Connect opens a pool. A failed startup ping is logged, not fatal, so the
// service can come up while the database is still starting.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[pgdb.Connect] ParseConfig")
	}
	if cfg.MaxConns == 0 || cfg.MaxConns > 8 {
		cfg.MaxConns = 8
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "[pgdb.Connect] NewWithConfig")
	}
	if err := pool.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("postgres startup ping failed")
	} else {
		log.Info().Int32("max_conns", cfg.MaxConns).Msg("postgres pool ready")
	}
	return pool, nil
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,47}$`)

// ValidIdentifier reports whether name can be used unquoted as a table name
// and as a prefix for index and constraint names.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// QuoteIdentifier returns name quoted for use in a statement.
func QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// RunMigrations executes every *_up.sql in fsys in lexical order inside one
// transaction, holding an advisory lock. Placeholders in the scripts are
// replaced using the replacements map.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, replacements map[string]string) (int, error) {
	names, err := fs.Glob(fsys, "*_up.sql")
	if err != nil {
		return 0, errors.Wrap(err, "[pgdb.RunMigrations] Glob")
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(replacements)*2)
	for placeholder, value := range replacements {
		pairs = append(pairs, placeholder, value)
	}
	replacer := strings.NewReplacer(pairs...)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "[pgdb.RunMigrations] Begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return 0, errors.Wrap(err, "[pgdb.RunMigrations] advisory lock")
	}
	for _, name := range names {
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return 0, errors.Wrapf(err, "[pgdb.RunMigrations] read %s", name)
		}
		if _, err := tx.Exec(ctx, replacer.Replace(string(script))); err != nil {
			return 0, errors.Wrapf(err, "[pgdb.RunMigrations] exec %s", name)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "[pgdb.RunMigrations] Commit")
	}
	return len(names), nil
}
