package main

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-guest-auth/internal/config"
	"github.com/jrsteele09/go-guest-auth/internal/pgdb"
	"github.com/jrsteele09/go-guest-auth/migrations"
	"github.com/rs/zerolog/log"
)

func migrate(ctx context.Context, cfg config.Config) error {
	if cfg.GetDatabaseURL() == "" {
		return fmt.Errorf("[migrate] DATABASE_URL is required")
	}
	pool, err := pgdb.Connect(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return err
	}
	defer pool.Close()

	if !pgdb.ValidIdentifier(cfg.GetCorrelationTable()) {
		return fmt.Errorf("[migrate] invalid correlation table %q", cfg.GetCorrelationTable())
	}
	applied, err := pgdb.RunMigrations(ctx, pool, migrations.FS, map[string]string{
		migrations.CorrelationTablePlaceholder: cfg.GetCorrelationTable(),
	})
	if err != nil {
		return err
	}
	log.Info().Int("applied", applied).Msg("migrations complete")
	return nil
}
