package db

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped runs scripts/initdb.sql unless the meta table already
// records the current schema version.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'lawgpt_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "meta table check failed")
	}

	if !exists {
		return runBootstrap(ctxBoot, db)
	}

	var hasVersion bool
	if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM lawgpt_meta WHERE version = $1)`, schemaVersion).Scan(&hasVersion); err != nil {
		return errors.Wrap(err, "meta version check failed")
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, db)
	}

	log.Debug().Int("version", schemaVersion).Msg("schema already bootstrapped")
	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB) error {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return errors.Wrap(err, "read initdb.sql")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "exec bootstrap")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit bootstrap")
	}
	log.Info().Int("version", schemaVersion).Msg("schema bootstrapped")
	return nil
}
