package db

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/config"
	"github.com/markdave123-py/lawgpt/internal/core"
)

// NewClient opens the store selected by DB_DRIVER.
func NewClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	switch cfg.DBDriver {
	case config.DriverMongo:
		return NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverPostgres:
		return NewDatabaseClient(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return NewMemoryClient(), nil
	default:
		return nil, errors.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}
