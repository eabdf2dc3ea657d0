// Package postgres implements storage.Backend on PostgreSQL through the GORM
// backend.
package postgres

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mocapstudy/bvhcompare/internal/config"
	"github.com/mocapstudy/bvhcompare/internal/database"
	"github.com/mocapstudy/bvhcompare/internal/logging"
	gormstorage "github.com/mocapstudy/bvhcompare/internal/storage/gorm"
)

// Backend is the GORM backend bound to a Postgres connection it owns.
type Backend struct {
	*gormstorage.Backend
	db  *database.Manager
	cfg config.PostgresConfig
}

// New creates a Postgres backend. The connection is opened by Init.
func New(cfg config.PostgresConfig, dbLogger zerolog.Logger, logManager *logging.SlogManager) *Backend {
	db := database.NewManager(dbLogger)
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: db, LogManager: logManager}),
		db:      db,
		cfg:     cfg,
	}
}

// Init connects to Postgres, then migrates and starts the GORM backend.
func (b *Backend) Init() error {
	if err := b.db.ConnectPostgres(b.cfg); err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return b.Backend.Init()
}

// Close flushes pending rows and closes the connection.
func (b *Backend) Close() error {
	err := b.Backend.Close()
	if cerr := b.db.Close(); err == nil {
		err = cerr
	}
	return err
}
