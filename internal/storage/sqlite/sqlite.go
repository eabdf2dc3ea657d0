// Package sqlitestorage implements storage.Backend on an in-memory SQLite
// database with periodic disk dumps via VACUUM INTO. It wraps the GORM
// backend; the only SQLite-specific concerns are creating the in-memory DB
// and dumping it to disk.
package sqlitestorage

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mocapstudy/bvhcompare/internal/config"
	"github.com/mocapstudy/bvhcompare/internal/database"
	"github.com/mocapstudy/bvhcompare/internal/logging"
	gormstorage "github.com/mocapstudy/bvhcompare/internal/storage/gorm"
)

// Backend is a gorm.Backend over an in-memory SQLite database.
type Backend struct {
	*gormstorage.Backend
	db       *database.Manager
	cfg      config.SQLiteConfig
	log      *logging.SlogManager
	stopChan chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	lastDump string
}

// New returns an unopened backend; call Init before use.
func New(cfg config.SQLiteConfig, dbLogger zerolog.Logger, logManager *logging.SlogManager) (*Backend, error) {
	db := database.NewManager(dbLogger)
	if err := db.ConnectSqlite(database.MemoryPath); err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	return &Backend{
		Backend:  gormstorage.New(gormstorage.Dependencies{DB: db, LogManager: logManager}),
		db:       db,
		cfg:      cfg,
		log:      logManager,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, flushes the GORM backend, writes a final
// dump and closes the database. Later calls return the first call's result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		err := b.Backend.Close()
		if err == nil && b.cfg.DumpPath != "" {
			err = b.dump()
		}
		if cerr := b.db.Close(); err == nil {
			err = cerr
		}
		b.closeErr = err
	})
	return b.closeErr
}

// ExportedFilePath returns the path of the last successful dump.
func (b *Backend) ExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDump
}

func (b *Backend) dump() error {
	if err := b.Backend.Flush(); err != nil {
		return err
	}
	if err := b.db.DumpMemoryToDisk(b.cfg.DumpPath); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastDump = b.cfg.DumpPath
	b.mu.Unlock()
	return nil
}

// dumpLoop snapshots the database to DumpPath every DumpInterval.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.dump(); err != nil {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("snapshot to %s failed: %v", b.cfg.DumpPath, err), "ERROR")
			} else {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("snapshot written in %s", time.Since(start)), "DEBUG")
			}
		}
	}
}
