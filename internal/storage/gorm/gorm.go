// Package gormstorage implements storage.Backend on any GORM database. Records
// are queued and written in batches by a background goroutine.
package gormstorage

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mocapstudy/bvhcompare/internal/database"
	"github.com/mocapstudy/bvhcompare/internal/logging"
	"github.com/mocapstudy/bvhcompare/internal/model"
	"github.com/mocapstudy/bvhcompare/internal/queue"
	"github.com/mocapstudy/bvhcompare/internal/storage"
)

// DefaultFlushInterval is how often queued rows are written.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *database.Manager
	LogManager    *logging.SlogManager
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	pending  *queue.Queue[model.Comparison]
	stopChan chan struct{}
	wg       sync.WaitGroup
	writeMu  sync.Mutex
	closed   bool
}

// New creates a new GORM storage backend. deps.DB must already be connected.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps:    deps,
		pending: queue.New[model.Comparison](),
	}
}

// DB returns the underlying GORM handle.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB.DB
}

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil || b.deps.DB.DB == nil {
		return fmt.Errorf("gorm backend: database not connected")
	}
	if err := b.deps.DB.Setup(); err != nil {
		b.deps.LogManager.WriteLog("gorm:Init", fmt.Sprintf("Failed to set up schema: %v", err), "ERROR")
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

// RecordComparison converts r and queues it for the next batch write.
func (b *Backend) RecordComparison(r *storage.Record) error {
	row, err := model.NewComparison(r)
	if err != nil {
		return err
	}
	b.pending.Push(row)
	return nil
}

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	rows := b.pending.GetAndEmpty()
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	if err := b.deps.DB.DB.CreateInBatches(rows, 500).Error; err != nil {
		// requeue so a later flush can retry
		b.pending.Push(rows...)
		b.deps.LogManager.WriteLog("gorm:Flush", fmt.Sprintf("Error writing %d comparison(s): %v", len(rows), err), "ERROR")
		return fmt.Errorf("failed to write comparisons: %w", err)
	}
	b.deps.LogManager.WriteLog("gorm:Flush",
		fmt.Sprintf("Wrote %d comparison(s) in %s", len(rows), time.Since(start)), "DEBUG")
	return nil
}

// Close stops the writer goroutine and writes what is left in the queue.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
	}
	if b.deps.DB == nil || b.deps.DB.DB == nil {
		return nil
	}
	return b.Flush()
}

// Comparisons returns every stored comparison in insertion order.
func (b *Backend) Comparisons() ([]storage.Record, error) {
	var rows []model.Comparison
	if err := b.deps.DB.DB.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load comparisons: %w", err)
	}

	out := make([]storage.Record, 0, len(rows))
	for i := range rows {
		r, err := rows[i].Record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) writeLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Flush()
		}
	}
}
