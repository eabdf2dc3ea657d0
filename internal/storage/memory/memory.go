// Package memory implements storage.Backend by buffering records in memory
// and writing them to a JSON file on Close.
package memory

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mocapstudy/bvhcompare/internal/config"
	"github.com/mocapstudy/bvhcompare/internal/queue"
	"github.com/mocapstudy/bvhcompare/internal/storage"
)

// Backend stores comparison records in memory and exports them to JSON.
type Backend struct {
	cfg     config.MemoryConfig
	records *queue.Queue[storage.Record]
	started time.Time
	now     func() time.Time
	create  func(path string) (io.WriteCloser, error)

	mu             sync.Mutex
	lastExportPath string
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		records: queue.New[storage.Record](),
		now:     time.Now,
		create: func(path string) (io.WriteCloser, error) {
			return os.Create(path)
		},
	}
}

// Init marks the start of the run; the export file is named after it.
func (b *Backend) Init() error {
	b.started = b.now()
	return nil
}

// RecordComparison queues a copy of r.
func (b *Backend) RecordComparison(r *storage.Record) error {
	b.records.Push(*r)
	return nil
}

// Records returns the records queued so far.
func (b *Backend) Records() []storage.Record {
	return b.records.Snapshot()
}

// Close writes the queued records to OutputDir. Nothing is written when no
// records were queued or OutputDir is empty.
func (b *Backend) Close() error {
	records := b.records.GetAndEmpty()
	if len(records) == 0 || b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON(records)
}

// ExportedFilePath returns the path of the last file written by Close.
func (b *Backend) ExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastExportPath
}
