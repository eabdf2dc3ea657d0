package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mocapstudy/bvhcompare/internal/storage"
	"github.com/mocapstudy/bvhcompare/internal/util"
)

// Export is the root JSON structure of a results file.
type Export struct {
	StartedAt   time.Time        `json:"started_at"`
	Count       int              `json:"count"`
	Failed      int              `json:"failed"`
	Comparisons []storage.Record `json:"comparisons"`
}

func (b *Backend) buildExport(records []storage.Record) Export {
	export := Export{
		StartedAt:   b.started,
		Count:       len(records),
		Comparisons: records,
	}
	for i := range records {
		if records[i].Failed() {
			export.Failed++
		}
	}
	return export
}

// exportJSON writes records to comparisons_<timestamp>.json[.gz].
func (b *Backend) exportJSON(records []storage.Record) error {
	ext := ".json"
	if b.cfg.CompressOutput {
		ext = ".json.gz"
	}
	started := b.started
	if started.IsZero() {
		started = b.now()
	}
	outputPath := filepath.Join(b.cfg.OutputDir, util.TimestampedName("comparisons", started, ext))

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := b.create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := writeExport(f, b.cfg.CompressOutput, b.buildExport(records)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", outputPath, err)
	}

	b.mu.Lock()
	b.lastExportPath = outputPath
	b.mu.Unlock()
	return nil
}

// writeExport encodes export to w, gzipped when compress is set. The gzip
// trailer is flushed before returning.
func writeExport(w io.Writer, compress bool, export Export) error {
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		w = gz
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return nil
}
