// Package storage defines where comparison results go once they are computed.
package storage

import (
	"errors"
	"time"

	"github.com/mocapstudy/bvhcompare/internal/metric"
)

// Record is one stored comparison. A failed comparison keeps its identity
// fields and carries Error instead of a report.
type Record struct {
	Label      string        `json:"label"`
	Category   string        `json:"category,omitempty"`
	Pair       int           `json:"pair,omitempty"`
	Left       string        `json:"left"`
	Right      string        `json:"right"`
	Report     metric.Report `json:"report"`
	Error      string        `json:"error,omitempty"`
	ComputedAt time.Time     `json:"computed_at"`
}

// Failed reports whether the comparison could not be computed.
func (r *Record) Failed() bool {
	return r.Error != ""
}

// Backend is the interface all storage implementations must satisfy.
// RecordComparison may be called from several goroutines at once.
type Backend interface {
	Init() error
	Close() error
	RecordComparison(r *Record) error
}

// Exportable is implemented by backends that write a results file on Close.
type Exportable interface {
	ExportedFilePath() string
}

type fanout struct {
	backends []Backend
}

// Fanout returns a Backend that forwards every call to all of backends and
// joins their errors. Calls are not short-circuited.
func Fanout(backends ...Backend) Backend {
	if len(backends) == 1 {
		return backends[0]
	}
	return &fanout{backends: backends}
}

func (f *fanout) Init() error {
	var errs []error
	for _, b := range f.backends {
		errs = append(errs, b.Init())
	}
	return errors.Join(errs...)
}

func (f *fanout) Close() error {
	var errs []error
	for _, b := range f.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

func (f *fanout) RecordComparison(r *Record) error {
	var errs []error
	for _, b := range f.backends {
		errs = append(errs, b.RecordComparison(r))
	}
	return errors.Join(errs...)
}

// ExportedFilePath returns the first non-empty export path among the
// fanned-out backends.
func (f *fanout) ExportedFilePath() string {
	for _, b := range f.backends {
		if e, ok := b.(Exportable); ok {
			if p := e.ExportedFilePath(); p != "" {
				return p
			}
		}
	}
	return ""
}

// Discard is a Backend that drops every record.
var Discard Backend = discard{}

type discard struct{}

func (discard) Init() error                    { return nil }
func (discard) Close() error                   { return nil }
func (discard) RecordComparison(*Record) error { return nil }
