// Package worker runs comparisons, alone or as a bounded-concurrency batch,
// and hands every result to the storage backend.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mocapstudy/bvhcompare/internal/bvh"
	"github.com/mocapstudy/bvhcompare/internal/logging"
	mpjpe "github.com/mocapstudy/bvhcompare/internal/metric"
	"github.com/mocapstudy/bvhcompare/internal/storage"
	"github.com/mocapstudy/bvhcompare/internal/study"
)

// CompareFunc compares the motions at two paths.
type CompareFunc func(pathA, pathB string) (mpjpe.Report, error)

// Dependencies holds all dependencies for the worker manager.
type Dependencies struct {
	LogManager *logging.SlogManager
	Parser     *bvh.Parser
	// Compare defaults to an MPJPE comparer over Parser.
	Compare   CompareFunc
	MotionDir string
	// Out receives command output; defaults to os.Stdout.
	Out io.Writer
	Now func() time.Time
	// DBLogger is used when history opens a results database.
	DBLogger zerolog.Logger
}

// Job is one comparison to run.
type Job struct {
	Label    string
	Category string
	Pair     int
	Left     string
	Right    string
}

// PairJob builds the job for a catalog pair with files under dir.
func PairJob(p study.Pair, dir string) Job {
	left, right := p.Resolve(dir)
	return Job{
		Label:    p.Label(),
		Category: p.CategoryName(),
		Pair:     p.Index,
		Left:     left,
		Right:    right,
	}
}

// Manager runs comparison jobs.
type Manager struct {
	deps        Dependencies
	backend     storage.Backend
	concurrency int

	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram

	queued    atomic.Int64
	running   atomic.Int64
	succeeded atomic.Int64
	errored   atomic.Int64
}

// Progress is a snapshot of job counts since the manager was created.
type Progress struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Progress returns the current job counts.
func (m *Manager) Progress() Progress {
	return Progress{
		Queued:    m.queued.Load(),
		Running:   m.running.Load(),
		Completed: m.succeeded.Load(),
		Failed:    m.errored.Load(),
	}
}

// NewManager creates a new worker manager. concurrency below 1 means 1.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewManager(deps Dependencies, backend storage.Backend, concurrency int) (*Manager, error) {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	if deps.Parser == nil {
		deps.Parser = bvh.NewParser(deps.LogManager.Logger())
	}
	if deps.Compare == nil {
		deps.Compare = mpjpe.NewComparer(deps.Parser).MPJPE
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if backend == nil {
		backend = storage.Discard
	}

	m := &Manager{
		deps:        deps,
		backend:     backend,
		concurrency: max(concurrency, 1),
	}

	mt := meter()
	var err error

	m.completed, err = mt.Int64Counter(
		"comparisons.completed",
		metric.WithDescription("Comparisons that produced a report"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}

	m.failed, err = mt.Int64Counter(
		"comparisons.failed",
		metric.WithDescription("Comparisons that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	m.duration, err = mt.Float64Histogram(
		"comparison.duration",
		metric.WithDescription("Time to parse and compare one pair"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return m, nil
}

// Run executes jobs with at most the configured number in flight. The
// returned records are in job order. A failing comparison yields a record
// with Error set and does not stop the batch; once ctx is done no further
// jobs start and the remaining records carry the context error.
func (m *Manager) Run(ctx context.Context, jobs []Job) []storage.Record {
	records := make([]storage.Record, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	m.queued.Add(int64(len(jobs)))

	for i, job := range jobs {
		if err := gctx.Err(); err != nil {
			m.queued.Add(-1)
			records[i] = m.canceled(job, err)
			continue
		}
		g.Go(func() error {
			m.queued.Add(-1)
			records[i] = m.RunJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return records
}

// RunJob runs one comparison and records it in the backend. Storage errors
// are logged and do not fail the job.
func (m *Manager) RunJob(ctx context.Context, job Job) storage.Record {
	rec, _ := m.runJob(ctx, job)
	return rec
}

// runJob is RunJob that also returns the comparison error unflattened.
func (m *Manager) runJob(ctx context.Context, job Job) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return m.canceled(job, err), err
	}

	m.running.Add(1)
	defer m.running.Add(-1)

	log := m.deps.LogManager.Logger()
	attrs := metric.WithAttributes(attribute.String("category", job.Category))

	start := time.Now()
	report, err := m.deps.Compare(job.Left, job.Right)
	m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)

	rec := storage.Record{
		Label:      job.Label,
		Category:   job.Category,
		Pair:       job.Pair,
		Left:       job.Left,
		Right:      job.Right,
		ComputedAt: m.deps.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
		m.errored.Add(1)
		m.failed.Add(ctx, 1, attrs)
		log.ErrorContext(ctx, "Comparison failed", "label", job.Label, "error", err)
	} else {
		rec.Report = report
		m.succeeded.Add(1)
		m.completed.Add(ctx, 1, attrs)
		log.DebugContext(ctx, "Comparison complete",
			"label", job.Label, "mpjpe", report.MPJPE, "frames", report.NumFrames, "joints", report.NumJoints)
	}

	if serr := m.backend.RecordComparison(&rec); serr != nil {
		log.ErrorContext(ctx, "Failed to store comparison", "label", job.Label, "error", serr)
	}
	return rec, err
}

func (m *Manager) canceled(job Job, err error) storage.Record {
	m.errored.Add(1)
	return storage.Record{
		Label:    job.Label,
		Category: job.Category,
		Pair:     job.Pair,
		Left:     job.Left,
		Right:    job.Right,
		Error:    err.Error(),
	}
}
