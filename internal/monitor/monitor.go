// Package monitor periodically writes batch progress to a status file while
// comparisons run.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mocapstudy/bvhcompare/internal/logging"
	"github.com/mocapstudy/bvhcompare/internal/worker"
)

// DefaultInterval is used when Dependencies.Interval is not positive.
const DefaultInterval = time.Second

// ProgressSource reports job counts; *worker.Manager satisfies it.
type ProgressSource interface {
	Progress() worker.Progress
}

// Dependencies configures a Service.
type Dependencies struct {
	LogManager *logging.SlogManager
	Source     ProgressSource
	StatusFile string
	Interval   time.Duration
	Now        func() time.Time
}

// Status is one snapshot written to the status file.
type Status struct {
	Time    time.Time `json:"time"`
	Elapsed string    `json:"elapsed"`
	worker.Progress
}

// Service rewrites the status file on a ticker until stopped.
type Service struct {
	deps    Dependencies
	started time.Time

	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewService fills unset dependencies with defaults.
func NewService(deps Dependencies) *Service {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// IsRunning reports whether the ticker loop is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current progress snapshot.
func (s *Service) GetStatus() Status {
	now := s.deps.Now()
	return Status{
		Time:     now,
		Elapsed:  now.Sub(s.started).Round(time.Millisecond).String(),
		Progress: s.deps.Source.Progress(),
	}
}

// writeStatus replaces the status file with the current snapshot.
func (s *Service) writeStatus() error {
	st := s.GetStatus()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := os.Rename(tmp, s.deps.StatusFile); err != nil {
		return fmt.Errorf("replacing status file: %w", err)
	}
	s.deps.LogManager.Logger().Debug("Status updated",
		"queued", st.Queued, "running", st.Running, "completed", st.Completed, "failed", st.Failed)
	return nil
}

// Start validates the dependencies and launches the ticker loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if s.deps.Source == nil {
		return fmt.Errorf("monitor: no progress source")
	}
	if s.deps.StatusFile == "" {
		return fmt.Errorf("monitor: status file not set")
	}
	if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0755); err != nil {
		return fmt.Errorf("creating status dir: %w", err)
	}

	s.started = s.deps.Now()
	s.isRunning = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopChan)
	return nil
}

func (s *Service) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	logger := s.deps.LogManager.Logger()
	logger.Debug("Starting status monitor", "file", s.deps.StatusFile, "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.writeStatus(); err != nil {
				logger.Error("Error writing status file", "error", err)
			}
		}
	}
}

// Stop stops the status monitor and writes a final snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	if err := s.writeStatus(); err != nil {
		s.deps.LogManager.Logger().Error("Error writing final status", "error", err)
	}
}
