// Package influx manages the InfluxDB connection used to store per-frame
// error series. When the server cannot be reached, points are appended as
// gzipped line protocol to a backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/mocapstudy/bvhcompare/internal/config"
)

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx is disabled")

// RetentionDays is applied to the bucket when it has to be created.
const RetentionDays = 90

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client  influxdb2.Client
	Writer  influxdb2_api.WriteAPIBlocking
	IsValid bool
	Logger  zerolog.Logger

	cfg          config.InfluxConfig
	mu           sync.Mutex
	backupFile   *os.File
	backupWriter *gzip.Writer
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{
		Logger: log,
		cfg:    cfg,
	}
}

// Connect establishes a connection to InfluxDB, falling back to the backup
// file when the server does not answer a ping.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetPrecision(time.Microsecond),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Warn().Err(err).Str("url", m.cfg.URL).Msg("InfluxDB not reachable")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.Writer = m.Client.WriteAPIBlocking(m.cfg.Org, m.cfg.Bucket)
	m.IsValid = true
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.cfg.BackupPath == "" {
		return fmt.Errorf("influxDB unreachable at %s and no backup path configured", m.cfg.URL)
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.BackupPath), 0755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}

	m.mu.Lock()
	m.backupFile = file
	m.backupWriter = gzip.NewWriter(file)
	m.mu.Unlock()

	m.Logger.Info().Str("backupPath", m.cfg.BackupPath).Msg("Writing InfluxDB points to backup file")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", m.cfg.Org).Msg("Error creating organization")
			return err
		}
	}

	if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * RetentionDays,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// WritePoints writes points to InfluxDB, or to the backup file when the
// server was not reachable on Connect.
func (m *Manager) WritePoints(ctx context.Context, points ...*influxdb2_write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if m.IsValid {
		if err := m.Writer.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("error sending data to InfluxDB: %w", err)
		}
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	for _, p := range points {
		line := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(p, time.Microsecond), "\n")
		if _, err := m.backupWriter.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
		}
	}
	return nil
}

// Close flushes the backup file, if any, and closes the client.
func (m *Manager) Close() error {
	var errs []error

	m.mu.Lock()
	if m.backupWriter != nil {
		errs = append(errs, m.backupWriter.Close())
		errs = append(errs, m.backupFile.Close())
		m.backupWriter = nil
		m.backupFile = nil
	}
	m.mu.Unlock()

	if m.Client != nil {
		m.Client.Close()
	}
	return errors.Join(errs...)
}
