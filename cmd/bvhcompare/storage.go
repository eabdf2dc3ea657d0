package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mocapstudy/bvhcompare/internal/config"
	"github.com/mocapstudy/bvhcompare/internal/influx"
	"github.com/mocapstudy/bvhcompare/internal/logging"
	"github.com/mocapstudy/bvhcompare/internal/storage"
	influxstorage "github.com/mocapstudy/bvhcompare/internal/storage/influx"
	"github.com/mocapstudy/bvhcompare/internal/storage/memory"
	pgstorage "github.com/mocapstudy/bvhcompare/internal/storage/postgres"
	sqlitestorage "github.com/mocapstudy/bvhcompare/internal/storage/sqlite"
)

// createStorageBackend builds the backends named in types and fans records
// out to all of them. The InfluxDB sink is added when enabled in config.
func createStorageBackend(types string, zl zerolog.Logger, logManager *logging.SlogManager) (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()
	logger := logManager.Logger()

	var backends []storage.Backend
	for _, t := range splitList(types) {
		switch t {
		case "memory":
			backends = append(backends, memory.New(storageCfg.Memory))
			logger.Info("Memory storage backend initialized", "outputDir", storageCfg.Memory.OutputDir)

		case "sqlite":
			backend, err := sqlitestorage.New(storageCfg.SQLite, zl.With().Str("db", "sqlite").Logger(), logManager)
			if err != nil {
				return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
			}
			backends = append(backends, backend)
			logger.Info("SQLite storage backend initialized", "dumpPath", storageCfg.SQLite.DumpPath)

		case "postgres":
			backends = append(backends, pgstorage.New(config.GetPostgresConfig(), zl.With().Str("db", "postgres").Logger(), logManager))
			logger.Info("Postgres storage backend initialized")

		case "none":

		default:
			return nil, fmt.Errorf("unknown storage type: %s", t)
		}
	}

	if ic := config.GetInfluxConfig(); ic.Enabled {
		mgr := influx.NewManager(zl.With().Str("db", "influx").Logger(), ic)
		backends = append(backends, influxstorage.New(mgr))
		logger.Info("InfluxDB sink enabled", "url", ic.URL, "bucket", ic.Bucket)
	}

	if len(backends) == 0 {
		return storage.Discard, nil
	}
	return storage.Fanout(backends...), nil
}
