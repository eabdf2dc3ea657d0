// Package database opens the GORM connections used by the SQL storage
// backends and manages the study schema.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mocapstudy/bvhcompare/internal/config"
	"github.com/mocapstudy/bvhcompare/internal/model"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ""

// Manager holds one database connection and its schema lifecycle.
type Manager struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	Logger zerolog.Logger
}

// NewManager creates a Manager that logs through log.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// ConnectPostgres opens and pings a Postgres connection.
func (m *Manager) ConnectPostgres(cfg config.PostgresConfig) error {
	m.Logger.Debug().Str("host", cfg.Host).Str("port", cfg.Port).Str("database", cfg.Database).
		Msg("Connecting to Postgres DB")

	db, err := GetPostgresDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := m.attach(db); err != nil {
		return err
	}
	if err := m.SqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	m.SqlDB.SetMaxOpenConns(10)

	m.Logger.Info().Msg("Connected to database")
	return nil
}

// ConnectSqlite opens a SQLite database at path, or in memory when path is
// MemoryPath.
func (m *Manager) ConnectSqlite(path string) error {
	db, err := GetSqliteDB(path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := m.attach(db); err != nil {
		return err
	}

	if path == MemoryPath {
		m.Logger.Info().Msg("Using local SQLite DB in memory with periodic disk dump")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}
	return nil
}

func (m *Manager) attach(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	m.DB = db
	m.SqlDB = sqlDB
	return nil
}

// Setup migrates the schema and seeds the study info row.
func (m *Manager) Setup() error {
	return Setup(m.DB, m.Logger)
}

// DumpMemoryToDisk vacuums the in-memory database to path.
func (m *Manager) DumpMemoryToDisk(path string) error {
	start := time.Now()
	if err := DumpMemoryDBToDisk(m.DB, path); err != nil {
		return err
	}
	m.Logger.Debug().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped memory DB to disk")
	return nil
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}

// Setup migrates model.DatabaseModels on db and creates the study info row
// if the table is new.
func Setup(db *gorm.DB, log zerolog.Logger) error {
	if !db.Migrator().HasTable(&model.StudyInfo{}) {
		if err := db.AutoMigrate(&model.StudyInfo{}); err != nil {
			return fmt.Errorf("failed to create study_infos table: %w", err)
		}
		if err := db.Create(&model.StudyInfo{
			Name:        "bvhcompare",
			Description: "MPJPE comparisons of low/high effort motion pairs",
		}).Error; err != nil {
			return fmt.Errorf("failed to create study_infos entry: %w", err)
		}
	}

	log.Info().Msg("Migrating schema")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Info().Msg("Database setup complete")
	return nil
}

// GetPostgresDB opens a Postgres connection without pinging it.
func GetPostgresDB(cfg config.PostgresConfig) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB opens a SQLite database at path. MemoryPath gives an in-memory
// database limited to a single connection so every query sees the same data.
func GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if path == MemoryPath {
		dsn = "file::memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if path == MemoryPath {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// DumpMemoryDBToDisk writes a point-in-time copy of db to path with VACUUM
// INTO, replacing any existing file.
func DumpMemoryDBToDisk(db *gorm.DB, path string) error {
	if path == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	return nil
}
