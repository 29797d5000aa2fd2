package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/config"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrFileNotFound is returned when no FileRecord exists for a key
var ErrFileNotFound = errors.New("file record not found")

// ErrKeyConflict is returned when two upload keys would derive the same
// chunk, text and metadata objects
var ErrKeyConflict = errors.New("file key conflicts with an existing file")

type GORMStore struct {
	db *gorm.DB
}

// NewGORMStore wraps an already opened connection
func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

// StartGORM opens the PostgreSQL connection described by the environment.
// The pool is sized so every consumer worker can hold a transaction.
func StartGORM() (*GORMStore, error) {
	env, err := config.Get()
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		env.DB_HOST, env.DB_USER_NAME, env.DB_PASSWORD, env.DB_NAME, env.DB_PORT, env.DB_SSL_MODE,
	)

	level := logger.Warn
	if env.GO_ENV == "production" {
		level = logger.Error
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(level),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres at %s:%s: %w", env.DB_HOST, env.DB_PORT, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// four consumers share WORKER_POOL_SIZE workers each, plus the API
	maxOpen := 4*env.WORKER_POOL_SIZE + 10
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen / 4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infof("Connected to PostgreSQL %s (max %d connections)", env.DB_NAME, maxOpen)
	return &GORMStore{db: db}, nil
}

// Init creates or updates the pipeline tables
func (s *GORMStore) Init() error {
	err := s.db.AutoMigrate(
		&model.FileRecord{},
		&model.InstituteMetadata{},
		&model.UniversityMetadata{},
		&model.ProgramMetadata{},
		&model.VocationalCenterMetadata{},
		&model.CronJobLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate pipeline tables: %w", err)
	}
	log.Debug("Pipeline tables migrated")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB exposes the handle for callers that build their own queries
func (s *GORMStore) GetDB() interface{} {
	return s.db
}

// HealthCheck pings the database
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
