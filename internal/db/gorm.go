package db

import (
	"context"
	"fmt"

	"blueprint-sync/internal/config"
	"blueprint-sync/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm connects to the relay's Postgres database and migrates it
// Learning: GORM provides a higher-level abstraction over raw SQL
func NewGorm(cfg *config.Config) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Msg("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// NewLocal opens the editor's local SQLite update store.
// path may be ":memory:" or a "file:...?mode=memory" URI for tests.
func NewLocal(path string) (*GormDB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store %s: %w", path, err)
	}

	// Only the update log lives locally
	if err := db.AutoMigrate(&models.DocumentUpdate{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}

	return &GormDB{db}, nil
}

// Migrate creates/updates the tables this service owns.
// projects and crew_members belong to the operations app and are only read.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.DocumentUpdate{},
		&models.SavedBlueprint{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Ping checks the connection is still usable
func (db *GormDB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
