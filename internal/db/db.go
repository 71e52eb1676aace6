package db

import (
	"context"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	*gorm.DB
}

// Connect opens the database named by dsn. postgres:// and postgresql:// DSNs use
// PostgreSQL; anything else is treated as a SQLite file path.
func Connect(dsn string) (*DB, error) {
	if isPostgres(dsn) {
		return open(postgres.Open(dsn), &gorm.Config{
			Logger:                 logger.Default.LogMode(logger.Warn),
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
			TranslateError:         true,
		}, 10, 100)
	}
	return openSQLite(dsn)
}

// NewInMemory opens a private in-memory SQLite database with the schema applied.
func NewInMemory() (*DB, error) {
	database, err := openSQLite(":memory:")
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func openSQLite(path string) (*DB, error) {
	// SQLite allows a single writer; one pooled connection also keeps an
	// in-memory database alive for the lifetime of the pool.
	return open(sqlite.Open(path), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}, 1, 1)
}

func open(dialector gorm.Dialector, cfg *gorm.Config, maxIdle, maxOpen int) (*DB, error) {
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	if maxOpen > 1 {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &DB{DB: db}, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Transaction runs fn inside a database transaction bound to ctx.
// The transaction is rolled back if fn returns an error.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DB{DB: tx})
	})
}

// Ping checks if the database connection is alive
func (db *DB) Ping() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
