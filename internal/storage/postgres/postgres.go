// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/barkprotocol/token-sale-dapp/internal/storage"
	"github.com/barkprotocol/token-sale-dapp/internal/storage/models"
)

const migrationLockKey = 101

// sqlStorage implements storage.Storage on top of GORM.
type sqlStorage struct {
	db       *gorm.DB
	postgres bool
	logger   *zap.Logger
}

// Open connects to the database named by dsn. postgres:// and postgresql://
// DSNs use the Postgres driver; file: and sqlite:// DSNs use SQLite.
func Open(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	dialector, isPostgres, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if isPostgres {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	return &sqlStorage{
		db:       db,
		postgres: isPostgres,
		logger:   zapLogger.Named("storage"),
	}, nil
}

func dialectorFor(dsn string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return pgdriver.Open(dsn), true, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), false, nil
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported database url %q", redact(dsn))
	}
}

// redact hides credentials in a DSN before it is logged or returned.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

// RunMigrations applies AutoMigrate and seeds the counter row. On Postgres it
// holds an advisory lock on one pinned connection while doing so.
func (p *sqlStorage) RunMigrations() error {
	if !p.postgres {
		return p.migrate(p.db)
	}

	return p.db.Connection(func(conn *gorm.DB) error {
		var lockObtained bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", migrationLockKey).Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return errors.New("another migration is in progress")
		}
		defer conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockKey)

		return p.migrate(conn)
	})
}

func (p *sqlStorage) migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.SaleState{}, &models.Purchase{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SaleState{ID: models.SaleStateID}).Error
	if err != nil {
		return fmt.Errorf("failed to seed sale state: %w", err)
	}
	p.logger.Info("Database migrated", zap.Bool("postgres", p.postgres))
	return nil
}

func (p *sqlStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *sqlStorage) withContext(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx)
}
