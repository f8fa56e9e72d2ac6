package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Raytar/helpqueue/models"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Driver string `mapstructure:"db-driver"`
	DSN    string `mapstructure:"db-dsn"`
	Debug  bool   `mapstructure:"gorm-debug"`
}

type Database struct {
	conn        *gorm.DB
	log         *logrus.Logger
	zap         *zap.Logger
	clock       clockwork.Clock
	locks       *userLocks
	courseLocks *userLocks
	rowLocks    bool

	mu    sync.RWMutex
	feeds map[string][]ChangeHandler
}

// Open connects to the configured database and migrates the schema.
// Timestamps used in queries are taken from clock.
func Open(cfg Config, logger *logrus.Logger, clock clockwork.Clock) (*Database, error) {
	dialector, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	lgr, err := Zap(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create gorm logger: %w", err)
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGORMLogger(lgr, cfg.Debug),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return clock.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialector.Name(), err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		// sqlite allows a single writer; one connection keeps transactions
		// from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Database{
		conn:        conn,
		log:         logger,
		zap:         lgr,
		clock:       clock,
		locks:       newUserLocks(),
		courseLocks: newUserLocks(),
		rowLocks:    dialector.Name() == "postgres",
		feeds:       make(map[string][]ChangeHandler),
	}, nil
}

func dialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// Now returns the current time as stored in the database.
func (db *Database) Now() time.Time {
	return Timestamp(db.clock.Now())
}

// Timestamp normalizes t to the precision and zone stored by every driver.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Ping checks that the database is reachable.
func (db *Database) Ping(ctx context.Context) error {
	conn, err := db.conn.DB()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

func (db *Database) Close() error {
	defer func() { _ = db.zap.Sync() }()
	conn, err := db.conn.DB()
	if err != nil {
		return err
	}
	return conn.Close()
}
