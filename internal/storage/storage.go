// Package storage opens the relational database behind the service and
// manages its schema.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"calc-tracker/internal/logging"
	"calc-tracker/internal/models"
)

// Options tunes Open.
type Options struct {
	Logger   zerolog.Logger
	LogLevel string
}

// DB is an open connection pool plus what is needed to pin gorm handles to
// single connections.
type DB struct {
	Gorm   *gorm.DB
	target Target
	opts   Options

	mu     sync.Mutex
	closed bool
}

// Open connects to the database named by rawURL and verifies it with a ping.
func Open(ctx context.Context, rawURL string, opts Options) (*DB, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	d := &DB{target: target, opts: opts}
	gdb, err := gorm.Open(target.Dialector(nil), d.gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", target.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if target.Memory() {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s database: %w", target.Driver, err)
	}

	d.Gorm = gdb
	opts.Logger.Debug().Str("driver", string(target.Driver)).Str("path", target.Path).Msg("Database connection established")
	return d, nil
}

func (d *DB) gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logging.NewGormLogger(d.opts.Logger, logging.ParseGormLevel(d.opts.LogLevel)),
	}
}

// Target returns the parsed URL the pool was opened with.
func (d *DB) Target() Target { return d.target }

// Conn checks out one connection from the pool and returns a gorm handle
// bound to it. Closing conn returns it to the pool; the handle must not be
// used afterwards.
func (d *DB) Conn(ctx context.Context) (*gorm.DB, *sql.Conn, error) {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return nil, nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	gdb, err := gorm.Open(d.target.Dialector(conn), d.gormConfig())
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("bind connection: %w", err)
	}
	return gdb.WithContext(ctx), conn, nil
}

// Ping verifies the pool is alive.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the pool. Safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	d.closed = true
	return sqlDB.Close()
}

// Init creates any missing table for the service models. It is idempotent
// and runs at service startup and as the test seeding routine.
func Init(ctx context.Context, db *gorm.DB) error {
	schema, err := NewSchema(db, models.All()...)
	if err != nil {
		return err
	}
	return schema.Create(ctx, db)
}

// IsUniqueViolation reports whether err comes from a unique constraint.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || containsAny(err, "UNIQUE constraint failed", "duplicate key value")
}

func containsAny(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	for _, n := range needles {
		if strings.Contains(err.Error(), n) {
			return true
		}
	}
	return false
}
