package testenv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DatabaseError wraps a failure that happened while a session talked to the
// database. The work was rolled back before it was returned.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Session is one test's dedicated connection to the test database.
type Session struct {
	// DB is bound to the session's connection and must not be used after
	// Close.
	DB *gorm.DB

	env  *Env
	conn *sql.Conn
	log  zerolog.Logger

	mu    sync.Mutex
	state State
	tx    *gorm.DB
}

// OpenSession checks out a dedicated connection. The schema must be ready.
func (e *Env) OpenSession(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != SchemaReady {
		return nil, fmt.Errorf("open session: environment is %s", e.state)
	}

	gdb, conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, &DatabaseError{Op: "open session", Err: err}
	}
	e.sessions++

	return &Session{
		DB:    gdb,
		env:   e,
		conn:  conn,
		log:   e.log,
		state: SessionOpen,
	}, nil
}

// Session opens a session for t and closes it when t and its subtests
// finish, whether they passed or not.
func (e *Env) Session(t testing.TB) *Session {
	t.Helper()

	s, err := e.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("testenv: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(context.Background()); err != nil {
			t.Errorf("testenv: release session: %v", err)
		}
	})
	return s
}

// State returns the lifecycle state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin starts a transaction on the session. Close rolls it back if the
// caller has not finished it.
func (s *Session) Begin(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return nil, fmt.Errorf("begin: session is %s", s.state)
	}
	if s.tx != nil {
		return nil, errors.New("begin: transaction already open")
	}
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, &DatabaseError{Op: "begin", Err: tx.Error}
	}
	s.tx = tx
	return tx, nil
}

// Commit commits the transaction opened by Begin.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return errors.New("commit: no open transaction")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		s.log.Error().Err(err).Msg("Commit failed")
		return &DatabaseError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback abandons the transaction opened by Begin.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return &DatabaseError{Op: "rollback", Err: err}
	}
	return nil
}

// Transaction runs fn in a transaction on the session's connection. Any
// error is logged and the transaction rolled back before it is returned.
func (s *Session) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if state := s.State(); state != SessionOpen {
		return fmt.Errorf("transaction: session is %s", state)
	}
	if err := s.DB.WithContext(ctx).Transaction(fn); err != nil {
		s.log.Error().Err(err).Msg("Database error, transaction rolled back")
		return &DatabaseError{Op: "transaction", Err: err}
	}
	return nil
}

// Close releases the session: an open transaction is rolled back, every
// table is emptied unless the database is preserved, and the connection is
// returned to the pool whatever happened before. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	return s.release(ctx, !s.env.cfg.Options.PreserveDB)
}

func (s *Session) release(ctx context.Context, clean bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return nil
	}
	s.state = SessionClosing

	var errs []error
	if err := s.rollbackLocked(); err != nil {
		errs = append(errs, err)
	}

	if !clean {
		s.log.Debug().Msg("Keeping session rows")
	} else if err := s.env.schema.Truncate(ctx, s.DB.WithContext(ctx)); err != nil {
		s.log.Error().Err(err).Msg("Failed to clean up session rows")
		errs = append(errs, &DatabaseError{Op: "truncate", Err: err})
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, &DatabaseError{Op: "close session", Err: err})
	}
	s.state = SessionClosed

	s.env.mu.Lock()
	s.env.sessions--
	s.env.mu.Unlock()

	return errors.Join(errs...)
}

// WithSession runs fn in a transaction on a short-lived session. Committed
// rows are kept; the next test session to close removes them.
func (e *Env) WithSession(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s, err := e.OpenSession(ctx)
	if err != nil {
		return err
	}
	txErr := s.Transaction(ctx, fn)
	return errors.Join(txErr, s.release(ctx, false))
}
