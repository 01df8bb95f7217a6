// Package testenv prepares the database, fake data, application process
// and browser that tests run against.
//
// A test binary builds one Env in TestMain:
//
//	var env *testenv.Env
//
//	func TestMain(m *testing.M) {
//		os.Exit(testenv.Main(m, func(e *testenv.Env) { env = e }))
//	}
//
// and each test takes a session that is wiped when the test ends:
//
//	s := env.Session(t)
//	users := env.SeedUsers(t, s, 3)
package testenv

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"calc-tracker/internal/config"
	"calc-tracker/internal/fakedata"
	"calc-tracker/internal/logging"
	"calc-tracker/internal/models"
	"calc-tracker/internal/storage"
)

// Config describes one test run.
type Config struct {
	// DatabaseURL selects the test database. Empty means a fresh sqlite3
	// file in a temporary directory.
	DatabaseURL string
	DBLogLevel  string
	Options     Options
	FakerSeed   uint64
	Logger      zerolog.Logger
	Server      ServerConfig
	Headless    bool
	// Models defaults to models.All.
	Models []any
	// Baseline runs after the schema is created, on the pooled handle.
	Baseline func(ctx context.Context, db *gorm.DB) error
}

// ConfigFrom derives a run configuration from the loaded settings.
func ConfigFrom(cfg *config.Config, logger zerolog.Logger) Config {
	return Config{
		DatabaseURL: cfg.Test.DatabaseURL,
		DBLogLevel:  cfg.Database.LogLevel,
		Options:     OptionsFrom(cfg.Test),
		FakerSeed:   uint64(cfg.Test.FakerSeed),
		Logger:      logger,
		Server: ServerConfig{
			Command: cfg.Test.ServerArgv(),
			URL:     cfg.Test.ServerURL,
			Timeout: cfg.Test.ServerTimeout,
		},
		Headless: true,
	}
}

// Env is the run context shared by every test of one binary.
type Env struct {
	cfg     Config
	log     zerolog.Logger
	url     string
	tempDir string
	db      *storage.DB
	schema  *storage.Schema
	faker   *fakedata.Generator

	mu       sync.Mutex
	state    State
	sessions int

	server     *Server
	serverErr  error
	browser    *Browser
	browserErr error
}

// New opens the test database and builds the schema registry. The schema
// itself is untouched until Initialize.
func New(ctx context.Context, cfg Config) (*Env, error) {
	if cfg.FakerSeed == 0 {
		cfg.FakerSeed = fakedata.DefaultSeed
	}
	if len(cfg.Models) == 0 {
		cfg.Models = models.All()
	}

	e := &Env{
		cfg:   cfg,
		log:   logging.Component(cfg.Logger, "testenv"),
		url:   cfg.DatabaseURL,
		faker: fakedata.New(cfg.FakerSeed),
	}

	if e.url == "" {
		dir, err := os.MkdirTemp("", "calc-tracker-test-")
		if err != nil {
			return nil, fmt.Errorf("create test database dir: %w", err)
		}
		e.tempDir = dir
		e.url = "sqlite3://" + filepath.Join(dir, "test.db")
	}

	db, err := storage.Open(ctx, e.url, storage.Options{Logger: cfg.Logger, LogLevel: cfg.DBLogLevel})
	if err != nil {
		e.removeTempDir()
		return nil, err
	}
	e.db = db

	schema, err := storage.NewSchema(db.Gorm, cfg.Models...)
	if err != nil {
		db.Close()
		e.removeTempDir()
		return nil, err
	}
	e.schema = schema

	e.log.Debug().Str("database", db.Target().Path).Strs("tables", schema.Names()).Msg("Test environment created")
	return e, nil
}

// Initialize drops and recreates every table, then runs the seeding
// routine. It may run only once per Env.
func (e *Env) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Uninitialized {
		return fmt.Errorf("initialize: environment is %s", e.state)
	}

	gdb := e.db.Gorm.WithContext(ctx)
	if err := e.schema.Drop(ctx, gdb); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := e.schema.Create(ctx, gdb); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := storage.Init(ctx, gdb); err != nil {
		return fmt.Errorf("initialize: seed: %w", err)
	}
	if e.cfg.Baseline != nil {
		if err := e.cfg.Baseline(ctx, gdb); err != nil {
			return fmt.Errorf("initialize: baseline: %w", err)
		}
	}

	e.state = SchemaReady
	e.log.Info().Strs("tables", e.schema.Names()).Msg("Test schema ready")
	return nil
}

// Finalize tears the run down: the schema is dropped unless preserved,
// and the live server, browser and database are closed. Every step runs
// even when an earlier one fails. Calling it again is a no-op.
func (e *Env) Finalize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == SchemaDropped || e.state == SchemaPreserved {
		return nil
	}

	var errs []error
	if e.sessions > 0 {
		e.log.Warn().Int("sessions", e.sessions).Msg("Finalizing with sessions still open")
	}

	if e.server != nil {
		if err := e.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if e.cfg.Options.PreserveDB {
		e.state = SchemaPreserved
		e.log.Info().Str("database", e.url).Msg("Preserving test database")
	} else {
		if err := e.schema.Drop(ctx, e.db.Gorm.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("finalize: %w", err))
		}
		e.state = SchemaDropped
	}

	if err := e.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if !e.cfg.Options.PreserveDB {
		if err := e.removeTempDir(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Env) removeTempDir() error {
	if e.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(e.tempDir); err != nil {
		return fmt.Errorf("remove test database dir: %w", err)
	}
	e.tempDir = ""
	return nil
}

// State returns the lifecycle state of the schema.
func (e *Env) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// DB returns the pooled handle, for code under test that needs its own
// connections, such as an in-process HTTP server.
func (e *Env) DB() *gorm.DB { return e.db.Gorm }

func (e *Env) Schema() *storage.Schema { return e.schema }

func (e *Env) Logger() zerolog.Logger { return e.log }

func (e *Env) Options() Options { return e.cfg.Options }

// DatabaseURL returns the URL of the test database, including the
// generated one when Config.DatabaseURL was empty.
func (e *Env) DatabaseURL() string { return e.url }

// Slow skips t unless slow tests were requested.
func (e *Env) Slow(t testing.TB) {
	t.Helper()
	SkipUnlessSlow(t, e.cfg.Options)
}

// Main runs a test binary inside an Env: it loads configuration, builds
// and initializes the Env, hands it to bind and runs the tests. The Env
// is finalized on every return path. Use it as
// os.Exit(testenv.Main(m, bind)).
func Main(m *testing.M, bind func(*Env)) int {
	if !flag.Parsed() {
		flag.Parse()
	}

	cfg, err := config.Load(config.LoadOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testenv: load config: %v\n", err)
		return 1
	}
	logger := logging.New(cfg.Log)

	ctx := context.Background()
	env, err := New(ctx, ConfigFrom(cfg, logger))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create test environment")
		return 1
	}
	defer func() {
		finalizeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := env.Finalize(finalizeCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to finalize test environment")
		}
	}()

	if err := env.Initialize(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to initialize test database")
		return 1
	}

	if bind != nil {
		bind(env)
	}
	return m.Run()
}
