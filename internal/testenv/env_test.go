package testenv

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"calc-tracker/internal/auth"
	"calc-tracker/internal/config"
	"calc-tracker/internal/fakedata"
	"calc-tracker/internal/models"
	"calc-tracker/internal/storage"
)

func testConfig(t *testing.T, opts Options) Config {
	t.Helper()
	return Config{
		DatabaseURL: "sqlite3://" + filepath.Join(t.TempDir(), "env.db"),
		DBLogLevel:  "silent",
		Options:     opts,
		Logger:      zerolog.New(zerolog.NewTestWriter(t)),
	}
}

func newEnv(t *testing.T, cfg Config) *Env {
	t.Helper()
	env, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Finalize(context.Background()) })
	return env
}

func readyEnv(t *testing.T, opts Options) *Env {
	t.Helper()
	env := newEnv(t, testConfig(t, opts))
	require.NoError(t, env.Initialize(context.Background()))
	return env
}

// reopen inspects the database file behind an Env from a separate pool.
func reopen(t *testing.T, url string) *gorm.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), url, storage.Options{Logger: zerolog.Nop(), LogLevel: "silent"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.Gorm
}

func rowCounts(t *testing.T, env *Env) map[string]int64 {
	t.Helper()
	counts, err := env.Schema().Counts(context.Background(), env.DB())
	require.NoError(t, err)
	return counts
}

func TestEnv_Lifecycle(t *testing.T) {
	cfg := testConfig(t, Options{})
	env := newEnv(t, cfg)
	ctx := context.Background()

	assert.Equal(t, Uninitialized, env.State())
	_, err := env.OpenSession(ctx)
	assert.Error(t, err, "sessions need a ready schema")

	require.NoError(t, env.Initialize(ctx))
	assert.Equal(t, SchemaReady, env.State())
	assert.Error(t, env.Initialize(ctx), "initialize runs once")

	for _, name := range env.Schema().Names() {
		assert.True(t, env.DB().Migrator().HasTable(name), name)
	}

	require.NoError(t, env.Finalize(ctx))
	assert.Equal(t, SchemaDropped, env.State())
	require.NoError(t, env.Finalize(ctx), "finalize twice")

	_, err = env.OpenSession(ctx)
	assert.Error(t, err)

	db := reopen(t, cfg.DatabaseURL)
	assert.False(t, db.Migrator().HasTable("users"))
	assert.False(t, db.Migrator().HasTable("calculations"))
}

func TestEnv_PreserveKeepsSchema(t *testing.T) {
	cfg := testConfig(t, Options{PreserveDB: true})
	env := newEnv(t, cfg)
	ctx := context.Background()
	require.NoError(t, env.Initialize(ctx))

	s, err := env.OpenSession(ctx)
	require.NoError(t, err)
	_, err = s.SeedUsers(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	require.NoError(t, env.Finalize(ctx))
	assert.Equal(t, SchemaPreserved, env.State())

	var count int64
	require.NoError(t, reopen(t, cfg.DatabaseURL).Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestEnv_InitializeRecreatesSchema(t *testing.T) {
	cfg := testConfig(t, Options{})
	ctx := context.Background()

	stale := reopen(t, cfg.DatabaseURL)
	require.NoError(t, storage.Init(ctx, stale))
	require.NoError(t, stale.Create(&models.User{FirstName: "Old", LastName: "Row", Email: "old@example.com", Username: "old", PasswordHash: "x"}).Error)

	env := newEnv(t, cfg)
	require.NoError(t, env.Initialize(ctx))
	assert.Equal(t, int64(0), rowCounts(t, env)["users"])
}

func TestEnv_Baseline(t *testing.T) {
	cfg := testConfig(t, Options{})
	called := false
	cfg.Baseline = func(ctx context.Context, db *gorm.DB) error {
		called = true
		if !db.Migrator().HasTable("users") {
			return errors.New("schema missing")
		}
		return nil
	}
	env := newEnv(t, cfg)
	require.NoError(t, env.Initialize(context.Background()))
	assert.True(t, called)

	failing := testConfig(t, Options{})
	failing.Baseline = func(context.Context, *gorm.DB) error { return errors.New("boom") }
	env = newEnv(t, failing)
	err := env.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, Uninitialized, env.State())
}

func TestEnv_TempDatabase(t *testing.T) {
	cfg := testConfig(t, Options{})
	cfg.DatabaseURL = ""
	env := newEnv(t, cfg)
	require.NoError(t, env.Initialize(context.Background()))

	url := env.DatabaseURL()
	require.True(t, strings.HasPrefix(url, "sqlite3://"), url)
	path := strings.TrimPrefix(url, "sqlite3://")
	assert.FileExists(t, path)

	require.NoError(t, env.Finalize(context.Background()))
	assert.NoDirExists(t, filepath.Dir(path))
}

func TestSession_ReleaseTruncates(t *testing.T) {
	env := readyEnv(t, Options{})
	ctx := context.Background()

	s, err := env.OpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, SessionOpen, s.State())

	users, err := s.SeedUsers(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, s.DB.Create(&models.Calculation{UserID: users[0].ID, Type: "addition", Inputs: []float64{1, 2}}).Error)
	assert.Equal(t, int64(3), rowCounts(t, env)["users"])

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, SessionClosed, s.State())
	require.NoError(t, s.Close(ctx), "close twice")

	for table, n := range rowCounts(t, env) {
		assert.Zero(t, n, table)
	}
}

func TestSession_PreserveKeepsRows(t *testing.T) {
	env := readyEnv(t, Options{PreserveDB: true})
	ctx := context.Background()

	s, err := env.OpenSession(ctx)
	require.NoError(t, err)
	_, err = s.SeedUsers(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, int64(2), rowCounts(t, env)["users"])
}

func TestSession_CleanupWhenTestStopsEarly(t *testing.T) {
	env := readyEnv(t, Options{})

	// A subtest that stops early still releases its session.
	t.Run("seeds", func(t *testing.T) {
		s := env.Session(t)
		env.SeedUsers(t, s, 4)
		t.SkipNow()
	})

	assert.Equal(t, int64(0), rowCounts(t, env)["users"])
}

func TestSession_RollsBackOpenTransaction(t *testing.T) {
	env := readyEnv(t, Options{PreserveDB: true})
	ctx := context.Background()

	s, err := env.OpenSession(ctx)
	require.NoError(t, err)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(&models.User{FirstName: "A", LastName: "B", Email: "a@example.com", Username: "ab", PasswordHash: "x"}).Error)

	_, err = s.Begin(ctx)
	assert.Error(t, err, "one transaction at a time")

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, int64(0), rowCounts(t, env)["users"])
}

func TestSession_BeginCommit(t *testing.T) {
	env := readyEnv(t, Options{})
	ctx := context.Background()
	s := env.Session(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(&models.User{FirstName: "A", LastName: "B", Email: "a@example.com", Username: "ab", PasswordHash: "x"}).Error)
	require.NoError(t, s.Commit())
	assert.Error(t, s.Commit())

	assert.Equal(t, int64(1), rowCounts(t, env)["users"])
}

func TestSession_TransactionError(t *testing.T) {
	env := readyEnv(t, Options{})
	ctx := context.Background()
	s := env.Session(t)

	row := func() *models.User {
		return &models.User{FirstName: "A", LastName: "B", Email: "dup@example.com", Username: "dup", PasswordHash: "x"}
	}
	err := s.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(row()).Error; err != nil {
			return err
		}
		return tx.Create(row()).Error
	})
	require.Error(t, err)

	var dbErr *DatabaseError
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, "transaction", dbErr.Op)
	assert.True(t, storage.IsUniqueViolation(err))

	var count int64
	require.NoError(t, s.DB.Model(&models.User{}).Count(&count).Error)
	assert.Zero(t, count, "the first insert was rolled back")
}

func TestEnv_WithSession(t *testing.T) {
	env := readyEnv(t, Options{})
	ctx := context.Background()

	err := env.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Create(&models.User{FirstName: "A", LastName: "B", Email: "w@example.com", Username: "w", PasswordHash: "x"}).Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowCounts(t, env)["users"])

	sentinel := errors.New("stop")
	err = env.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.User{FirstName: "C", LastName: "D", Email: "c@example.com", Username: "c", PasswordHash: "x"}).Error; err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int64(1), rowCounts(t, env)["users"])
}

func TestSeedUsers(t *testing.T) {
	env := readyEnv(t, Options{})
	ctx := context.Background()
	s := env.Session(t)

	none, err := s.SeedUsers(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)

	_, err = s.SeedUsers(ctx, -1)
	assert.Error(t, err)

	first := env.SeedDefaultUsers(t, s)
	second := env.SeedUsers(t, s, 7)
	require.Len(t, first, DefaultSeedCount)
	require.Len(t, second, 7)

	emails := map[string]bool{}
	usernames := map[string]bool{}
	for _, u := range append(first, second...) {
		assert.NotZero(t, u.ID)
		assert.NotEmpty(t, u.Email)
		assert.NotEmpty(t, u.Username)
		assert.False(t, emails[u.Email], "email %s repeated", u.Email)
		assert.False(t, usernames[u.Username], "username %s repeated", u.Username)
		emails[u.Email] = true
		usernames[u.Username] = true
	}

	assert.True(t, auth.CheckPassword(first[0].PasswordHash, first[0].Password))
	assert.Equal(t, int64(DefaultSeedCount+7), rowCounts(t, env)["users"])
}

func TestFakeUser_Deterministic(t *testing.T) {
	a := newEnv(t, testConfig(t, Options{}))
	b := newEnv(t, testConfig(t, Options{}))
	assert.Equal(t, a.FakeUser(), b.FakeUser())

	cfg := testConfig(t, Options{})
	cfg.FakerSeed = 99
	c := newEnv(t, cfg)
	assert.Equal(t, fakedata.New(99).User(), c.FakeUser())
}

func TestCreateUser(t *testing.T) {
	env := readyEnv(t, Options{})
	ctx := context.Background()
	s := env.Session(t)

	u, err := s.CreateUser(ctx, fakedata.User{Username: "fixed", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", u.Username)
	assert.NotEmpty(t, u.Email)
	assert.True(t, auth.CheckPassword(u.PasswordHash, "password123"))

	other := env.CreateUser(t, s)
	assert.NotEqual(t, u.ID, other.ID)
	assert.NotEqual(t, "fixed", other.Username)
}

func TestSkipUnlessSlow(t *testing.T) {
	var skipped, ran bool
	t.Run("gated", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		SkipUnlessSlow(t, Options{})
		ran = true
	})
	assert.True(t, skipped)
	assert.False(t, ran)

	t.Run("enabled", func(t *testing.T) {
		SkipUnlessSlow(t, Options{RunSlow: true})
		ran = true
	})
	assert.True(t, ran)
}

func TestOptionsFrom(t *testing.T) {
	opts := OptionsFrom(config.Test{PreserveDB: true})
	assert.True(t, opts.PreserveDB)
	assert.Equal(t, *runSlowFlag, opts.RunSlow)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "SCHEMA_READY", SchemaReady.String())
	assert.Equal(t, "SESSION_CLOSED", SessionClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
