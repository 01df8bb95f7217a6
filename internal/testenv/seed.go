package testenv

import (
	"context"
	"fmt"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"calc-tracker/internal/auth"
	"calc-tracker/internal/fakedata"
	"calc-tracker/internal/models"
)

// DefaultSeedCount is the number of users SeedDefaultUsers creates.
const DefaultSeedCount = 5

// SeededUser is a stored user plus the plain-text password it was created
// with, so tests can log in as it.
type SeededUser struct {
	models.User
	Password string
}

// FakeUser returns fresh user attributes. Email and username never repeat
// within the run.
func (e *Env) FakeUser() fakedata.User {
	return e.faker.User()
}

// SeedUsers inserts n fake users in one transaction and returns them with
// their IDs set.
func (s *Session) SeedUsers(ctx context.Context, n int) ([]SeededUser, error) {
	if n < 0 {
		return nil, fmt.Errorf("seed users: count must not be negative (got: %d)", n)
	}
	if n == 0 {
		return []SeededUser{}, nil
	}

	fakes := s.env.faker.Users(n)
	rows := make([]models.User, n)
	for i, f := range fakes {
		row, err := newUserRow(f)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	err := s.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]SeededUser, n)
	for i := range rows {
		out[i] = SeededUser{User: rows[i], Password: fakes[i].Password}
	}
	s.log.Info().Int("count", n).Msg("Seeded users")
	return out, nil
}

// CreateUser stores a single user. Empty fields of attrs are filled with
// fake values.
func (s *Session) CreateUser(ctx context.Context, attrs fakedata.User) (*SeededUser, error) {
	s.env.faker.Reserve(attrs.Email, attrs.Username)
	fake := s.env.faker.User()
	if attrs.FirstName == "" {
		attrs.FirstName = fake.FirstName
	}
	if attrs.LastName == "" {
		attrs.LastName = fake.LastName
	}
	if attrs.Email == "" {
		attrs.Email = fake.Email
	}
	if attrs.Username == "" {
		attrs.Username = fake.Username
	}
	if attrs.Password == "" {
		attrs.Password = fake.Password
	}

	row, err := newUserRow(attrs)
	if err != nil {
		return nil, err
	}
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("username", row.Username).Msg("Created test user")
	return &SeededUser{User: row, Password: attrs.Password}, nil
}

// newUserRow hashes at bcrypt.MinCost.
func newUserRow(u fakedata.User) (models.User, error) {
	hash, err := auth.HashPassword(u.Password, bcrypt.MinCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	return models.User{
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: hash,
	}, nil
}

// SeedUsers is Session.SeedUsers that fails t on error.
func (e *Env) SeedUsers(t testing.TB, s *Session, n int) []SeededUser {
	t.Helper()
	users, err := s.SeedUsers(context.Background(), n)
	if err != nil {
		t.Fatalf("testenv: seed users: %v", err)
	}
	return users
}

// SeedDefaultUsers seeds DefaultSeedCount users.
func (e *Env) SeedDefaultUsers(t testing.TB, s *Session) []SeededUser {
	t.Helper()
	return e.SeedUsers(t, s, DefaultSeedCount)
}

// CreateUser stores one fake user for t.
func (e *Env) CreateUser(t testing.TB, s *Session) *SeededUser {
	t.Helper()
	u, err := s.CreateUser(context.Background(), fakedata.User{})
	if err != nil {
		t.Fatalf("testenv: create user: %v", err)
	}
	return u
}
