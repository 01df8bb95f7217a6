// Package fakedata generates realistic, reproducible user records.
package fakedata

import (
	"fmt"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

// DefaultSeed makes runs reproducible unless a caller picks another seed.
const DefaultSeed uint64 = 12345

const (
	passwordLength = 12
	maxAttempts    = 10
)

// User holds the attributes of a generated user. Password is plain text.
type User struct {
	FirstName string
	LastName  string
	Email     string
	Username  string
	Password  string
}

// Generator hands out users whose email and username are unique for the
// lifetime of the generator. It is safe for concurrent use.
type Generator struct {
	mu        sync.Mutex
	faker     *gofakeit.Faker
	emails    map[string]struct{}
	usernames map[string]struct{}
	seq       int
}

func New(seed uint64) *Generator {
	return &Generator{
		faker:     gofakeit.New(seed),
		emails:    make(map[string]struct{}),
		usernames: make(map[string]struct{}),
	}
}

func (g *Generator) User() User {
	g.mu.Lock()
	defer g.mu.Unlock()

	return User{
		FirstName: g.faker.FirstName(),
		LastName:  g.faker.LastName(),
		Email:     g.unique(g.emails, g.faker.Email, suffixEmail),
		Username:  g.unique(g.usernames, g.faker.Username, suffixUsername),
		Password:  g.faker.Password(true, true, true, false, false, passwordLength),
	}
}

// Users returns n users.
func (g *Generator) Users(n int) []User {
	out := make([]User, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.User())
	}
	return out
}

// Reserve marks an email and username as taken, for records created
// outside the generator.
func (g *Generator) Reserve(email, username string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if email != "" {
		g.emails[strings.ToLower(email)] = struct{}{}
	}
	if username != "" {
		g.usernames[strings.ToLower(username)] = struct{}{}
	}
}

func (g *Generator) unique(seen map[string]struct{}, next func() string, suffix func(string, int) string) string {
	for i := 0; i < maxAttempts; i++ {
		v := next()
		key := strings.ToLower(v)
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			return v
		}
	}
	// The faker's pools ran dry; disambiguate with a counter.
	for {
		g.seq++
		v := suffix(next(), g.seq)
		key := strings.ToLower(v)
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			return v
		}
	}
}

func suffixEmail(email string, n int) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return fmt.Sprintf("%s%d", email, n)
	}
	return fmt.Sprintf("%s%d@%s", local, n, domain)
}

func suffixUsername(username string, n int) string {
	return fmt.Sprintf("%s%d", username, n)
}
