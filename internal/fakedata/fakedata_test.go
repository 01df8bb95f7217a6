package fakedata

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := New(DefaultSeed).Users(5)
	b := New(DefaultSeed).Users(5)
	assert.Equal(t, a, b)

	c := New(DefaultSeed + 1).Users(5)
	assert.NotEqual(t, a, c)
}

func TestGenerator_UserShape(t *testing.T) {
	u := New(DefaultSeed).User()
	assert.NotEmpty(t, u.FirstName)
	assert.NotEmpty(t, u.LastName)
	assert.Contains(t, u.Email, "@")
	assert.NotEmpty(t, u.Username)
	assert.Len(t, u.Password, passwordLength)
}

func TestGenerator_Unique(t *testing.T) {
	users := New(DefaultSeed).Users(500)

	emails := make(map[string]bool)
	usernames := make(map[string]bool)
	for _, u := range users {
		e, n := strings.ToLower(u.Email), strings.ToLower(u.Username)
		require.False(t, emails[e], "duplicate email %s", u.Email)
		require.False(t, usernames[n], "duplicate username %s", u.Username)
		emails[e] = true
		usernames[n] = true
	}
}

func TestGenerator_Reserve(t *testing.T) {
	first := New(DefaultSeed).User()

	g := New(DefaultSeed)
	g.Reserve(strings.ToUpper(first.Email), first.Username)
	got := g.User()
	assert.NotEqual(t, strings.ToLower(first.Email), strings.ToLower(got.Email))
	assert.NotEqual(t, first.Username, got.Username)
}

func TestGenerator_Concurrent(t *testing.T) {
	g := New(DefaultSeed)
	var wg sync.WaitGroup
	results := make(chan User, 100)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, u := range g.Users(25) {
				results <- u
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for u := range results {
		require.False(t, seen[u.Username])
		seen[u.Username] = true
	}
	assert.Len(t, seen, 100)
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "jane7@example.com", suffixEmail("jane@example.com", 7))
	assert.Equal(t, "jane3", suffixUsername("jane", 3))
}
