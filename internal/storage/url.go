package storage

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	// database/sql drivers for the two sqlite flavours.
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names a database/sql driver.
type Driver string

const (
	DriverSQLite3  Driver = "sqlite3" // mattn/go-sqlite3, cgo
	DriverSQLite   Driver = "sqlite"  // modernc.org/sqlite, pure Go
	DriverPostgres Driver = "postgres"
)

const busyTimeoutMillis = 5000

// Target is a parsed database URL.
type Target struct {
	Driver Driver
	DSN    string
	// Path is the sqlite file path, empty for postgres.
	Path string
}

// Memory reports whether the target is a private in-memory sqlite
// database, which exists only on a single connection.
func (t Target) Memory() bool {
	return t.Path == ":memory:"
}

// ParseURL accepts sqlite3://path, sqlite://path, postgres:// and
// postgresql:// URLs.
func ParseURL(raw string) (Target, error) {
	switch {
	case strings.HasPrefix(raw, "sqlite3://"):
		path := strings.TrimPrefix(raw, "sqlite3://")
		return sqliteTarget(DriverSQLite3, path)
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		return sqliteTarget(DriverSQLite, path)
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Target{Driver: DriverPostgres, DSN: raw}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database url %q", redact(raw))
	}
}

func sqliteTarget(driver Driver, path string) (Target, error) {
	if path == "" {
		return Target{}, fmt.Errorf("%s url has no path", driver)
	}

	var params []string
	switch driver {
	case DriverSQLite3:
		params = []string{"_foreign_keys=1", fmt.Sprintf("_busy_timeout=%d", busyTimeoutMillis)}
	case DriverSQLite:
		params = []string{"_pragma=foreign_keys(1)", fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeoutMillis)}
	}

	dsn := "file:" + path
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn += sep + strings.Join(params, "&")

	return Target{Driver: driver, DSN: dsn, Path: strings.SplitN(path, "?", 2)[0]}, nil
}

// Dialector builds the gorm dialector for t. A non-nil conn pins the
// dialector to that connection instead of opening a pool.
func (t Target) Dialector(conn gorm.ConnPool) gorm.Dialector {
	switch t.Driver {
	case DriverPostgres:
		return postgres.New(postgres.Config{DSN: t.DSN, Conn: conn})
	default:
		return sqlite.New(sqlite.Config{DriverName: string(t.Driver), DSN: t.DSN, Conn: conn})
	}
}

// redact hides the password part of a URL in error messages.
func redact(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	creds := raw[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return raw[:scheme+3] + user + ":***" + raw[at:]
	}
	return raw
}
