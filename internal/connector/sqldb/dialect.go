// SPDX-License-Identifier: LGPL-3.0-or-later

package sqldb

import (
	"fmt"
	"strings"
	"time"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
)

// dialect abstracts the differences between the supported SQL backends.
type dialect interface {
	name() string
	driver() string
	dsn(settings connector.Settings) (string, error)
	placeholder(n int) string
	columnType(t core.ValueType) string
	timeType() string
	// tableExistsQuery returns the query and args checking for a table.
	tableExistsQuery(table string) (string, []any)
	// encodeTime converts a timestamp into the driver representation.
	encodeTime(t time.Time) any
	// decodeTime converts a scanned time column back into a timestamp.
	decodeTime(v any) (time.Time, error)
}

func parseDialect(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite":
		return sqliteDialect{}, nil
	case "postgres", "postgresql":
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported dialect %q", name)
}

type sqliteDialect struct{}

// sqliteTimeFormat is fixed-width so the lexical order of the TEXT time
// column equals chronological order; RFC 3339 with variable fraction digits
// sorts "12:00:00.5Z" before "12:00:00Z".
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

func (sqliteDialect) name() string {
	return "sqlite"
}

func (sqliteDialect) driver() string {
	return "sqlite"
}

// dsn enforces WAL mode and busy_timeout through DSN pragmas so they apply
// to every connection in the pool.
func (sqliteDialect) dsn(settings connector.Settings) (string, error) {
	path, err := settings.RequireString("path")
	if err != nil {
		return "", err
	}
	busy := settings.Duration("busy_timeout", 5*time.Second)
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds(),
	), nil
}

func (sqliteDialect) placeholder(int) string {
	return "?"
}

func (sqliteDialect) columnType(t core.ValueType) string {
	switch t {
	case core.TypeInt, core.TypeBool:
		return "INTEGER"
	case core.TypeString:
		return "TEXT"
	}
	return "REAL"
}

func (sqliteDialect) timeType() string {
	return "TEXT"
}

func (sqliteDialect) tableExistsQuery(table string) (string, []any) {
	return "SELECT name FROM sqlite_master WHERE type='table' AND name=?", []any{table}
}

func (sqliteDialect) encodeTime(t time.Time) any {
	return t.UTC().Format(sqliteTimeFormat)
}

func (sqliteDialect) decodeTime(v any) (time.Time, error) {
	switch tv := v.(type) {
	case string:
		return parseTimeText(tv)
	case time.Time:
		return tv.UTC(), nil
	case []byte:
		return parseTimeText(string(tv))
	}
	return time.Time{}, fmt.Errorf("cannot decode time from %T", v)
}

// parseTimeText accepts the fixed-width format and, for rows written by
// other tools, plain RFC 3339.
func parseTimeText(s string) (time.Time, error) {
	if t, err := time.Parse(sqliteTimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type postgresDialect struct{}

func (postgresDialect) name() string {
	return "postgres"
}

func (postgresDialect) driver() string {
	return "pgx"
}

// dsn builds a keyword/value pgx connection string. TimeZone=UTC is passed
// as a runtime parameter so every session operates in UTC.
func (postgresDialect) dsn(settings connector.Settings) (string, error) {
	host, err := settings.RequireString("host")
	if err != nil {
		return "", err
	}
	database, err := settings.RequireString("database")
	if err != nil {
		return "", err
	}
	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", settings.Int("port", 5432)),
		"dbname=" + database,
		"sslmode=" + settings.String("sslmode", "prefer"),
		"TimeZone=UTC",
	}
	if user := settings.String("user", ""); user != "" {
		parts = append(parts, "user="+user)
	}
	if password := settings.String("password", ""); password != "" {
		parts = append(parts, "password="+password)
	}
	return strings.Join(parts, " "), nil
}

func (postgresDialect) placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) columnType(t core.ValueType) string {
	switch t {
	case core.TypeInt:
		return "BIGINT"
	case core.TypeBool:
		return "BOOLEAN"
	case core.TypeString:
		return "TEXT"
	}
	return "DOUBLE PRECISION"
}

func (postgresDialect) timeType() string {
	return "TIMESTAMPTZ"
}

func (postgresDialect) tableExistsQuery(table string) (string, []any) {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema='public' AND table_name=$1",
		[]any{table}
}

func (postgresDialect) encodeTime(t time.Time) any {
	return t.UTC()
}

func (postgresDialect) decodeTime(v any) (time.Time, error) {
	if tv, ok := v.(time.Time); ok {
		return tv.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot decode time from %T", v)
}
