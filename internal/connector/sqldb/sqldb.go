// SPDX-License-Identifier: LGPL-3.0-or-later

// Package sqldb implements the SQL database connector for time-series
// storage, supporting sqlite and postgres dialects.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver, pure Go

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/log"
)

// Type is the registered connector type name.
const Type = "sql"

const timeColumn = "time"

func init() {
	connector.Register(Type, func(id string, settings connector.Settings) (connector.Connector, error) {
		return New(id, settings)
	})
}

// Database is a SQL-backed connector. Channels group into tables via their
// binding's table attribute; every table carries a time column plus one
// column per channel key.
type Database struct {
	connector.Base

	settings connector.Settings
	dialect  dialect
	create   bool

	mu     sync.Mutex
	db     *sql.DB
	tables map[string]core.Channels
}

// New builds an unconnected database connector.
func New(id string, settings connector.Settings) (*Database, error) {
	d, err := parseDialect(settings.String("dialect", ""))
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}
	return &Database{
		Base:     connector.NewBase(id, Type),
		settings: settings,
		dialect:  d,
		create:   settings.Bool("create", true),
	}, nil
}

// Connect opens the pool, enforces UTC sessions and prepares the tables of
// all bound channels.
func (d *Database) Connect(ctx context.Context, channels core.Channels) error {
	logger := log.WithComponentFromContext(ctx, "sqldb")

	dsn, err := d.dialect.dsn(d.settings)
	if err != nil {
		return connector.Errorf(d.ID(), "invalid settings: %v", err)
	}

	db, err := sql.Open(d.dialect.driver(), dsn)
	if err != nil {
		return connector.Errorf(d.ID(), "open database: %v", err)
	}
	db.SetMaxOpenConns(d.settings.Int("max_open_conns", 5))
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return connector.Errorf(d.ID(), "ping database: %v", err)
	}

	if d.dialect.name() == "postgres" {
		if err := verifyUTC(ctx, db); err != nil {
			_ = db.Close()
			return connector.Errorf(d.ID(), "%v", err)
		}
	}

	tables, err := d.prepareTables(ctx, db, channels)
	if err != nil {
		_ = db.Close()
		return err
	}

	d.mu.Lock()
	d.db = db
	d.tables = tables
	d.mu.Unlock()
	d.MarkConnected()

	logger.Info().
		Str(log.FieldEvent, "sqldb.connected").
		Str(log.FieldConnectorID, d.ID()).
		Int("tables", len(tables)).
		Msg("database connected")
	return nil
}

// verifyUTC checks that the session timezone really is UTC.
func verifyUTC(ctx context.Context, db *sql.DB) error {
	var tz string
	if err := db.QueryRowContext(ctx, "SELECT current_setting('TIMEZONE')").Scan(&tz); err != nil {
		return fmt.Errorf("query session timezone: %v", err)
	}
	if !strings.EqualFold(tz, "UTC") {
		return fmt.Errorf("session timezone is %q, want UTC", tz)
	}
	return nil
}

func (d *Database) prepareTables(ctx context.Context, db *sql.DB, channels core.Channels) (map[string]core.Channels, error) {
	names, groups := channels.GroupBy(func(c *core.Channel) string { return c.TableFor(d.ID()) })

	tables := make(map[string]core.Channels, len(groups))
	for _, name := range names {
		group := groups[name]
		query, args := d.dialect.tableExistsQuery(name)
		var found string
		err := db.QueryRowContext(ctx, query, args...).Scan(&found)
		switch {
		case err == sql.ErrNoRows:
			if !d.create {
				return nil, &connector.Error{Connector: d.ID(), Err: &core.UnavailableError{ID: name}}
			}
			if err := d.createTable(ctx, db, name, group); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, connector.Errorf(d.ID(), "inspect table %q: %v", name, err)
		}
		tables[name] = group
	}
	return tables, nil
}

func (d *Database) createTable(ctx context.Context, db *sql.DB, name string, channels core.Channels) error {
	columns := []string{fmt.Sprintf("%s %s PRIMARY KEY", quote(timeColumn), d.dialect.timeType())}
	for _, c := range channels {
		columns = append(columns, fmt.Sprintf("%s %s", quote(c.Key), d.dialect.columnType(c.Type)))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(name), strings.Join(columns, ", "))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return connector.Errorf(d.ID(), "create table %q: %v", name, err)
	}
	logger := log.WithComponent("sqldb")
	logger.Debug().
		Str(log.FieldEvent, "sqldb.table_created").
		Str(log.FieldConnectorID, d.ID()).
		Str(log.FieldTable, name).
		Int(log.FieldChannels, len(channels)).
		Msg("table ready")
	return nil
}

// Disconnect closes the pool. It tolerates being called when not connected.
func (d *Database) Disconnect(context.Context) error {
	d.mu.Lock()
	db := d.db
	d.db = nil
	d.mu.Unlock()
	d.MarkDisconnected()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return connector.Errorf(d.ID(), "close database: %v", err)
	}
	return nil
}

func (d *Database) pool() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil, connector.Errorf(d.ID(), "database not connected")
	}
	return d.db, nil
}

// Read selects samples for the given channels. With zero bounds the latest
// row per table is returned.
func (d *Database) Read(ctx context.Context, channels core.Channels, start, end time.Time) (core.Frame, error) {
	db, err := d.pool()
	if err != nil {
		return nil, err
	}

	frame := make(core.Frame)
	names, groups := channels.GroupBy(func(c *core.Channel) string { return c.TableFor(d.ID()) })
	for _, name := range names {
		group := groups[name]
		if err := d.readTable(ctx, db, frame, name, group, start, end); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (d *Database) readTable(
	ctx context.Context,
	db *sql.DB,
	frame core.Frame,
	table string,
	channels core.Channels,
	start, end time.Time,
) error {
	columns := []string{quote(timeColumn)}
	for _, c := range channels {
		columns = append(columns, quote(c.Key))
	}

	var (
		query strings.Builder
		args  []any
	)
	fmt.Fprintf(&query, "SELECT %s FROM %s", strings.Join(columns, ", "), quote(table))
	if start.IsZero() && end.IsZero() {
		fmt.Fprintf(&query, " ORDER BY %s DESC LIMIT 1", quote(timeColumn))
	} else {
		clauses := make([]string, 0, 2)
		if !start.IsZero() {
			args = append(args, d.dialect.encodeTime(start))
			clauses = append(clauses, fmt.Sprintf("%s >= %s", quote(timeColumn), d.dialect.placeholder(len(args))))
		}
		if !end.IsZero() {
			args = append(args, d.dialect.encodeTime(end))
			clauses = append(clauses, fmt.Sprintf("%s <= %s", quote(timeColumn), d.dialect.placeholder(len(args))))
		}
		fmt.Fprintf(&query, " WHERE %s ORDER BY %s ASC", strings.Join(clauses, " AND "), quote(timeColumn))
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return connector.Errorf(d.ID(), "select from %q: %v", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		slots := make([]any, len(channels)+1)
		for i := range slots {
			var v any
			slots[i] = &v
		}
		if err := rows.Scan(slots...); err != nil {
			return connector.Errorf(d.ID(), "scan row of %q: %v", table, err)
		}

		rawTime := *(slots[0].(*any))
		timestamp, err := d.dialect.decodeTime(rawTime)
		if err != nil {
			return connector.Errorf(d.ID(), "table %q: %v", table, err)
		}
		for i, c := range channels {
			raw := *(slots[i+1].(*any))
			if raw == nil {
				continue
			}
			value, err := c.Type.Convert(normalize(raw))
			if err != nil {
				return connector.Errorf(d.ID(), "column %q: %v", c.Key, err)
			}
			frame.Add(c.ID, core.Record{Time: timestamp.UTC(), Value: value})
		}
	}
	if err := rows.Err(); err != nil {
		return connector.Errorf(d.ID(), "iterate rows of %q: %v", table, err)
	}
	return nil
}

// normalize maps driver-specific scan types onto the converter inputs.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Write upserts the frame columns of the given channels, one row per
// distinct timestamp and table.
func (d *Database) Write(ctx context.Context, frame core.Frame, channels core.Channels) error {
	db, err := d.pool()
	if err != nil {
		return err
	}

	names, groups := channels.GroupBy(func(c *core.Channel) string { return c.TableFor(d.ID()) })
	for _, name := range names {
		group := groups[name]
		if err := d.writeTable(ctx, db, frame, name, group); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) writeTable(
	ctx context.Context,
	db *sql.DB,
	frame core.Frame,
	table string,
	channels core.Channels,
) error {
	// Collect one row per distinct timestamp across the table's channels.
	rows := make(map[int64]map[string]any)
	times := make(map[int64]time.Time)
	for _, c := range channels {
		for _, rec := range frame[c.ID] {
			key := rec.Time.UnixNano()
			if rows[key] == nil {
				rows[key] = make(map[string]any)
				times[key] = rec.Time
			}
			rows[key][c.Key] = rec.Value
		}
	}
	if len(rows) == 0 {
		return nil
	}

	keys := make([]int64, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		row := rows[key]
		columns := []string{quote(timeColumn)}
		args := []any{d.dialect.encodeTime(times[key])}
		placeholders := []string{d.dialect.placeholder(1)}
		updates := make([]string, 0, len(row))

		for _, c := range channels {
			value, ok := row[c.Key]
			if !ok {
				continue
			}
			args = append(args, value)
			columns = append(columns, quote(c.Key))
			placeholders = append(placeholders, d.dialect.placeholder(len(args)))
			updates = append(updates, fmt.Sprintf("%s=excluded.%s", quote(c.Key), quote(c.Key)))
		}

		stmt := fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			quote(table),
			strings.Join(columns, ", "),
			strings.Join(placeholders, ", "),
			quote(timeColumn),
			strings.Join(updates, ", "),
		)
		if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
			return connector.Errorf(d.ID(), "insert into %q: %v", table, err)
		}
	}
	return nil
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, ``) + `"`
}
