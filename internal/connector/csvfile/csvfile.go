// SPDX-License-Identifier: LGPL-3.0-or-later

// Package csvfile implements a file-based storage connector writing daily
// CSV files per table.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
)

// Type is the registered connector type name.
const Type = "csv"

const (
	timeHeader = "time"
	dayFormat  = "20060102"
)

func init() {
	connector.Register(Type, func(id string, settings connector.Settings) (connector.Connector, error) {
		return New(id, settings)
	})
}

// Store persists channel samples as daily CSV files named
// "<table>_YYYYMMDD.csv" below the configured directory. Timestamps are
// RFC3339 in UTC; file replacement is atomic.
type Store struct {
	connector.Base

	dir string
}

// New builds the store from its settings.
func New(id string, settings connector.Settings) (*Store, error) {
	dir, err := settings.RequireString("dir")
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}
	return &Store{Base: connector.NewBase(id, Type), dir: dir}, nil
}

// Connect ensures the storage directory exists.
func (s *Store) Connect(_ context.Context, _ core.Channels) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return connector.Errorf(s.ID(), "create data dir: %v", err)
	}
	s.MarkConnected()
	return nil
}

// Disconnect is a no-op for file storage.
func (s *Store) Disconnect(context.Context) error {
	s.MarkDisconnected()
	return nil
}

// Read collects samples from the day files overlapping [start, end]; with
// zero bounds only the most recent day file is consulted and its last row
// returned.
func (s *Store) Read(_ context.Context, channels core.Channels, start, end time.Time) (core.Frame, error) {
	frame := make(core.Frame)
	names, groups := channels.GroupBy(func(c *core.Channel) string { return c.TableFor(s.ID()) })
	for _, table := range names {
		if err := s.readTable(frame, table, groups[table], start, end); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (s *Store) readTable(frame core.Frame, table string, channels core.Channels, start, end time.Time) error {
	files, err := s.tableFiles(table)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	latest := start.IsZero() && end.IsZero()
	if latest {
		files = files[len(files)-1:]
	}

	for _, file := range files {
		day, err := time.Parse(dayFormat, dayOf(file, table))
		if err != nil {
			continue // foreign file, skip
		}
		if !latest && !overlaps(day, start, end) {
			continue
		}
		rows, err := s.parseFile(filepath.Join(s.dir, file), channels)
		if err != nil {
			return err
		}
		if latest && len(rows) > 0 {
			rows = rows[len(rows)-1:]
		}
		for _, row := range rows {
			if !latest {
				if !start.IsZero() && row.time.Before(start) {
					continue
				}
				if !end.IsZero() && row.time.After(end) {
					continue
				}
			}
			for id, value := range row.values {
				frame.Add(id, core.Record{Time: row.time, Value: value})
			}
		}
	}
	return nil
}

type row struct {
	time   time.Time
	values map[string]any
}

func (s *Store) parseFile(path string, channels core.Channels) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, connector.Errorf(s.ID(), "open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, connector.Errorf(s.ID(), "parse %s: %v", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	byKey := make(map[string]*core.Channel, len(channels))
	for _, c := range channels {
		byKey[c.Key] = c
	}

	rows := make([]row, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(header) {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			return nil, connector.Errorf(s.ID(), "invalid timestamp %q in %s", record[0], path)
		}
		values := make(map[string]any)
		for i := 1; i < len(header); i++ {
			c, ok := byKey[header[i]]
			if !ok || record[i] == "" {
				continue
			}
			value, err := c.Type.Convert(record[i])
			if err != nil {
				return nil, connector.Errorf(s.ID(), "column %q in %s: %v", header[i], path, err)
			}
			values[c.ID] = value
		}
		rows = append(rows, row{time: timestamp.UTC(), values: values})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].time.Before(rows[j].time) })
	return rows, nil
}

// Write merges the frame into the affected day files and replaces them
// atomically.
func (s *Store) Write(_ context.Context, frame core.Frame, channels core.Channels) error {
	if !s.Connected() {
		return connector.Errorf(s.ID(), "store not connected")
	}

	names, groups := channels.GroupBy(func(c *core.Channel) string { return c.TableFor(s.ID()) })
	for _, table := range names {
		if err := s.writeTable(frame, table, groups[table]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeTable(frame core.Frame, table string, channels core.Channels) error {
	// Partition the incoming samples by day.
	days := make(map[string]map[int64]map[string]any)
	times := make(map[int64]time.Time)
	for _, c := range channels {
		for _, rec := range frame[c.ID] {
			utc := rec.Time.UTC()
			day := utc.Format(dayFormat)
			if days[day] == nil {
				days[day] = make(map[int64]map[string]any)
			}
			key := utc.UnixNano()
			if days[day][key] == nil {
				days[day][key] = make(map[string]any)
			}
			days[day][key][c.Key] = rec.Value
			times[key] = utc
		}
	}

	for day, incoming := range days {
		path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", table, day))

		// The rewritten file keeps every column already on disk, even when
		// the current write covers only a subset of the table's channels.
		columns := make([]string, 0, len(channels))
		seen := make(map[string]bool, len(channels))

		// Merge with rows already on disk so a rewrite never loses samples.
		if _, statErr := os.Stat(path); statErr == nil {
			header, existing, err := s.rawRows(path)
			if err != nil {
				return err
			}
			for _, column := range header {
				if column == timeHeader || seen[column] {
					continue
				}
				seen[column] = true
				columns = append(columns, column)
			}
			for _, r := range existing {
				key := r.time.UnixNano()
				if incoming[key] == nil {
					incoming[key] = make(map[string]any)
				}
				for column, value := range r.values {
					if _, fresh := incoming[key][column]; !fresh {
						incoming[key][column] = value
					}
				}
				times[key] = r.time
			}
		}
		for _, c := range channels {
			if !seen[c.Key] {
				seen[c.Key] = true
				columns = append(columns, c.Key)
			}
		}

		if err := s.writeFile(path, columns, incoming, times); err != nil {
			return err
		}
	}
	return nil
}

type rawRow struct {
	time   time.Time
	values map[string]any
}

// rawRows reads a day file without interpreting the columns, so rows and
// columns of channels outside the current write survive a rewrite.
func (s *Store) rawRows(path string) ([]string, []rawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, connector.Errorf(s.ID(), "open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, connector.Errorf(s.ID(), "parse %s: %v", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	header := records[0]
	rows := make([]rawRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(header) {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			return nil, nil, connector.Errorf(s.ID(), "invalid timestamp %q in %s", record[0], path)
		}
		values := make(map[string]any)
		for i := 1; i < len(header); i++ {
			if record[i] == "" {
				continue
			}
			values[header[i]] = record[i]
		}
		rows = append(rows, rawRow{time: timestamp.UTC(), values: values})
	}
	return header, rows, nil
}

func (s *Store) writeFile(path string, columns []string, rows map[int64]map[string]any, times map[int64]time.Time) error {
	keys := make([]int64, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{timeHeader}
	header = append(header, columns...)
	if err := writer.Write(header); err != nil {
		return connector.Errorf(s.ID(), "write header: %v", err)
	}

	for _, key := range keys {
		record := []string{times[key].Format(time.RFC3339Nano)}
		for _, column := range columns {
			value, ok := rows[key][column]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprint(value))
		}
		if err := writer.Write(record); err != nil {
			return connector.Errorf(s.ID(), "write record: %v", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return connector.Errorf(s.ID(), "flush csv: %v", err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return connector.Errorf(s.ID(), "replace %s: %v", path, err)
	}
	return nil
}

func (s *Store) tableFiles(table string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, connector.Errorf(s.ID(), "list data dir: %v", err)
	}
	prefix := table + "_"
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func dayOf(file, table string) string {
	return strings.TrimSuffix(strings.TrimPrefix(file, table+"_"), ".csv")
}

func overlaps(day time.Time, start, end time.Time) bool {
	dayEnd := day.Add(24*time.Hour - time.Nanosecond)
	if !start.IsZero() && dayEnd.Before(start) {
		return false
	}
	if !end.IsZero() && day.After(end) {
		return false
	}
	return true
}
