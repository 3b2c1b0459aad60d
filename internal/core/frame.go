// SPDX-License-Identifier: LGPL-3.0-or-later

package core

import (
	"sort"
	"time"
)

// Record is a single timestamped sample.
type Record struct {
	Time  time.Time
	Value any
}

// Series is a time-ordered sequence of samples for one channel.
type Series []Record

// Sort orders the series ascending by time.
func (s Series) Sort() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
}

// Last returns the latest sample of the series.
func (s Series) Last() (Record, bool) {
	if len(s) == 0 {
		return Record{}, false
	}
	return s[len(s)-1], true
}

// Between returns the samples within [start, end]. Zero bounds are open.
func (s Series) Between(start, end time.Time) Series {
	out := make(Series, 0, len(s))
	for _, r := range s {
		if !start.IsZero() && r.Time.Before(start) {
			continue
		}
		if !end.IsZero() && r.Time.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Frame is a column-oriented set of series keyed by channel ID.
type Frame map[string]Series

// Add appends a sample to a column, keeping the column sorted and
// de-duplicated by timestamp (the last written sample wins).
func (f Frame) Add(column string, rec Record) {
	series := f[column]
	for i := range series {
		if series[i].Time.Equal(rec.Time) {
			series[i] = rec
			return
		}
	}
	series = append(series, rec)
	series.Sort()
	f[column] = series
}

// Merge folds the other frame into this one.
func (f Frame) Merge(other Frame) {
	for column, series := range other {
		for _, rec := range series {
			f.Add(column, rec)
		}
	}
}

// Columns returns the column names in sorted order.
func (f Frame) Columns() []string {
	columns := make([]string, 0, len(f))
	for column := range f {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// Empty reports whether the frame holds no samples.
func (f Frame) Empty() bool {
	for _, series := range f {
		if len(series) > 0 {
			return false
		}
	}
	return true
}

// Last returns the latest sample of a column.
func (f Frame) Last(column string) (Record, bool) {
	return f[column].Last()
}

// Times returns the distinct timestamps across all columns, sorted.
func (f Frame) Times() []time.Time {
	seen := make(map[int64]time.Time)
	for _, series := range f {
		for _, rec := range series {
			seen[rec.Time.UnixNano()] = rec.Time
		}
	}
	times := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// At returns the sample of a column at an exact timestamp.
func (f Frame) At(column string, t time.Time) (Record, bool) {
	for _, rec := range f[column] {
		if rec.Time.Equal(t) {
			return rec, true
		}
	}
	return Record{}, false
}
