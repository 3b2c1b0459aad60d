// SPDX-License-Identifier: LGPL-3.0-or-later

package weather

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/log"
)

// DefaultInterval is the forecast schedule interval.
const DefaultInterval = time.Hour

// DefaultHorizon is how far ahead forecast reads reach.
const DefaultHorizon = 72 * time.Hour

// Reader fetches samples for a set of channels. The data manager satisfies
// this.
type Reader interface {
	Read(ctx context.Context, channels core.Channels, start, end time.Time) core.Frame
}

// Forecast periodically reads the upcoming weather records for the
// canonical weather channels and keeps the latest result available.
type Forecast struct {
	reader   Reader
	channels core.Channels
	interval time.Duration
	offset   time.Duration
	horizon  time.Duration
	logger   zerolog.Logger

	mu        sync.RWMutex
	latest    core.Frame
	fetchedAt time.Time
}

// NewForecast builds the component. Non-positive interval or horizon select
// the defaults.
func NewForecast(reader Reader, channels core.Channels, interval, offset time.Duration) *Forecast {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Forecast{
		reader:   reader,
		channels: channels,
		interval: interval,
		offset:   offset,
		horizon:  DefaultHorizon,
		logger:   log.WithComponent("weather"),
	}
}

// Channels returns the weather channels served by the component.
func (f *Forecast) Channels() core.Channels {
	return f.channels
}

// Latest returns the most recent forecast frame and its fetch time.
func (f *Forecast) Latest() (core.Frame, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.fetchedAt
}

// next returns the first schedule slot strictly after now: schedules align
// to interval boundaries shifted by the offset.
func (f *Forecast) next(now time.Time) time.Time {
	slot := now.Truncate(f.interval).Add(f.offset)
	for !slot.After(now) {
		slot = slot.Add(f.interval)
	}
	return slot
}

// Run executes the forecast schedule until the context is cancelled.
func (f *Forecast) Run(ctx context.Context) error {
	f.Fetch(ctx, time.Now().UTC())
	for {
		wait := time.Until(f.next(time.Now().UTC()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case now := <-timer.C:
			f.Fetch(ctx, now.UTC())
		}
	}
}

// Fetch reads the forecast window starting at now and, when the read yields
// records, replaces the latest frame.
func (f *Forecast) Fetch(ctx context.Context, now time.Time) {
	frame := f.reader.Read(ctx, f.channels, now, now.Add(f.horizon))
	if frame.Empty() {
		f.logger.Warn().
			Str(log.FieldEvent, "weather.forecast_empty").
			Msg("forecast read returned no records")
		return
	}

	f.mu.Lock()
	f.latest = frame
	f.fetchedAt = now
	f.mu.Unlock()

	f.logger.Info().
		Str(log.FieldEvent, "weather.forecast").
		Int(log.FieldRecords, frameRecords(frame)).
		Int(log.FieldChannels, len(frame)).
		Msg("forecast updated")
}

func frameRecords(frame core.Frame) int {
	n := 0
	for _, series := range frame {
		n += len(series)
	}
	return n
}
