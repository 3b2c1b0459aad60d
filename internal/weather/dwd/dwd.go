// SPDX-License-Identifier: LGPL-3.0-or-later

package dwd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/metrics"
)

// Type is the registered connector type name.
const Type = "dwd"

func init() {
	connector.Register(Type, func(id string, settings connector.Settings) (connector.Connector, error) {
		return New(id, settings)
	})
}

// Connector serves weather channels from the Bright Sky API. Channel
// addresses name Bright Sky fields; unmapped fields are skipped.
type Connector struct {
	connector.Base

	latitude  float64
	longitude float64

	client *Client
}

// New builds the connector from its settings. Latitude and longitude are
// required; the daemon injects them from the system location when the
// settings leave them out.
func New(id string, settings connector.Settings) (*Connector, error) {
	for _, key := range []string{"latitude", "longitude"} {
		if _, ok := settings[key]; !ok {
			return nil, connector.Errorf(id, "missing required setting %q", key)
		}
	}
	lat := settings.Float("latitude", 0)
	lon := settings.Float("longitude", 0)

	httpClient := &http.Client{Timeout: settings.Duration("timeout", 30*time.Second)}
	return &Connector{
		Base:      connector.NewBase(id, Type),
		latitude:  lat,
		longitude: lon,
		client:    NewClient(settings.String("base_url", ""), httpClient),
	}, nil
}

// Connect probes the provider with a current-weather request.
func (c *Connector) Connect(ctx context.Context, _ core.Channels) error {
	if _, err := c.client.Current(ctx, c.latitude, c.longitude); err != nil {
		metrics.IncWeatherRequest(requestResult(err))
		return connector.Errorf(c.ID(), "probe weather provider: %v", err)
	}
	metrics.IncWeatherRequest("success")
	c.MarkConnected()
	return nil
}

// Disconnect releases the connector. The HTTP client holds no state worth
// closing.
func (c *Connector) Disconnect(context.Context) error {
	c.MarkDisconnected()
	return nil
}

// Read fetches the current observation, or the hourly records of the given
// range.
func (c *Connector) Read(ctx context.Context, channels core.Channels, start, end time.Time) (core.Frame, error) {
	var (
		observations []Observation
		err          error
	)
	if start.IsZero() && end.IsZero() {
		var current Observation
		current, err = c.client.Current(ctx, c.latitude, c.longitude)
		observations = []Observation{current}
	} else {
		observations, err = c.client.Weather(ctx, c.latitude, c.longitude, start, end)
	}
	metrics.IncWeatherRequest(requestResult(err))
	if err != nil {
		return nil, connector.Errorf(c.ID(), "read weather: %v", err)
	}

	frame := make(core.Frame)
	for _, obs := range observations {
		for _, ch := range channels {
			raw, ok := obs.Field(ch.AddressFor(c.ID()))
			if !ok {
				continue
			}
			value, err := ch.Type.Convert(raw)
			if err != nil {
				return nil, connector.Errorf(c.ID(), "channel %s: %v", ch.ID, err)
			}
			frame.Add(ch.ID, core.Record{Time: obs.Timestamp.UTC(), Value: value})
		}
	}
	return frame, nil
}

// Write is not supported; weather data is read-only.
func (c *Connector) Write(context.Context, core.Frame, core.Channels) error {
	return connector.Errorf(c.ID(), "weather connector is read-only")
}

func requestResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
