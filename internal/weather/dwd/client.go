// SPDX-License-Identifier: LGPL-3.0-or-later

// Package dwd integrates DWD observation and forecast data through the
// Bright Sky API.
package dwd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Bright Sky endpoint.
const DefaultBaseURL = "https://api.brightsky.dev"

// Observation is one weather record of the Bright Sky API. Nullable fields
// stay nil when the provider has no value for the station and hour.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`

	CloudCover               *float64 `json:"cloud_cover"`
	Condition                *string  `json:"condition"`
	DewPoint                 *float64 `json:"dew_point"`
	Icon                     *string  `json:"icon"`
	Precipitation            *float64 `json:"precipitation"`
	PrecipitationProbability *float64 `json:"precipitation_probability"`
	PressureMSL              *float64 `json:"pressure_msl"`
	RelativeHumidity         *float64 `json:"relative_humidity"`
	Solar                    *float64 `json:"solar"`
	Sunshine                 *float64 `json:"sunshine"`
	Temperature              *float64 `json:"temperature"`
	Visibility               *float64 `json:"visibility"`
	WindDirection            *float64 `json:"wind_direction"`
	WindGustSpeed            *float64 `json:"wind_gust_speed"`
	WindSpeed                *float64 `json:"wind_speed"`
}

// Field returns the observation value for a Bright Sky field name. The
// second result is false for unknown fields or null values.
func (o Observation) Field(name string) (any, bool) {
	switch name {
	case "cloud_cover":
		return floatField(o.CloudCover)
	case "condition":
		return stringField(o.Condition)
	case "dew_point":
		return floatField(o.DewPoint)
	case "icon":
		return stringField(o.Icon)
	case "precipitation":
		return floatField(o.Precipitation)
	case "precipitation_probability":
		return floatField(o.PrecipitationProbability)
	case "pressure_msl":
		return floatField(o.PressureMSL)
	case "relative_humidity":
		return floatField(o.RelativeHumidity)
	case "solar":
		return floatField(o.Solar)
	case "sunshine":
		return floatField(o.Sunshine)
	case "temperature":
		return floatField(o.Temperature)
	case "visibility":
		return floatField(o.Visibility)
	case "wind_direction":
		return floatField(o.WindDirection)
	case "wind_gust_speed":
		return floatField(o.WindGustSpeed)
	case "wind_speed":
		return floatField(o.WindSpeed)
	}
	return nil, false
}

func floatField(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func stringField(v *string) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("brightsky: unexpected status %d from %s", e.Status, e.URL)
}

// Client is a rate-limited Bright Sky HTTP client.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client for the given endpoint. An empty base selects
// the public API; a nil httpClient selects a 30s-timeout default.
func NewClient(base string, httpClient *http.Client) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: httpClient,
		// Bright Sky asks for fair use; one request per second is plenty
		// for hourly forecast data.
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Weather fetches the hourly records between the given instants.
func (c *Client) Weather(ctx context.Context, lat, lon float64, from, to time.Time) ([]Observation, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("date", from.UTC().Format(time.RFC3339))
	q.Set("last_date", to.UTC().Format(time.RFC3339))
	q.Set("tz", "Etc/UTC")

	var p struct {
		Weather []Observation `json:"weather"`
	}
	if err := c.get(ctx, "/weather", q, &p); err != nil {
		return nil, err
	}
	return p.Weather, nil
}

// Current fetches the latest observation for the given position.
func (c *Client) Current(ctx context.Context, lat, lon float64) (Observation, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("tz", "Etc/UTC")

	var p struct {
		Weather Observation `json:"weather"`
	}
	if err := c.get(ctx, "/current_weather", q, &p); err != nil {
		return Observation{}, err
	}
	return p.Weather, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.base + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{Status: res.StatusCode, URL: u}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
