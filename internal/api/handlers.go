// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/log"
)

type statusResponse struct {
	System     string            `json:"system"`
	Name       string            `json:"name,omitempty"`
	Version    string            `json:"version,omitempty"`
	UptimeSec  int64             `json:"uptime_seconds"`
	Interval   string            `json:"interval"`
	Location   *locationStatus   `json:"location,omitempty"`
	Connectors []connectorStatus `json:"connectors"`
	Channels   channelCounts     `json:"channels"`
}

type locationStatus struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

type connectorStatus struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

type channelCounts struct {
	Total int `json:"total"`
	Valid int `json:"valid"`
}

type channelSummary struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name,omitempty"`
	Type      string     `json:"type"`
	State     string     `json:"state"`
	Value     any        `json:"value,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Connector string     `json:"connector,omitempty"`
	Logger    string     `json:"logger,omitempty"`
}

type sampleRecord struct {
	Time  time.Time `json:"time"`
	Value any       `json:"value"`
}

type seriesResponse struct {
	ID      string         `json:"id"`
	Records []sampleRecord `json:"records"`
}

type forecastResponse struct {
	FetchedAt time.Time        `json:"fetched_at"`
	Series    []seriesResponse `json:"series"`
}

type writeRequest struct {
	Value     any        `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func summarize(ch *core.Channel) channelSummary {
	summary := channelSummary{
		ID:    ch.ID,
		Key:   ch.Key,
		Name:  ch.Name,
		Type:  string(ch.Type),
		State: string(ch.State()),
	}
	if ch.Connector.Bound() {
		summary.Connector = ch.Connector.Connector
	}
	if ch.Logger.Bound() {
		summary.Logger = ch.Logger.Connector
	}
	if rec, ok := ch.Record(); ok {
		summary.Value = rec.Value
		ts := rec.Time
		summary.Timestamp = &ts
	}
	return summary
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Get()
	channels := s.manager.Channels()

	valid := 0
	for _, ch := range channels {
		if ch.Valid() {
			valid++
		}
	}
	connectors := make([]connectorStatus, 0, len(s.manager.Connectors()))
	for _, conn := range s.manager.Connectors() {
		connectors = append(connectors, connectorStatus{
			ID:        conn.ID(),
			Type:      conn.Type(),
			Connected: conn.Connected(),
		})
	}

	var loc *locationStatus
	if site := s.manager.Location(); site != nil {
		loc = &locationStatus{
			Latitude:  site.Latitude,
			Longitude: site.Longitude,
			Timezone:  site.Timezone().String(),
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		System:     cfg.System.ID,
		Name:       cfg.System.Name,
		Version:    cfg.Version,
		UptimeSec:  int64(time.Since(s.startedAt).Seconds()),
		Interval:   cfg.Interval.Std().String(),
		Location:   loc,
		Connectors: connectors,
		Channels:   channelCounts{Total: len(channels), Valid: valid},
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.manager.Channels()
	summaries := make([]channelSummary, 0, len(channels))
	for _, ch := range channels {
		summaries = append(summaries, summarize(ch))
	}
	writeJSON(w, http.StatusOK, summaries)
}

// parseTimeRange reads the optional start/end query parameters as RFC 3339.
func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			return
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			return
		}
	}
	return
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.manager.Channel(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time range: "+err.Error())
		return
	}
	if start.IsZero() && end.IsZero() {
		writeJSON(w, http.StatusOK, summarize(ch))
		return
	}

	frame := s.manager.Read(r.Context(), core.Channels{ch}, start.UTC(), end.UTC())
	series := frame[ch.ID]
	records := make([]sampleRecord, 0, len(series))
	for _, rec := range series {
		records = append(records, sampleRecord{Time: rec.Time, Value: rec.Value})
	}
	writeJSON(w, http.StatusOK, seriesResponse{ID: ch.ID, Records: records})
}

func (s *Server) handleChannelWrite(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.manager.Channel(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	value, err := ch.Type.Convert(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	timestamp := time.Now().UTC().Truncate(time.Second)
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	frame := core.Frame{ch.ID: {{Time: timestamp, Value: value}}}
	s.manager.Write(r.Context(), frame, core.Channels{ch})

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.channel_write").
		Str(log.FieldChannelID, ch.ID).
		Msg("channel value written")
	writeJSON(w, http.StatusOK, summarize(ch))
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if s.forecast == nil {
		writeError(w, http.StatusNotFound, "weather component disabled")
		return
	}
	frame, fetchedAt := s.forecast.Latest()
	if fetchedAt.IsZero() {
		writeError(w, http.StatusServiceUnavailable, "no forecast fetched yet")
		return
	}

	ids := make([]string, 0, len(frame))
	for id := range frame {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	series := make([]seriesResponse, 0, len(ids))
	for _, id := range ids {
		records := make([]sampleRecord, 0, len(frame[id]))
		for _, rec := range frame[id] {
			records = append(records, sampleRecord{Time: rec.Time, Value: rec.Value})
		}
		series = append(series, seriesResponse{ID: id, Records: records})
	}
	writeJSON(w, http.StatusOK, forecastResponse{FetchedAt: fetchedAt, Series: series})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "no cycle runner attached")
		return
	}
	s.refresh()
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.refresh").
		Msg("refresh triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}
