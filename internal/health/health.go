// SPDX-License-Identifier: LGPL-3.0-or-later

// Package health provides liveness and readiness checks for the daemon,
// suitable for Docker HEALTHCHECK and Kubernetes probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/log"
)

// Status is the aggregated component state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness probe payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is a single named component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checks into probe responses.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component check.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	if len(m.checkers) == 0 {
		return nil, StatusHealthy
	}
	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return checks, status
}

// Health is the liveness probe: the process is alive, component results are
// informational only.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if verbose {
		resp.Checks, resp.Status = m.run(ctx)
	}
	return resp
}

// Ready is the readiness probe: unhealthy components mean not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	checks, status := m.run(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
}

// ServeHealth handles the liveness endpoint. Always 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles the readiness endpoint. 503 while not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}
}

// ConnectorChecker reports the connection state of one connector.
type ConnectorChecker struct {
	conn connector.Connector
}

func NewConnectorChecker(conn connector.Connector) *ConnectorChecker {
	return &ConnectorChecker{conn: conn}
}

func (c *ConnectorChecker) Name() string {
	return "connector:" + c.conn.ID()
}

func (c *ConnectorChecker) Check(context.Context) CheckResult {
	if !c.conn.Connected() {
		return CheckResult{
			Status: StatusDegraded,
			Error:  "not connected",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// ChannelChecker reports how many channels are flagged with an error state.
type ChannelChecker struct {
	channels core.Channels
}

func NewChannelChecker(channels core.Channels) *ChannelChecker {
	return &ChannelChecker{channels: channels}
}

func (c *ChannelChecker) Name() string {
	return "channels"
}

func (c *ChannelChecker) Check(context.Context) CheckResult {
	failed := 0
	for _, ch := range c.channels {
		if ch.State().Error() {
			failed++
		}
	}
	if failed == 0 {
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d channels", len(c.channels)),
		}
	}
	status := StatusDegraded
	if failed == len(c.channels) {
		status = StatusUnhealthy
	}
	return CheckResult{
		Status: status,
		Error:  fmt.Sprintf("%d of %d channels in error state", failed, len(c.channels)),
	}
}

// DataDirChecker verifies the system data directory is present and writable.
type DataDirChecker struct {
	path string
}

func NewDataDirChecker(path string) *DataDirChecker {
	return &DataDirChecker{path: path}
}

func (c *DataDirChecker) Name() string {
	return "data_dir"
}

func (c *DataDirChecker) Check(context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory"}
	}
	probe, err := os.CreateTemp(c.path, ".health-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "not writable: " + err.Error()}
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	return CheckResult{Status: StatusHealthy, Message: c.path}
}
