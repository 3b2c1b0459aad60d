// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api exposes the HTTP surface of the daemon: channel access,
// system status and the probe endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/isc-konstanz/loris/internal/config"
	"github.com/isc-konstanz/loris/internal/data"
	"github.com/isc-konstanz/loris/internal/health"
	"github.com/isc-konstanz/loris/internal/log"
	"github.com/isc-konstanz/loris/internal/weather"
)

// DefaultRateLimit is the per-client request budget per minute.
const DefaultRateLimit = 120

// Server carries the handler dependencies.
type Server struct {
	manager   *data.Manager
	holder    *config.Holder
	health    *health.Manager
	forecast  *weather.Forecast // nil when the weather component is disabled
	refresh   func()
	logger    zerolog.Logger
	startedAt time.Time
}

// NewServer assembles the API server. The forecast may be nil when the
// weather component is disabled; the refresh callback may be nil when no
// cycle runner is attached.
func NewServer(
	manager *data.Manager,
	holder *config.Holder,
	healthMgr *health.Manager,
	forecast *weather.Forecast,
	refresh func(),
) *Server {
	return &Server{
		manager:   manager,
		holder:    holder,
		health:    healthMgr,
		forecast:  forecast,
		refresh:   refresh,
		logger:    log.WithComponent("api"),
		startedAt: time.Now().UTC(),
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	cfg := s.holder.Get()
	limit := cfg.Server.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(httprate.LimitByIP(limit, time.Minute))

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/channels", s.handleChannels)
		r.Get("/channels/{id}", s.handleChannel)
		r.Put("/channels/{id}", s.handleChannelWrite)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/weather/forecast", s.handleForecast)
	})
	return r
}

// Serve runs the HTTP server, treating a regular shutdown as success.
func Serve(srv *http.Server, logger zerolog.Logger) error {
	logger.Info().
		Str(log.FieldEvent, "api.listen").
		Str(log.FieldAddress, srv.Addr).
		Msg("serving http api")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
