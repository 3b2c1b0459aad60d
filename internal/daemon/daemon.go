// SPDX-License-Identifier: LGPL-3.0-or-later

// Package daemon runs the integration lifecycle: it connects the data
// manager, serves the HTTP API and metrics listeners, drives the periodic
// read/log cycle and tears everything down in reverse order on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/isc-konstanz/loris/internal/api"
	"github.com/isc-konstanz/loris/internal/config"
	"github.com/isc-konstanz/loris/internal/data"
	"github.com/isc-konstanz/loris/internal/health"
	"github.com/isc-konstanz/loris/internal/log"
	"github.com/isc-konstanz/loris/internal/metrics"
	"github.com/isc-konstanz/loris/internal/weather"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager owns the daemon lifecycle.
type Manager struct {
	holder   *config.Holder
	dataMgr  *data.Manager
	health   *health.Manager
	forecast *weather.Forecast // nil when the weather component is disabled

	apiServer     *http.Server
	metricsServer *http.Server

	refreshCh chan struct{}
	cycles    uint64

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool

	logger zerolog.Logger
}

// New assembles the daemon around a prepared data manager. The forecast
// component may be nil.
func New(holder *config.Holder, dataMgr *data.Manager, healthMgr *health.Manager, forecast *weather.Forecast) *Manager {
	return &Manager{
		holder:    holder,
		dataMgr:   dataMgr,
		health:    healthMgr,
		forecast:  forecast,
		refreshCh: make(chan struct{}, 1),
		logger:    log.WithComponent("daemon"),
	}
}

// RegisterShutdownHook adds a cleanup step executed during shutdown, in
// reverse registration order.
func (d *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	d.mu.Lock()
	d.hooks = append(d.hooks, namedHook{name: name, hook: hook})
	d.mu.Unlock()
}

// Refresh schedules an immediate cycle. Safe to call from any goroutine; a
// pending refresh is collapsed into one.
func (d *Manager) Refresh() {
	select {
	case d.refreshCh <- struct{}{}:
	default:
	}
}

// Start connects the system, starts the servers and blocks running the
// cycle loop until the context is cancelled or a server fails.
func (d *Manager) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	cfg := d.holder.Get()
	d.logger.Info().
		Str(log.FieldEvent, "daemon.start").
		Str(log.FieldSystemID, cfg.System.ID).
		Str(log.FieldAddress, cfg.Server.Listen).
		Dur("interval", cfg.Interval.Std()).
		Msg("starting daemon")

	d.dataMgr.Connect(ctx)
	d.RegisterShutdownHook("connectors", func(hookCtx context.Context) error {
		d.dataMgr.Disconnect(hookCtx)
		return nil
	})
	d.registerChecks(cfg)

	errChan := make(chan error, 2)
	d.startMetricsServer(cfg, errChan)
	d.startAPIServer(cfg, errChan)

	if d.forecast != nil {
		forecastCtx, stopForecast := context.WithCancel(ctx)
		forecastDone := make(chan struct{})
		go func() {
			defer close(forecastDone)
			_ = d.forecast.Run(forecastCtx)
		}()
		d.RegisterShutdownHook("forecast", func(context.Context) error {
			stopForecast()
			<-forecastDone
			return nil
		})
	}

	reloads := make(chan config.AppConfig, 1)
	d.holder.Subscribe(reloads)

	// First cycle right away so values are available before the first tick.
	d.runCycle(ctx)

	ticker := time.NewTicker(cfg.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Str(log.FieldEvent, "daemon.stop").Msg("shutdown signal received")
			return d.shutdown(ctx)

		case err := <-errChan:
			d.logger.Error().Err(err).Str(log.FieldEvent, "daemon.server_failed").Msg("server error, shutting down")
			if shutdownErr := d.shutdown(ctx); shutdownErr != nil {
				return errors.Join(err, shutdownErr)
			}
			return err

		case newCfg := <-reloads:
			d.applyReload(newCfg, ticker)

		case <-ticker.C:
			d.runCycle(ctx)

		case <-d.refreshCh:
			d.runCycle(ctx)
		}
	}
}

// runCycle performs one read/log pass over the due channels.
func (d *Manager) runCycle(ctx context.Context) {
	start := time.Now()
	now := start.UTC()

	d.dataMgr.Reconnect(ctx, now)
	if due := d.dataMgr.DueChannels(now); len(due) > 0 {
		d.dataMgr.Read(ctx, due, time.Time{}, time.Time{})
	}
	d.dataMgr.Log(ctx, nil)

	d.cycles++
	elapsed := time.Since(start)
	metrics.ObserveCycle(elapsed.Seconds())
	d.logger.Debug().
		Str(log.FieldEvent, "daemon.cycle").
		Uint64(log.FieldCycle, d.cycles).
		Dur("duration", elapsed).
		Msg("cycle completed")
}

// applyReload picks up runtime-adjustable settings from a reloaded
// configuration. Structural changes (connectors, channels) require a
// restart.
func (d *Manager) applyReload(cfg config.AppConfig, ticker *time.Ticker) {
	log.Reconfigure(log.Config{
		Level:   cfg.Logging.Level,
		Service: "loris",
		Version: cfg.Version,
	})
	if cfg.Interval.Std() > 0 {
		ticker.Reset(cfg.Interval.Std())
	}
	d.logger.Info().
		Str(log.FieldEvent, "daemon.reload_applied").
		Dur("interval", cfg.Interval.Std()).
		Msg("applied reloaded configuration")
}

func (d *Manager) registerChecks(cfg config.AppConfig) {
	d.health.RegisterChecker(health.NewDataDirChecker(cfg.System.DataDir))
	d.health.RegisterChecker(health.NewChannelChecker(d.dataMgr.Channels()))
	for _, conn := range d.dataMgr.Connectors() {
		d.health.RegisterChecker(health.NewConnectorChecker(conn))
	}
}

func (d *Manager) startAPIServer(cfg config.AppConfig, errChan chan<- error) {
	server := api.NewServer(d.dataMgr, d.holder, d.health, d.forecast, d.Refresh)
	d.apiServer = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout.Std() / 2,
		WriteTimeout:      cfg.Server.WriteTimeout.Std(),
	}
	go func() {
		if err := api.Serve(d.apiServer, d.logger); err != nil {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()
}

func (d *Manager) startMetricsServer(cfg config.AppConfig, errChan chan<- error) {
	if cfg.Server.MetricsListen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	d.metricsServer = &http.Server{
		Addr:              cfg.Server.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		d.logger.Info().
			Str(log.FieldEvent, "metrics.listen").
			Str(log.FieldAddress, cfg.Server.MetricsListen).
			Msg("serving metrics")
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()
}

// shutdown stops the servers and runs the hooks in reverse order. It uses a
// bounded context detached from the cancelled run context.
func (d *Manager) shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return nil
	}
	d.stopping = true
	hooks := d.hooks
	d.mu.Unlock()

	timeout := d.holder.Get().Server.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error
	if d.apiServer != nil {
		if err := d.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.hook(shutdownCtx); err != nil {
			d.logger.Error().
				Err(err).
				Str(log.FieldEvent, "daemon.hook_failed").
				Str("hook", h.name).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}
