// SPDX-License-Identifier: LGPL-3.0-or-later

// Command daemon runs the loris data integration daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isc-konstanz/loris/internal/config"
	"github.com/isc-konstanz/loris/internal/core"
	"github.com/isc-konstanz/loris/internal/daemon"
	"github.com/isc-konstanz/loris/internal/data"
	"github.com/isc-konstanz/loris/internal/health"
	"github.com/isc-konstanz/loris/internal/log"
	"github.com/isc-konstanz/loris/internal/weather"

	// Registered connector types.
	_ "github.com/isc-konstanz/loris/internal/connector/csvfile"
	_ "github.com/isc-konstanz/loris/internal/connector/kvstore"
	_ "github.com/isc-konstanz/loris/internal/connector/rediscache"
	_ "github.com/isc-konstanz/loris/internal/connector/sqldb"
	_ "github.com/isc-konstanz/loris/internal/weather/dwd"
)

var (
	version   = "0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		os.Exit(runConfigCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	healthcheck := flag.Bool("healthcheck", false, "probe the running daemon and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("loris %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "loris", Version: version})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectivePath := resolveConfigPath(*configPath)
	loader := config.NewLoader(effectivePath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, effectivePath).
			Msg("failed to load configuration")
	}

	if *healthcheck {
		os.Exit(runHealthcheck(cfg))
	}

	log.Reconfigure(log.Config{
		Level:   cfg.Logging.Level,
		Service: "loris",
		Version: cfg.Version,
	})
	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str(log.FieldSystemID, cfg.System.ID).
		Str(log.FieldPath, effectivePath).
		Msg("starting loris")

	dataMgr, err := data.Setup(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "setup.failed").
			Msg("failed to assemble data manager")
	}

	holder := config.NewHolder(cfg, loader, effectivePath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "config.watcher_failed").
			Msg("continuing without config file watcher")
	}

	var forecast *weather.Forecast
	if cfg.Weather.Enabled {
		connectorID := cfg.QualifyID(cfg.Weather.Connector)
		channels := dataMgr.Channels().Filter(func(c *core.Channel) bool {
			return c.HasConnector(connectorID)
		})
		forecast = weather.NewForecast(dataMgr, channels,
			cfg.Weather.Interval.Std(), cfg.Weather.Offset.Std())
	}

	d := daemon.New(holder, dataMgr, health.NewManager(version), forecast)
	if err := d.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "daemon.failed").
			Msg("daemon terminated with error")
	}
}

// resolveConfigPath prefers the explicit flag, then $LORIS_CONFIG, then the
// conventional /etc path when it exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := config.ParseString("LORIS_CONFIG", ""); env != "" {
		return env
	}
	const conventional = "/etc/loris/loris.yaml"
	if _, err := os.Stat(conventional); err == nil {
		return conventional
	}
	return ""
}

// runHealthcheck probes the liveness endpoint of a running daemon, for use
// as a container HEALTHCHECK.
func runHealthcheck(cfg config.AppConfig) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + probeHost(cfg.Server.Listen) + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Println("ok")
	return 0
}

// probeHost rewrites wildcard listen addresses to loopback.
func probeHost(listen string) string {
	switch {
	case listen == "":
		return "127.0.0.1:8080"
	case listen[0] == ':':
		return "127.0.0.1" + listen
	default:
		return listen
	}
}
