// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes the Prometheus instrumentation of the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loris_channels_total",
		Help: "Number of configured channels",
	})

	channelsValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loris_channels_valid",
		Help: "Number of channels holding a valid value",
	})

	connectorUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loris_connector_up",
		Help: "Whether the connector is connected (1) or not (0)",
	}, []string{"connector"})

	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loris_reads_total",
		Help: "Connector read transactions by outcome",
	}, []string{"connector", "outcome"}) // outcome=success|failure

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loris_writes_total",
		Help: "Connector write transactions by outcome",
	}, []string{"connector", "outcome"})

	logsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loris_logged_samples_total",
		Help: "Samples persisted through logger connectors",
	}, []string{"connector"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loris_cycle_duration_seconds",
		Help:    "Duration of a complete read/log cycle",
		Buckets: prometheus.DefBuckets,
	})

	configReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loris_config_reloads_total",
		Help: "Configuration reload attempts by outcome",
	}, []string{"outcome"})

	weatherRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loris_weather_requests_total",
		Help: "Weather provider requests by outcome",
	}, []string{"outcome"}) // outcome=success|error|timeout
)

func RecordChannels(total, valid int) {
	channelsTotal.Set(float64(total))
	channelsValid.Set(float64(valid))
}

func RecordConnectorUp(connector string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	connectorUp.WithLabelValues(connector).Set(v)
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func IncRead(connector string, err error) {
	readsTotal.WithLabelValues(connector, outcome(err)).Inc()
}

func IncWrite(connector string, err error) {
	writesTotal.WithLabelValues(connector, outcome(err)).Inc()
}

func AddLogged(connector string, samples int) {
	logsTotal.WithLabelValues(connector).Add(float64(samples))
}

func ObserveCycle(seconds float64) {
	cycleDuration.Observe(seconds)
}

func IncConfigReload(err error) {
	configReloads.WithLabelValues(outcome(err)).Inc()
}

func IncWeatherRequest(result string) {
	weatherRequests.WithLabelValues(result).Inc()
}
