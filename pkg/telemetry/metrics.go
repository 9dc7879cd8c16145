package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics collects Prometheus metrics for the hardening engine. A nil
// *Metrics is a valid no-op receiver, so call sites never nil-check.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	hostsStarted  prometheus.Counter
	hostsFinished *prometheus.CounterVec
	activeHosts   prometheus.Gauge
	phaseDuration *prometheus.HistogramVec
	unitsExecuted *prometheus.CounterVec
	halts         *prometheus.CounterVec
}

// NewMetrics builds the metric set. When cfg.Enabled is false it returns
// nil, which every method treats as a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		hostsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "hosts_started_total",
			Help:      "Hosts whose hardening run started",
		}),
		hostsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "hosts_finished_total",
			Help:      "Hosts whose hardening run finished, by outcome",
		}, []string{"outcome"}),
		activeHosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_hosts",
			Help:      "Hosts currently being hardened",
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time per hardening phase",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		unitsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "units_executed_total",
			Help:      "Configuration unit executions, by status",
		}, []string{"status"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "halts_total",
			Help:      "Host halts, by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.hostsStarted,
		m.hostsFinished,
		m.activeHosts,
		m.phaseDuration,
		m.unitsExecuted,
		m.halts,
	)
	return m
}

// HostStarted records a host entering the pool.
func (m *Metrics) HostStarted() {
	if m == nil {
		return
	}
	m.hostsStarted.Inc()
	m.activeHosts.Inc()
}

// HostFinished records a host leaving the pool.
func (m *Metrics) HostFinished(completed bool) {
	if m == nil {
		return
	}
	outcome := "hardened"
	if !completed {
		outcome = "halted"
	}
	m.hostsFinished.WithLabelValues(outcome).Inc()
	m.activeHosts.Dec()
}

// ObservePhase records one phase execution.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordUnit records one configuration unit execution.
func (m *Metrics) RecordUnit(status string) {
	if m == nil {
		return
	}
	m.unitsExecuted.WithLabelValues(status).Inc()
}

// RecordHalt records one host halt.
func (m *Metrics) RecordHalt(reason string) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(reason).Inc()
}

// Handler returns the scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the configured listen address until ctx ends.
// No-op when metrics are disabled or no address is configured.
func (m *Metrics) Serve(ctx context.Context) {
	if m == nil || m.config.ListenAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", m.config.ListenAddress).Msg("metrics listener started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Msg("metrics listener failed")
	}
}
