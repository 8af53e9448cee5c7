// Package api exposes a transaction processor's metrics and health.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockchaintp/sawtooth-mttp/engine"
)

// Metrics holds all Prometheus metrics for a processor.
type Metrics struct {
	// Registration metrics
	RegistrationAttempts *prometheus.CounterVec

	// Dispatch metrics
	MessagesReceived    *prometheus.CounterVec
	ResponsesSent       *prometheus.CounterVec
	ResponseLatency     prometheus.Histogram
	RequestsRejected    prometheus.Counter
	OutstandingRequests prometheus.Gauge
	PendingResponses    prometheus.Gauge

	// Worker pool metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// NewMetrics creates and registers processor metrics under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RegistrationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_attempts_total",
			Help:      "Registration attempts by result",
		}, []string{"result"}),

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Validator messages received by type",
		}, []string{"type"}),
		ResponsesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_sent_total",
			Help:      "Process responses sent by status",
		}, []string{"status"}),
		ResponseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from receiving a process request to sending its response",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		RequestsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Process requests answered busy because the worker pool was full",
		}),
		OutstandingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding_requests",
			Help:      "Process requests received but not yet answered",
		}),
		PendingResponses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_responses",
			Help:      "Completed responses waiting to be sent",
		}),

		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of workers running a transaction",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of transactions waiting for a worker",
		}),
	}
}

// RecordRegistration records one registration attempt.
func (m *Metrics) RecordRegistration(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.RegistrationAttempts.WithLabelValues(result).Inc()
}

// RecordMessage records an inbound validator message.
func (m *Metrics) RecordMessage(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordResponse records a sent process response.
func (m *Metrics) RecordResponse(status string, latency time.Duration) {
	m.ResponsesSent.WithLabelValues(status).Inc()
	m.ResponseLatency.Observe(latency.Seconds())
}

// RecordRejected records a request refused because the pool was full.
func (m *Metrics) RecordRejected() {
	m.RequestsRejected.Inc()
}

// UpdateQueue updates the dispatch gauges.
func (m *Metrics) UpdateQueue(outstanding int64, pending int) {
	m.OutstandingRequests.Set(float64(outstanding))
	m.PendingResponses.Set(float64(pending))
}

// UpdatePool updates worker pool gauges.
func (m *Metrics) UpdatePool(stats engine.PoolStats) {
	m.WorkerPoolActive.Set(float64(stats.Active))
	m.WorkerPoolPending.Set(float64(stats.Pending))
}

// MetricsServer runs an HTTP server exposing /metrics, /health and /stats.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on addr. healthy reports whether
// /health answers 200; stats, if set, is served as JSON on /stats.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, healthy func() bool, stats func() any) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil && !healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if stats != nil {
		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(stats())
		})
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking). It returns nil after Stop.
func (s *MetricsServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on an existing listener (blocking). It returns nil after Stop.
func (s *MetricsServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
