package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datavault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datavault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dataReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datavault_data_reads_total",
		Help: "Scoped data reads by outcome.",
	}, []string{"outcome"})

	activeTokensTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datavault_active_tokens_total",
		Help: "Number of active, unexpired access tokens.",
	})

	pendingRequestsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datavault_pending_requests_total",
		Help: "Number of authorization requests awaiting exchange.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, dataReadsTotal, activeTokensTotal, pendingRequestsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// runGaugeLoop refreshes the storage-derived gauges until ctx ends.
func (s *Server) runGaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.store.CountActiveTokens(ctx); err == nil {
				activeTokensTotal.Set(float64(n))
			} else {
				log.Error().Err(err).Msg("counting active tokens")
			}
			if n, err := s.store.CountPendingRequests(ctx); err == nil {
				pendingRequestsTotal.Set(float64(n))
			} else {
				log.Error().Err(err).Msg("counting pending requests")
			}
		}
	}
}
