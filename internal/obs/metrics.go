package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	grantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_grants_total",
			Help: "Access-control grants registered, by kind.",
		},
		[]string{"kind"},
	)

	accessChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_access_checks_total",
			Help: "Access checks served, by outcome.",
		},
		[]string{"result"},
	)

	escrowWei = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_escrow_wei",
		Help: "Current escrow balance held by the gateway, in wei.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ready",
		Help: "Readiness of the service (1 = ready).",
	})
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		grantsTotal, accessChecksTotal, escrowWei, ready,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGrant counts a committed grant. kind is one of
// "direct", "payment", "nft", "erc1155", "dao".
func ObserveGrant(kind string) {
	grantsTotal.WithLabelValues(kind).Inc()
}

// ObserveAccessCheck counts an access query by its outcome:
// "permitted", "denied" or "error".
func ObserveAccessCheck(result string) {
	accessChecksTotal.WithLabelValues(result).Inc()
}

// SetEscrowWei records the current escrow balance.
func SetEscrowWei(v int64) {
	escrowWei.Set(float64(v))
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Instrument measures RPS, latency and in-flight count per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifier segments so metric cardinality stays
// bounded. Unknown shapes pass through unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "grants" && parts[2] != "" {
		switch len(parts) {
		case 3:
			return "/v1/grants/:doc"
		case 4:
			if parts[3] == "payments" {
				return "/v1/grants/:doc/payments"
			}
		}
	}
	if len(parts) == 4 && parts[0] == "v1" && parts[1] == "stablecoins" {
		switch parts[3] {
		case "tokens":
			return "/v1/stablecoins/:fiat/tokens"
		case "fee":
			return "/v1/stablecoins/:fiat/fee"
		}
	}
	return p
}

// statusWriter captures the response code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
