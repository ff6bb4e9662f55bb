package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
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
)

// Authority domain metrics.
var (
	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authority_tokens_issued_total",
		Help: "Tokens minted by the issuer.",
	})

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authority_token_verifications_total",
			Help: "Token verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	keyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authority_key_rotations_total",
		Help: "Signing key rotations performed.",
	})

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authority_sessions_active",
		Help: "Sessions currently tracked by the session manager.",
	})

	sessionRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authority_session_renewals_total",
			Help: "Session renew calls by result (reissued or noop).",
		},
		[]string{"result"},
	)
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokensIssued, tokenVerifications, keyRotations,
		sessionsActive, sessionRenewals,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenIssued records a successful mint.
func TokenIssued() { tokensIssued.Inc() }

// TokenVerified records a verification attempt. Outcome is "ok" or the
// internal failure class (malformed, unknown_key, bad_signature, expired,
// invalid_claims).
func TokenVerified(outcome string) { tokenVerifications.WithLabelValues(outcome).Inc() }

// KeyRotated records a completed rotation.
func KeyRotated() { keyRotations.Inc() }

// SessionOpened and SessionClosed track the active session gauge.
func SessionOpened() { sessionsActive.Inc() }
func SessionClosed() { sessionsActive.Dec() }

// SessionRenewed records a renew call; reissued reports whether a new token
// was minted.
func SessionRenewed(reissued bool) {
	result := "noop"
	if reissued {
		result = "reissued"
	}
	sessionRenewals.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight accounting.
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
// bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "accounts" && parts[3] != "" {
		parts[3] = ":id"
		return strings.Join(parts, "/")
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
