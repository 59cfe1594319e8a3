package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the game's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bonecraft",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonecraft",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bonecraft",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	synths = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonecraft",
			Subsystem: "synth",
			Name:      "attempts_total",
			Help:      "Synthesis attempts by outcome.",
		},
		[]string{"outcome"},
	)

	syncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonecraft",
			Subsystem: "ledger",
			Name:      "sync_failures_total",
			Help:      "Ledger saves that failed after an in-memory change was applied.",
		},
		[]string{"op"},
	)

	marketOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonecraft",
			Subsystem: "market",
			Name:      "operations_total",
			Help:      "Auction house operations by kind and result code.",
		},
		[]string{"op", "code"},
	)

	botTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bonecraft",
			Subsystem: "bots",
			Name:      "ticks_total",
			Help:      "Bot driver ticks by chosen action and result.",
		},
		[]string{"action", "result"},
	)

	feedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bonecraft",
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected market feed websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		synths,
		syncFailures,
		marketOps,
		botTicks,
		feedClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordSynth(outcome string) {
	synths.WithLabelValues(outcome).Inc()
}

func RecordSyncFailure(op string) {
	syncFailures.WithLabelValues(op).Inc()
}

// RecordMarket counts a market operation; code is "" on success.
func RecordMarket(op, code string) {
	if code == "" {
		code = "ok"
	}
	marketOps.WithLabelValues(op, code).Inc()
}

func RecordBotTick(action, result string) {
	botTicks.WithLabelValues(action, result).Inc()
}

func FeedClients(delta int) {
	feedClients.Add(float64(delta))
}

// InstrumentHandler wraps next with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// canonicalPath keeps label cardinality bounded: /api/{group}/{action} and
// the top-level endpoints pass through, anything else collapses.
func canonicalPath(raw string) string {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 0 || parts[0] == "":
		return "/"
	case parts[0] == "api" && len(parts) >= 3:
		return "/api/" + parts[1] + "/" + parts[2]
	case parts[0] == "v1" && len(parts) >= 2:
		return "/v1/" + parts[1]
	case parts[0] == "healthz":
		return "/healthz"
	default:
		return "/other"
	}
}
