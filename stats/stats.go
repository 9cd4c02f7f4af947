package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opd-ai/rfm/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Snapshot keys.
const (
	KeySessionsActive  = "sessions_active"
	KeySessionsTotal   = "sessions_total"
	KeyResponses       = "responses"
	KeyResponseSeconds = "response_seconds"
	KeyDownloadBytes   = "download_bytes"
	KeyDownloadSeconds = "download_seconds"
	KeyDownloadRate    = "download_bytes_per_second"
	KeyUploadBytes     = "upload_bytes"
	KeyUploadSeconds   = "upload_seconds"
	KeyUploadRate      = "upload_bytes_per_second"
)

// NetworkStat holds cumulative time and volume for responses, downloads and
// uploads.
type NetworkStat struct {
	ResponseSeconds float64
	ResponseAmount  float64
	DownloadSeconds float64
	DownloadAmount  int64
	UploadSeconds   float64
	UploadAmount    int64
}

// DownloadRate returns bytes per second, or 0 before any download.
func (n NetworkStat) DownloadRate() float64 {
	return rate(n.DownloadAmount, n.DownloadSeconds)
}

// UploadRate returns bytes per second, or 0 before any upload.
func (n NetworkStat) UploadRate() float64 {
	return rate(n.UploadAmount, n.UploadSeconds)
}

func rate(amount int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(amount) / seconds
}

// Collector records server statistics. It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	net      NetworkStat
	active   int64
	sessions int64

	registry        *prometheus.Registry
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	responsesTotal  *prometheus.CounterVec
	responseLatency prometheus.Histogram
	transferBytes   *prometheus.CounterVec
	transferSeconds *prometheus.HistogramVec
	transferResults *prometheus.CounterVec
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfm_sessions_active",
			Help: "Number of connected sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfm_sessions_total",
			Help: "Total number of accepted sessions",
		}),
		responsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfm_responses_total",
			Help: "Total number of responses sent, by tag",
		}, []string{"tag"}),
		responseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rfm_response_duration_seconds",
			Help:    "Time from request receipt to response",
			Buckets: prometheus.DefBuckets,
		}),
		transferBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfm_transfer_bytes_total",
			Help: "Bytes moved by transfers, by direction",
		}, []string{"direction"}),
		transferSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rfm_transfer_duration_seconds",
			Help:    "Transfer duration in seconds, by direction",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"direction"}),
		transferResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfm_transfers_total",
			Help: "Completed transfers, by direction and status",
		}, []string{"direction", "status"}),
	}
}

// Registry returns the Prometheus registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SessionOpened records a new session.
func (c *Collector) SessionOpened() {
	c.mu.Lock()
	c.active++
	c.sessions++
	c.mu.Unlock()
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed records the end of a session.
func (c *Collector) SessionClosed() {
	c.mu.Lock()
	if c.active > 0 {
		c.active--
	}
	c.mu.Unlock()
	c.sessionsActive.Dec()
}

// ObserveResponse records one response and the time spent producing it.
func (c *Collector) ObserveResponse(tag protocol.Tag, elapsed time.Duration) {
	c.mu.Lock()
	c.net.ResponseAmount++
	c.net.ResponseSeconds += elapsed.Seconds()
	c.mu.Unlock()
	c.responsesTotal.WithLabelValues(tag.String()).Inc()
	c.responseLatency.Observe(elapsed.Seconds())
}

// ObserveDownload records bytes sent to a client.
func (c *Collector) ObserveDownload(n int64, elapsed time.Duration, err error) {
	c.mu.Lock()
	c.net.DownloadAmount += n
	c.net.DownloadSeconds += elapsed.Seconds()
	c.mu.Unlock()
	c.observeTransfer("download", n, elapsed, err)
}

// ObserveUpload records bytes received from a client.
func (c *Collector) ObserveUpload(n int64, elapsed time.Duration, err error) {
	c.mu.Lock()
	c.net.UploadAmount += n
	c.net.UploadSeconds += elapsed.Seconds()
	c.mu.Unlock()
	c.observeTransfer("upload", n, elapsed, err)
}

func (c *Collector) observeTransfer(direction string, n int64, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.transferBytes.WithLabelValues(direction).Add(float64(n))
	c.transferSeconds.WithLabelValues(direction).Observe(elapsed.Seconds())
	c.transferResults.WithLabelValues(direction, status).Inc()

	logrus.WithFields(logrus.Fields{
		"function":  "observeTransfer",
		"direction": direction,
		"bytes":     n,
		"seconds":   elapsed.Seconds(),
		"status":    status,
	}).Debug("Transfer recorded")
}

// Network returns a copy of the cumulative network statistics.
func (c *Collector) Network() NetworkStat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net
}

// Snapshot returns the statistics carried by a STATS response.
func (c *Collector) Snapshot() protocol.Stats {
	c.mu.Lock()
	n := c.net
	active, total := c.active, c.sessions
	c.mu.Unlock()

	return protocol.Stats{
		KeySessionsActive:  float64(active),
		KeySessionsTotal:   float64(total),
		KeyResponses:       n.ResponseAmount,
		KeyResponseSeconds: n.ResponseSeconds,
		KeyDownloadBytes:   float64(n.DownloadAmount),
		KeyDownloadSeconds: n.DownloadSeconds,
		KeyDownloadRate:    n.DownloadRate(),
		KeyUploadBytes:     float64(n.UploadAmount),
		KeyUploadSeconds:   n.UploadSeconds,
		KeyUploadRate:      n.UploadRate(),
	}
}

// Handler returns a router serving /metrics from the collector's registry
// and a plain /healthz probe.
func (c *Collector) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}))
	return router
}

// NewServer returns an HTTP server exposing Handler on addr.
func (c *Collector) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
