package corelink

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "corelink"

var (
	metricsOnce sync.Once

	connectsTotal    *prometheus.CounterVec
	disconnectsTotal *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	pendingRequests  prometheus.Gauge
)

// registerMetrics installs the client metrics on the default registry. Every
// NewClient calls it; registration happens once per process.
func registerMetrics() {
	metricsOnce.Do(func() {
		connectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connects_total",
			Help:      "Connection attempts by outcome.",
		}, []string{"outcome", "automatic"})

		disconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Connection teardowns by trigger.",
		}, []string{"cause"})

		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Request round-trips by outcome.",
		}, []string{"outcome"})

		requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Request round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"})

		pendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_requests",
			Help:      "Requests currently awaiting settlement.",
		})

		prometheus.MustRegister(
			connectsTotal,
			disconnectsTotal,
			requestsTotal,
			requestDuration,
			pendingRequests,
		)
	})
}

func recordConnect(outcome string, automatic bool) {
	if connectsTotal == nil {
		return
	}
	connectsTotal.WithLabelValues(outcome, strconv.FormatBool(automatic)).Inc()
}

func recordDisconnect(cause string) {
	if disconnectsTotal == nil {
		return
	}
	disconnectsTotal.WithLabelValues(cause).Inc()
}

func recordRequest(outcome string, elapsed time.Duration) {
	if requestsTotal == nil {
		return
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func setPendingRequests(n float64) {
	if pendingRequests == nil {
		return
	}
	pendingRequests.Set(n)
}

// Stats is a point-in-time snapshot of one client's activity. The process-wide
// Prometheus metrics aggregate across clients; Stats scopes the same counters
// to a single instance.
type Stats struct {
	Pending           int
	Connects          uint64
	ConnectFailures   uint64
	Disconnects       uint64
	RequestsSucceeded uint64
	RequestsFailed    uint64
	RequestsTimedOut  uint64
	RequestsCancelled uint64
}

type clientCounters struct {
	connects          atomic.Uint64
	connectFailures   atomic.Uint64
	disconnects       atomic.Uint64
	requestsSucceeded atomic.Uint64
	requestsFailed    atomic.Uint64
	requestsTimedOut  atomic.Uint64
	requestsCancelled atomic.Uint64
}

// requestSettled feeds one settled round-trip into the process-wide metrics
// and this client's counters.
func (client *Client) requestSettled(outcome string, elapsed time.Duration) {
	recordRequest(outcome, elapsed)
	switch outcome {
	case "ok":
		client.counters.requestsSucceeded.Add(1)
	case "timeout":
		client.counters.requestsTimedOut.Add(1)
	case "cancelled":
		client.counters.requestsCancelled.Add(1)
	default:
		client.counters.requestsFailed.Add(1)
	}
}

// Stats reports a snapshot of this client's activity counters.
func (client *Client) Stats() Stats {
	return Stats{
		Pending:           client.requests.Len(),
		Connects:          client.counters.connects.Load(),
		ConnectFailures:   client.counters.connectFailures.Load(),
		Disconnects:       client.counters.disconnects.Load(),
		RequestsSucceeded: client.counters.requestsSucceeded.Load(),
		RequestsFailed:    client.counters.requestsFailed.Load(),
		RequestsTimedOut:  client.counters.requestsTimedOut.Load(),
		RequestsCancelled: client.counters.requestsCancelled.Load(),
	}
}
