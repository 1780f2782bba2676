// Package obs wires the operational metrics a running cluster emits to
// Prometheus, and the optional HTTP endpoint that serves them.
//
// Grounded on the IvanBrykalov/lru `metrics/prom` adapter: one struct of
// pre-registered counters/gauges built once at startup, an `Inc`/`Set`
// method per event a caller fires on the hot path, and a constructor that
// takes the registerer so tests can use an isolated one instead of the
// process-global default.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics is the set of counters a server process updates on its
// hot path: per-kind operation counts, cache hit/miss, and DSM
// invalidation traffic.
type ServerMetrics struct {
	ops          *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	invalidates  *prometheus.CounterVec
	replications prometheus.Counter
}

// NewServerMetrics registers a ServerMetrics on reg (nil uses the default
// registerer) under the "shardkv_server" namespace.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &ServerMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "server",
			Name:      "ops_total",
			Help:      "Client operations served, by kind.",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "server",
			Name:      "cache_hits_total",
			Help:      "Requestor-cache hits served without a home round trip.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "server",
			Name:      "cache_misses_total",
			Help:      "Requestor-cache misses that required a Shmem round trip.",
		}),
		invalidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "server",
			Name:      "invalidations_total",
			Help:      "Directory-issued invalidations, by type.",
		}, []string{"type"}),
		replications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "server",
			Name:      "replications_total",
			Help:      "Replicate messages sent to secondaries by the replication engine.",
		}),
	}
	reg.MustRegister(m.ops, m.cacheHits, m.cacheMisses, m.invalidates, m.replications)
	return m
}

// Op records one served client operation (kind is "get", "put", or
// "delete").
func (m *ServerMetrics) Op(kind string) { m.ops.WithLabelValues(kind).Inc() }

// CacheHit records a requestor-cache hit.
func (m *ServerMetrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss records a requestor-cache miss.
func (m *ServerMetrics) CacheMiss() { m.cacheMisses.Inc() }

// Invalidate records a directory-issued invalidation of the given type
// ("to_inv" or "to_shared").
func (m *ServerMetrics) Invalidate(typ string) { m.invalidates.WithLabelValues(typ).Inc() }

// Replication records one Replicate message sent to one secondary; a write
// fanned out to n secondaries is recorded n times.
func (m *ServerMetrics) Replication() { m.replications.Inc() }

// ControllerMetrics tracks heartbeat round health from the controller's
// point of view.
type ControllerMetrics struct {
	roundsTotal  prometheus.Counter
	acksMissed   *prometheus.CounterVec
	healthyGauge *prometheus.GaugeVec
}

// NewControllerMetrics registers a ControllerMetrics on reg (nil uses the
// default registerer).
func NewControllerMetrics(reg prometheus.Registerer) *ControllerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &ControllerMetrics{
		roundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "controller",
			Name:      "heartbeat_rounds_total",
			Help:      "Heartbeat rounds run against the server set.",
		}),
		acksMissed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shardkv",
			Subsystem: "controller",
			Name:      "heartbeat_misses_total",
			Help:      "Missed PutShardInfoRes acknowledgements, by server pid.",
		}, []string{"pid"}),
		healthyGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shardkv",
			Subsystem: "controller",
			Name:      "server_healthy",
			Help:      "1 if the server's last heartbeat round was acknowledged, else 0.",
		}, []string{"pid"}),
	}
	reg.MustRegister(m.roundsTotal, m.acksMissed, m.healthyGauge)
	return m
}

// RecordRound records one server's outcome for a heartbeat round: when
// acked, its healthy gauge is set to 1; otherwise its miss counter is
// incremented and its healthy gauge is set to 0. Callers invoke it once per
// server.
func (m *ControllerMetrics) RecordRound(pid string, acked bool) {
	if acked {
		m.healthyGauge.WithLabelValues(pid).Set(1)
		return
	}
	m.acksMissed.WithLabelValues(pid).Inc()
	m.healthyGauge.WithLabelValues(pid).Set(0)
}

// RoundComplete increments the total-rounds counter once per pusher round.
func (m *ControllerMetrics) RoundComplete() { m.roundsTotal.Inc() }

// Serve starts an HTTP server exposing /metrics on addr in its own
// goroutine. It never blocks the caller; listen errors are logged, not
// returned, since a metrics endpoint failing to bind must never take down
// the process it's instrumenting.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
}
