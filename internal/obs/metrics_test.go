package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector, labels map[string]string) float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if matchesLabels(m, labels) {
				if m.Counter != nil {
					return m.Counter.GetValue()
				}
				if m.Gauge != nil {
					return m.Gauge.GetValue()
				}
			}
		}
	}
	t.Fatalf("no metric matched labels %v", labels)
	return 0
}

func matchesLabels(m *dto.Metric, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	got := make(map[string]string, len(m.Label))
	for _, l := range m.Label {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestServerMetricsOpIncrementsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg)

	m.Op("get")
	m.Op("get")
	m.Op("put")

	assert.Equal(t, float64(2), counterValue(t, m.ops, map[string]string{"kind": "get"}))
	assert.Equal(t, float64(1), counterValue(t, m.ops, map[string]string{"kind": "put"}))
}

func TestServerMetricsCacheHitMiss(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg)

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()

	assert.Equal(t, float64(2), counterValue(t, m.cacheHits, nil))
	assert.Equal(t, float64(1), counterValue(t, m.cacheMisses, nil))
}

func TestServerMetricsInvalidateAndReplication(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg)

	m.Invalidate("to_inv")
	m.Replication()

	assert.Equal(t, float64(1), counterValue(t, m.invalidates, map[string]string{"type": "to_inv"}))
	assert.Equal(t, float64(1), counterValue(t, m.replications, nil))
}

func TestControllerMetricsRecordRound(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewControllerMetrics(reg)

	m.RecordRound("5", true)
	assert.Equal(t, float64(1), counterValue(t, m.healthyGauge, map[string]string{"pid": "5"}))

	m.RecordRound("5", false)
	assert.Equal(t, float64(0), counterValue(t, m.healthyGauge, map[string]string{"pid": "5"}))
	assert.Equal(t, float64(1), counterValue(t, m.acksMissed, map[string]string{"pid": "5"}))

	m.RoundComplete()
	m.RoundComplete()
	assert.Equal(t, float64(2), counterValue(t, m.roundsTotal, nil))
}

func TestServeNoopOnEmptyAddr(t *testing.T) {
	// must not panic or attempt to bind anything
	Serve("")
}
