package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryMetrics_Counter(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Counter(MetricSyncItems, 3, T("action", "created"))
	m.Counter(MetricSyncItems, 2, T("action", "created"))
	m.Counter(MetricSyncItems, 1, T("action", "failed"))

	assert.Equal(t, int64(5), m.GetCounter(MetricSyncItems, T("action", "created")))
	assert.Equal(t, int64(1), m.GetCounter(MetricSyncItems, T("action", "failed")))
	assert.Equal(t, int64(0), m.GetCounter(MetricSyncItems))
}

func TestInMemoryMetrics_Gauge(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Gauge("pauta.sync.pending", 12)
	m.Gauge("pauta.sync.pending", 7)

	assert.Equal(t, float64(7), m.GetGauge("pauta.sync.pending"))
}

func TestInMemoryMetrics_Timing(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Timing(MetricSyncCycleDuration, 120*time.Millisecond)
	m.Timing(MetricSyncCycleDuration, 80*time.Millisecond)

	timings := m.GetTimings(MetricSyncCycleDuration)
	assert.Len(t, timings, 2)
}

func TestInMemoryMetrics_TagOrderIsIrrelevant(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Counter(MetricRemindersSent, 1, T("provider", "google"), T("category", "hearing"))
	m.Counter(MetricRemindersSent, 1, T("category", "hearing"), T("provider", "google"))

	assert.Equal(t, int64(2),
		m.GetCounter(MetricRemindersSent, T("provider", "google"), T("category", "hearing")))
}

func TestInMemoryMetrics_Reset(t *testing.T) {
	m := NewInMemoryMetrics()
	m.Counter(MetricSyncFailures, 4)

	m.Reset()

	assert.Equal(t, int64(0), m.GetCounter(MetricSyncFailures))
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}

	// Must not panic.
	m.Counter(MetricSyncItems, 1)
	m.Gauge("pauta.sync.pending", 1)
	m.Timing(MetricSyncCycleDuration, time.Second)
}
