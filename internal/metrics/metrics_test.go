package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryd/internal/monitor"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("sentryd")

	c := r.RegisterCounter("events_total", "events", Labels{"kind": "call_state"})
	c.Inc()
	c.Add(2)
	assert.EqualValues(t, 3, c.Value())

	g := r.RegisterGauge("active_observers", "observers", nil)
	g.Set(4)
	g.Dec()
	assert.EqualValues(t, 3, g.Value())
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry("sentryd")

	a := r.RegisterCounter("events_total", "events", Labels{"kind": "call_state"})
	b := r.RegisterCounter("events_total", "events", Labels{"kind": "call_state"})
	assert.Same(t, a, b)

	// Distinct label sets are distinct series.
	c := r.RegisterCounter("events_total", "events", Labels{"kind": "display_count"})
	assert.NotSame(t, a, c)
}

func TestHistogramObserve(t *testing.T) {
	r := NewRegistry("sentryd")
	h := r.RegisterHistogram("request_duration_seconds", "duration", nil, DurationBuckets)

	h.ObserveDuration(2 * time.Millisecond)
	h.ObserveDuration(300 * time.Millisecond)
	assert.EqualValues(t, 2, h.Count())
}

func TestWriteText(t *testing.T) {
	r := NewRegistry("sentryd")
	r.RegisterCounter("events_total", "Total events", Labels{"kind": "call_state"}).Inc()
	r.RegisterGauge("active_observers", "Active observers", nil).Set(2)

	var sb strings.Builder
	require.NoError(t, r.WriteText(&sb))
	out := sb.String()

	assert.Contains(t, out, "# TYPE sentryd_events_total counter")
	assert.Contains(t, out, `sentryd_events_total{kind="call_state"} 1`)
	assert.Contains(t, out, "sentryd_active_observers 2")
}

func TestDaemonMetricsPerKind(t *testing.T) {
	m := NewDaemonMetrics(nil)

	m.RecordEvent(monitor.CallState)
	m.RecordEvent(monitor.CallState)
	m.RecordDrop(monitor.DisplayCount)

	assert.EqualValues(t, 2, m.EventsTotal["call_state"].Value())
	assert.EqualValues(t, 1, m.EventsDropped["display_count"].Value())
	assert.EqualValues(t, 0, m.EventsTotal["display_count"].Value())
}
