package metrics

import "sentryd/internal/monitor"

// DaemonMetrics holds the sentryd daemon's metric set.
type DaemonMetrics struct {
	registry *Registry

	// Per-kind event counters, indexed by wire name.
	EventsTotal   map[string]*Counter
	EventsDropped map[string]*Counter

	AuditChecksTotal    *Counter
	AuditDeniedTotal    *Counter
	JournalAppendsTotal *Counter
	JournalErrorsTotal  *Counter

	ActiveObservers  *Gauge
	AttachedDisplays *Gauge
	ConnectedClients *Gauge

	RequestDuration *Histogram
}

// NewDaemonMetrics creates and registers the daemon metric set.
func NewDaemonMetrics(registry *Registry) *DaemonMetrics {
	if registry == nil {
		registry = NewRegistry("sentryd")
	}

	m := &DaemonMetrics{
		registry:      registry,
		EventsTotal:   make(map[string]*Counter),
		EventsDropped: make(map[string]*Counter),

		AuditChecksTotal: registry.RegisterCounter(
			"audit_checks_total",
			"Total number of accessibility audit checks performed",
			nil,
		),
		AuditDeniedTotal: registry.RegisterCounter(
			"audit_denied_total",
			"Total number of audit checks that matched the deny list",
			nil,
		),
		JournalAppendsTotal: registry.RegisterCounter(
			"journal_appends_total",
			"Total number of records appended to the journal",
			nil,
		),
		JournalErrorsTotal: registry.RegisterCounter(
			"journal_errors_total",
			"Total number of failed journal appends",
			nil,
		),
		ActiveObservers: registry.RegisterGauge(
			"active_observers",
			"Number of observer kinds currently registered with the OS",
			nil,
		),
		AttachedDisplays: registry.RegisterGauge(
			"attached_displays",
			"Number of displays currently attached",
			nil,
		),
		ConnectedClients: registry.RegisterGauge(
			"connected_clients",
			"Number of connected IPC clients",
			nil,
		),
		RequestDuration: registry.RegisterHistogram(
			"request_duration_seconds",
			"IPC request handling duration",
			nil,
			DurationBuckets,
		),
	}

	for _, kind := range monitor.Kinds() {
		name := kind.String()
		m.EventsTotal[name] = registry.RegisterCounter(
			"events_total",
			"Total number of observer events emitted",
			Labels{"kind": name},
		)
		m.EventsDropped[name] = registry.RegisterCounter(
			"events_dropped_total",
			"Total number of observer events dropped on full sinks",
			Labels{"kind": name},
		)
	}
	return m
}

// Registry returns the backing registry for exposition.
func (m *DaemonMetrics) Registry() *Registry { return m.registry }

// RecordEvent counts one emitted event for a kind.
func (m *DaemonMetrics) RecordEvent(kind monitor.Kind) {
	if c, ok := m.EventsTotal[kind.String()]; ok {
		c.Inc()
	}
}

// RecordDrop counts one dropped event for a kind.
func (m *DaemonMetrics) RecordDrop(kind monitor.Kind) {
	if c, ok := m.EventsDropped[kind.String()]; ok {
		c.Inc()
	}
}
