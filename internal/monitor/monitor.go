// Package monitor owns the lifecycle of the four OS signal observers:
// touch obscuring, display count, call state, and microphone activity.
//
// The manager funnels heterogeneous OS notification mechanisms into
// uniform per-kind event streams with report-initial-state-on-subscribe
// semantics. Every state transition and every callback delivery runs on
// one manager-owned goroutine, so per-kind Active/Inactive state is
// never touched by two goroutines at once and at most one registration
// handle is live per kind.
//
// Streams are single-subscriber: a second Subscribe while a kind is
// active replaces the previous sink (the old channel is closed) without
// re-registering or re-emitting the initial snapshot.
package monitor

import (
	"errors"
	"sync"

	"sentryd/internal/logging"
	"sentryd/internal/platform"
)

// Errors reported by the manager.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("monitor: manager closed")

	// ErrUnknownKind is returned for an out-of-range observer kind.
	ErrUnknownKind = errors.New("monitor: unknown observer kind")
)

// defaultBuffer is the per-kind sink capacity.
const defaultBuffer = 16

// Config configures a Manager.
type Config struct {
	// Platform supplies the OS notification services.
	Platform platform.Platform

	// Logger receives lifecycle and delivery diagnostics. Defaults to
	// the package default logger with a "monitor" component.
	Logger *logging.Logger

	// Buffer is the per-kind sink capacity. Defaults to 16.
	Buffer int

	// Tap, when set, is invoked on the manager goroutine for every
	// emitted event, before delivery to the subscriber. Used to feed
	// the journal and metrics.
	Tap func(Event)

	// OnDrop, when set, is invoked when a subscriber's sink is full and
	// an event is discarded.
	OnDrop func(Kind)
}

// Manager is the observer lifecycle manager.
type Manager struct {
	p      platform.Platform
	log    *logging.Logger
	tap    func(Event)
	onDrop func(Kind)
	buffer int

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once

	// states is only touched on the manager goroutine.
	states [numKinds]observerState
}

// observerState is the per-kind lifecycle state.
type observerState struct {
	active bool

	// gen increments on every start; late callbacks from a previous
	// registration carry a stale generation and are discarded.
	gen uint64

	sink chan Event

	// teardown is the unregister path recorded at start time. For the
	// kinds with two API-generation registration strategies this is the
	// only record of which branch was taken.
	teardown func()

	strategy string
}

// New creates a Manager and starts its event-processing goroutine.
func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = logging.Default().WithComponent("monitor")
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	m := &Manager{
		p:      cfg.Platform,
		log:    log,
		tap:    cfg.Tap,
		onDrop: cfg.OnDrop,
		buffer: buffer,
		ops:    make(chan func(), 128),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// run is the manager goroutine: it serializes every state transition
// and every callback delivery.
func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.ops:
			fn()
		case <-m.quit:
			for _, k := range Kinds() {
				m.stopLocked(k)
			}
			return
		}
	}
}

// do runs fn on the manager goroutine and waits for it to complete.
func (m *Manager) do(fn func()) error {
	reply := make(chan struct{})
	wrapped := func() {
		fn()
		close(reply)
	}
	select {
	case m.ops <- wrapped:
	case <-m.quit:
		return ErrClosed
	}
	select {
	case <-reply:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// post hands an OS callback observation off to the manager goroutine.
// Observations for a stale generation or an inactive kind are dropped;
// that is what guarantees silence after Unsubscribe returns.
func (m *Manager) post(kind Kind, gen uint64, ev Event) {
	select {
	case m.ops <- func() {
		st := &m.states[kind]
		if !st.active || st.gen != gen {
			return
		}
		m.emit(st, kind, ev)
	}:
	case <-m.quit:
	}
}

// emit delivers an event to the kind's sink. Runs on the manager
// goroutine only.
func (m *Manager) emit(st *observerState, kind Kind, ev Event) {
	if m.tap != nil {
		m.tap(ev)
	}
	select {
	case st.sink <- ev:
	default:
		m.log.Warn("event dropped, slow subscriber", "kind", kind.String())
		if m.onDrop != nil {
			m.onDrop(kind)
		}
	}
}

// Subscribe starts the observer for kind if it is inactive and returns
// its event stream. Starting is idempotent: while the kind is active a
// further Subscribe replaces the sink without registering a second
// OS-level listener or re-emitting the initial snapshot.
//
// A failed OS registration is not surfaced: the kind stays inactive and
// the returned stream is already closed. These are defense-in-depth
// signals, not a primary security boundary.
func (m *Manager) Subscribe(kind Kind) (<-chan Event, error) {
	if kind < 0 || kind >= numKinds {
		return nil, ErrUnknownKind
	}
	var ch <-chan Event
	if err := m.do(func() { ch = m.subscribeLocked(kind) }); err != nil {
		return nil, err
	}
	return ch, nil
}

// subscribeLocked runs on the manager goroutine.
func (m *Manager) subscribeLocked(kind Kind) <-chan Event {
	st := &m.states[kind]

	if st.active {
		old := st.sink
		st.sink = make(chan Event, m.buffer)
		close(old)
		m.log.Debug("subscriber replaced", "kind", kind.String())
		return st.sink
	}

	st.gen++
	sink := make(chan Event, m.buffer)
	st.sink = sink
	st.active = true

	teardown, strategy, err := m.startKind(kind, st.gen)
	if err != nil {
		m.log.Warn("observer registration failed",
			"kind", kind.String(), "strategy", strategy, "error", err)
		st.active = false
		st.sink = nil
		close(sink)
		return sink
	}

	st.teardown = teardown
	st.strategy = strategy
	m.log.Info("observer started", "kind", kind.String(), "strategy", strategy)
	return sink
}

// Unsubscribe stops the observer for kind and closes its stream. A
// no-op while inactive. Safe to call with events in flight: once it
// returns, no further event for the kind is delivered, even if the OS
// fires a late callback concurrently.
func (m *Manager) Unsubscribe(kind Kind) {
	if kind < 0 || kind >= numKinds {
		return
	}
	m.do(func() { m.stopLocked(kind) })
}

// stopLocked runs on the manager goroutine.
func (m *Manager) stopLocked(kind Kind) {
	st := &m.states[kind]
	if !st.active {
		return
	}
	if st.teardown != nil {
		st.teardown()
	}
	st.active = false
	st.teardown = nil
	close(st.sink)
	st.sink = nil
	m.log.Info("observer stopped", "kind", kind.String(), "strategy", st.strategy)
	st.strategy = ""
}

// startKind emits the kind's initial snapshot and registers the
// OS-level callback, returning the recorded teardown path.
func (m *Manager) startKind(kind Kind, gen uint64) (teardown func(), strategy string, err error) {
	switch kind {
	case TouchObscuring:
		return m.startTouch(gen)
	case DisplayCount:
		return m.startDisplay(gen)
	case CallState:
		return m.startCall(gen)
	case MicrophoneActivity:
		return m.startMicrophone(gen)
	}
	return nil, "", ErrUnknownKind
}

// Active reports whether the kind currently holds a live registration.
func (m *Manager) Active(kind Kind) bool {
	if kind < 0 || kind >= numKinds {
		return false
	}
	var active bool
	m.do(func() { active = m.states[kind].active })
	return active
}

// ActiveKinds returns the kinds that currently hold live registrations.
func (m *Manager) ActiveKinds() []Kind {
	var out []Kind
	m.do(func() {
		for _, k := range Kinds() {
			if m.states[k].active {
				out = append(out, k)
			}
		}
	})
	return out
}

// Close stops every active observer and shuts the manager down. Safe to
// call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
	})
	<-m.done
}
