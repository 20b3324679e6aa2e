package platform

import (
	"sync"
	"time"
)

// Memory is a fully scriptable in-memory Platform. It backs the test
// suites and the daemon's simulation mode: tests and the sim driver
// script device state through the Set*/Add*/Dispatch* methods and the
// monitor consumes it through the Platform interface.
//
// All methods are safe for concurrent use. Listener callbacks fire
// synchronously on the calling goroutine; consumers that need serialized
// delivery hand the callback off to their own context, which is exactly
// what the observer lifecycle manager does.
type Memory struct {
	mu sync.Mutex

	api       int
	services  []string
	svcErr    error
	admins    []string
	adminErr  error
	settings  map[string]int
	callState CallState

	displays   map[int]bool
	nextRegID  int
	displayLsn map[int]DisplayListener
	callCb     map[int]func(CallState)
	callLsn    map[int]func(CallState)
	recCb      map[int]func(int)
	recLsn     map[int]func(int)

	recordings int

	foreground   bool
	handler      InputHandler
	inputWrapped int
	hideOverlays bool
	blockTouches bool
}

// NewMemory returns a Memory platform at the given API level with one
// attached display, a bound foreground window, and an input handler
// that consumes every event.
func NewMemory(api int) *Memory {
	return &Memory{
		api:        api,
		settings:   make(map[string]int),
		callState:  CallIdle,
		displays:   map[int]bool{0: true},
		displayLsn: make(map[int]DisplayListener),
		callCb:     make(map[int]func(CallState)),
		callLsn:    make(map[int]func(CallState)),
		recCb:      make(map[int]func(int)),
		recLsn:     make(map[int]func(int)),
		foreground: true,
		handler:    InputHandlerFunc(func(TouchEvent) bool { return true }),
	}
}

// APILevel returns the scripted platform generation.
func (m *Memory) APILevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.api
}

// SetAPILevel changes the scripted platform generation.
func (m *Memory) SetAPILevel(api int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.api = api
}

// Available always reports true for the in-memory platform.
func (m *Memory) Available() (bool, string) { return true, "in-memory platform" }

// Accessibility returns the scripted accessibility registry.
func (m *Memory) Accessibility() AccessibilityRegistry { return m }

// Admins returns the scripted device-administrator registry.
func (m *Memory) Admins() AdminRegistry { return m }

// Settings returns the scripted global settings store.
func (m *Memory) Settings() SettingsStore { return m }

// Displays returns the scripted display service.
func (m *Memory) Displays() DisplayService { return m }

// Telephony returns the scripted telephony service.
func (m *Memory) Telephony() TelephonyService { return m }

// Audio returns the scripted audio service.
func (m *Memory) Audio() AudioService { return m }

// Window returns the scripted foreground window host.
func (m *Memory) Window() WindowHost { return m }

// EnabledServices implements AccessibilityRegistry.
func (m *Memory) EnabledServices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.svcErr != nil {
		return nil, m.svcErr
	}
	out := make([]string, len(m.services))
	copy(out, m.services)
	return out, nil
}

// SetEnabledServices scripts the accessibility registry contents.
func (m *Memory) SetEnabledServices(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append([]string(nil), ids...)
	m.svcErr = nil
}

// FailAccessibility makes the accessibility registry return err.
func (m *Memory) FailAccessibility(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.svcErr = err
}

// ActiveAdmins implements AdminRegistry.
func (m *Memory) ActiveAdmins() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adminErr != nil {
		return nil, m.adminErr
	}
	out := make([]string, len(m.admins))
	copy(out, m.admins)
	return out, nil
}

// SetActiveAdmins scripts the device-administrator registry contents.
func (m *Memory) SetActiveAdmins(components ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins = append([]string(nil), components...)
	m.adminErr = nil
}

// FailAdmins makes the device-administrator registry return err.
func (m *Memory) FailAdmins(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminErr = err
}

// GlobalInt implements SettingsStore.
func (m *Memory) GlobalInt(key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return 0, ErrUnavailable
	}
	return v, nil
}

// SetGlobalInt scripts a global settings key.
func (m *Memory) SetGlobalInt(key string, v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = v
}

// ClearGlobal removes a global settings key, simulating a platform
// generation that does not define it.
func (m *Memory) ClearGlobal(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, key)
}

// Count implements DisplayService.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.displays)
}

// Register implements DisplayService.
func (m *Memory) Register(l DisplayListener) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRegID
	m.nextRegID++
	m.displayLsn[id] = l
	return RegistrationFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.displayLsn, id)
	}), nil
}

// AddDisplay attaches a display and notifies registered listeners.
func (m *Memory) AddDisplay(id int) {
	m.mu.Lock()
	m.displays[id] = true
	listeners := displaySnapshot(m.displayLsn)
	m.mu.Unlock()
	for _, l := range listeners {
		l.DisplayAdded(id)
	}
}

// RemoveDisplay detaches a display and notifies registered listeners.
func (m *Memory) RemoveDisplay(id int) {
	m.mu.Lock()
	delete(m.displays, id)
	listeners := displaySnapshot(m.displayLsn)
	m.mu.Unlock()
	for _, l := range listeners {
		l.DisplayRemoved(id)
	}
}

func displaySnapshot(in map[int]DisplayListener) []DisplayListener {
	out := make([]DisplayListener, 0, len(in))
	for _, l := range in {
		out = append(out, l)
	}
	return out
}

// State implements TelephonyService.
func (m *Memory) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callState
}

// RegisterCallback implements the modern telephony registration.
func (m *Memory) RegisterCallback(fn func(CallState)) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRegID
	m.nextRegID++
	m.callCb[id] = fn
	return RegistrationFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callCb, id)
	}), nil
}

// RegisterListener implements the legacy telephony registration.
func (m *Memory) RegisterListener(fn func(CallState)) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRegID
	m.nextRegID++
	m.callLsn[id] = fn
	return RegistrationFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callLsn, id)
	}), nil
}

// SetCallState scripts a call-state transition and notifies whichever
// telephony registrations are live.
func (m *Memory) SetCallState(s CallState) {
	m.mu.Lock()
	m.callState = s
	fns := make([]func(CallState), 0, len(m.callCb)+len(m.callLsn))
	for _, fn := range m.callCb {
		fns = append(fns, fn)
	}
	for _, fn := range m.callLsn {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// ActiveRecordings implements AudioService.
func (m *Memory) ActiveRecordings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordings
}

// RegisterRecordingCallback implements the modern audio registration.
func (m *Memory) RegisterRecordingCallback(fn func(int)) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRegID
	m.nextRegID++
	m.recCb[id] = fn
	return RegistrationFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.recCb, id)
	}), nil
}

// RegisterRecordingListener implements the legacy audio registration.
func (m *Memory) RegisterRecordingListener(fn func(int)) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRegID
	m.nextRegID++
	m.recLsn[id] = fn
	return RegistrationFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.recLsn, id)
	}), nil
}

// SetActiveRecordings scripts the number of active recording
// configurations and notifies live audio registrations.
func (m *Memory) SetActiveRecordings(n int) {
	m.mu.Lock()
	m.recordings = n
	fns := make([]func(int), 0, len(m.recCb)+len(m.recLsn))
	for _, fn := range m.recCb {
		fns = append(fns, fn)
	}
	for _, fn := range m.recLsn {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// WrapInput implements WindowHost.
func (m *Memory) WrapInput(wrap func(next InputHandler) InputHandler) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.foreground {
		return nil, ErrNoForegroundWindow
	}
	prev := m.handler
	m.handler = wrap(prev)
	m.inputWrapped++
	return RegistrationFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handler = prev
		m.inputWrapped--
	}), nil
}

// SetHideOverlayWindows implements WindowHost.
func (m *Memory) SetHideOverlayWindows(hide bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideOverlays = hide
	return nil
}

// SetBlockObscuredTouches implements WindowHost.
func (m *Memory) SetBlockObscuredTouches(block bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.foreground {
		return ErrNoForegroundWindow
	}
	m.blockTouches = block
	return nil
}

// SetForeground scripts whether a foreground window is bound.
func (m *Memory) SetForeground(bound bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foreground = bound
}

// SetInputHandler replaces the window's base input handler.
func (m *Memory) SetInputHandler(h InputHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// DispatchTouch delivers a touch event through the window's current
// handler chain and returns the dispatch verdict.
func (m *Memory) DispatchTouch(ev TouchEvent) bool {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	return h.HandleTouch(ev)
}

// Introspection used by tests to verify registration bookkeeping.

// DisplayRegistrations returns the number of live display listeners.
func (m *Memory) DisplayRegistrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.displayLsn)
}

// TelephonyCallbackRegistrations returns live modern telephony
// registrations.
func (m *Memory) TelephonyCallbackRegistrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callCb)
}

// TelephonyListenerRegistrations returns live legacy telephony
// registrations.
func (m *Memory) TelephonyListenerRegistrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callLsn)
}

// RecordingCallbackRegistrations returns live modern audio
// registrations.
func (m *Memory) RecordingCallbackRegistrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recCb)
}

// RecordingListenerRegistrations returns live legacy audio
// registrations.
func (m *Memory) RecordingListenerRegistrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recLsn)
}

// InputWrapped returns the number of live input-handler wraps.
func (m *Memory) InputWrapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputWrapped
}

// HideOverlaysSet returns the last overlay-hiding value applied.
func (m *Memory) HideOverlaysSet() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hideOverlays
}

// BlockTouchesSet returns the last obscured-touch filter value applied.
func (m *Memory) BlockTouchesSet() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockTouches
}
