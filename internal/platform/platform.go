// Package platform abstracts the OS services the monitor consumes:
// the accessibility-service registry, the device-administrator registry,
// the global settings store, display/telephony/audio notification APIs,
// and the foreground window.
//
// Implementations are selected per build (see platform_linux.go and
// platform_other.go); the in-memory implementation in memory.go backs
// tests and the daemon's simulation mode.
package platform

import (
	"errors"
	"time"
)

// Errors reported by platform services.
var (
	// ErrUnavailable indicates an OS registry or service cannot be
	// reached. Callers surface it; one-shot queries are not retried.
	ErrUnavailable = errors.New("platform: service unavailable")

	// ErrNoForegroundWindow indicates a window operation was requested
	// while no foreground window is bound.
	ErrNoForegroundWindow = errors.New("platform: no foreground window bound")
)

// Registration is an opaque handle returned by a notification API.
// It must be presented to the matching unregister path exactly once;
// handles are never shared across observer kinds.
type Registration interface {
	Unregister()
}

// RegistrationFunc adapts a plain function to a Registration.
type RegistrationFunc func()

// Unregister calls f.
func (f RegistrationFunc) Unregister() { f() }

// AccessibilityRegistry enumerates active accessibility services.
type AccessibilityRegistry interface {
	// EnabledServices returns the identifiers of all currently enabled
	// accessibility services, in registry order. Identifiers have the
	// form "<package>/<component>" or a bare package name. A registry
	// that cannot be reached returns an error wrapping ErrUnavailable,
	// never a silent empty list.
	EnabledServices() ([]string, error)
}

// AdminRegistry enumerates active device administrator components.
type AdminRegistry interface {
	ActiveAdmins() ([]string, error)
}

// Global settings keys consulted by the device state probe.
const (
	SettingDeveloperOptions = "development_settings_enabled"
	SettingADBEnabled       = "adb_enabled"
	SettingWirelessDebug    = "adb_wifi_enabled"
)

// SettingsStore reads integer flags from the global settings store.
type SettingsStore interface {
	// GlobalInt returns the value of a global settings key. A missing
	// key returns an error; callers treat that as "flag not set", which
	// is a normal condition on many platform generations.
	GlobalInt(key string) (int, error)
}

// DisplayListener receives display attach/detach notifications.
type DisplayListener interface {
	DisplayAdded(id int)
	DisplayRemoved(id int)
}

// DisplayService reports attached displays and topology changes.
type DisplayService interface {
	// Count returns the number of currently attached displays.
	Count() int

	Register(l DisplayListener) (Registration, error)
}

// CallState is the telephony call state reported by the OS.
type CallState int

const (
	CallUnknown CallState = iota
	CallIdle
	CallRinging
	CallActive
)

// String returns the wire name of the call state.
func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallActive:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CallState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = CallIdle
	case "ringing":
		*s = CallRinging
	case "active":
		*s = CallActive
	default:
		*s = CallUnknown
	}
	return nil
}

// TelephonyService exposes the two generations of call-state
// notification the OS has shipped. Exactly one of the two registration
// paths is used per live registration; the caller records which one it
// chose so teardown can dispatch to the matching unregister.
type TelephonyService interface {
	// State returns the current call state.
	State() CallState

	// RegisterCallback uses the modern executor-based callback API.
	// Only valid on API levels where SupportsTelephonyCallback is true.
	RegisterCallback(fn func(CallState)) (Registration, error)

	// RegisterListener uses the legacy phone-state listener API.
	RegisterListener(fn func(CallState)) (Registration, error)
}

// AudioService reports audio-recording activity, again with a modern
// and a legacy registration generation.
type AudioService interface {
	// ActiveRecordings returns the number of active recording
	// configurations.
	ActiveRecordings() int

	// RegisterRecordingCallback uses the modern recording-configuration
	// callback. Only valid where SupportsRecordingCallback is true.
	RegisterRecordingCallback(fn func(active int)) (Registration, error)

	// RegisterRecordingListener uses the legacy polled listener.
	RegisterRecordingListener(fn func(active int)) (Registration, error)
}

// TouchAction classifies an input event delivered to the foreground
// window.
type TouchAction int

const (
	ActionDown TouchAction = iota
	ActionMove
	ActionUp
)

// TouchFlags carry the obscured-window bits set by the OS when an input
// event passed through or under another window.
type TouchFlags uint32

const (
	FlagObscured TouchFlags = 1 << iota
	FlagPartiallyObscured
)

// TouchEvent is one input event seen by the foreground window's
// dispatch entry point.
type TouchEvent struct {
	Action TouchAction
	Flags  TouchFlags
	Time   time.Time
}

// InputHandler consumes touch events. The returned bool is the OS
// dispatch verdict and must be preserved by any wrapper.
type InputHandler interface {
	HandleTouch(ev TouchEvent) bool
}

// InputHandlerFunc adapts a function to an InputHandler.
type InputHandlerFunc func(ev TouchEvent) bool

// HandleTouch calls f.
func (f InputHandlerFunc) HandleTouch(ev TouchEvent) bool { return f(ev) }

// WindowHost is the foreground window surface: input-dispatch
// interception and the overlay-related window attributes.
type WindowHost interface {
	// WrapInput replaces the window's input handler with wrap(current).
	// Unregistering the returned handle restores the previous handler.
	// Returns ErrNoForegroundWindow when no window is bound.
	WrapInput(wrap func(next InputHandler) InputHandler) (Registration, error)

	// SetHideOverlayWindows toggles the window-level attribute that
	// hides non-system overlay windows.
	SetHideOverlayWindows(hide bool) error

	// SetBlockObscuredTouches toggles obscured-touch filtering on the
	// window's root view. Returns ErrNoForegroundWindow when no window
	// is bound.
	SetBlockObscuredTouches(block bool) error
}

// Platform aggregates every OS collaborator the monitor consumes.
type Platform interface {
	// APILevel returns the platform generation, used to gate
	// version-dependent registration strategies and flags.
	APILevel() int

	Accessibility() AccessibilityRegistry
	Admins() AdminRegistry
	Settings() SettingsStore
	Displays() DisplayService
	Telephony() TelephonyService
	Audio() AudioService
	Window() WindowHost

	// Available reports whether this platform backend can operate, with
	// a description of any limitation.
	Available() (bool, string)
}
