package platform

import "fmt"

// Options configures backend construction.
type Options struct {
	// APILevel is the platform generation the backend should report.
	APILevel int

	// SettingsPath is the key/value settings file consulted by the
	// D-Bus backend's settings store.
	SettingsPath string
}

// Select constructs the platform backend named in the configuration.
//
// "memory" is the scriptable in-memory platform (simulation mode),
// "dbus" is the D-Bus host adapter on Linux builds, "null" is the
// always-unavailable fallback, and "auto" picks the D-Bus adapter when
// it can connect and falls back to null otherwise.
func Select(backend string, opts Options) (Platform, error) {
	switch backend {
	case "memory":
		return NewMemory(opts.APILevel), nil
	case "null":
		return NewNull(opts.APILevel), nil
	case "dbus":
		return newDBusPlatform(opts)
	case "", "auto":
		if p, err := newDBusPlatform(opts); err == nil {
			return p, nil
		}
		return NewNull(opts.APILevel), nil
	default:
		return nil, fmt.Errorf("unknown platform backend %q", backend)
	}
}

// Null is a platform backend with no OS access. Every registry reports
// ErrUnavailable and no notifications are delivered.
type Null struct {
	api int
}

// NewNull creates a Null platform reporting the given API level.
func NewNull(api int) *Null {
	return &Null{api: api}
}

func (n *Null) APILevel() int { return n.api }

func (n *Null) Available() (bool, string) { return false, "no platform backend" }

func (n *Null) Accessibility() AccessibilityRegistry { return n }
func (n *Null) Admins() AdminRegistry                { return n }
func (n *Null) Settings() SettingsStore              { return n }
func (n *Null) Displays() DisplayService             { return n }
func (n *Null) Telephony() TelephonyService          { return n }
func (n *Null) Audio() AudioService                  { return n }
func (n *Null) Window() WindowHost                   { return n }

func (n *Null) EnabledServices() ([]string, error) { return nil, ErrUnavailable }
func (n *Null) ActiveAdmins() ([]string, error)    { return nil, ErrUnavailable }
func (n *Null) GlobalInt(string) (int, error)      { return 0, ErrUnavailable }

func (n *Null) Count() int { return 1 }
func (n *Null) Register(DisplayListener) (Registration, error) {
	return nil, ErrUnavailable
}

func (n *Null) State() CallState { return CallUnknown }
func (n *Null) RegisterCallback(func(CallState)) (Registration, error) {
	return nil, ErrUnavailable
}
func (n *Null) RegisterListener(func(CallState)) (Registration, error) {
	return nil, ErrUnavailable
}

func (n *Null) ActiveRecordings() int { return 0 }
func (n *Null) RegisterRecordingCallback(func(int)) (Registration, error) {
	return nil, ErrUnavailable
}
func (n *Null) RegisterRecordingListener(func(int)) (Registration, error) {
	return nil, ErrUnavailable
}

func (n *Null) WrapInput(func(next InputHandler) InputHandler) (Registration, error) {
	return nil, ErrNoForegroundWindow
}
func (n *Null) SetHideOverlayWindows(bool) error   { return ErrNoForegroundWindow }
func (n *Null) SetBlockObscuredTouches(bool) error { return ErrNoForegroundWindow }
