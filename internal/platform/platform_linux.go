//go:build linux

package platform

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// dbusPlatform is a best-effort host adapter for Linux-mobile-style
// systems. Accessibility clients come from the session bus, call state
// from oFono on the system bus, display topology from DRM connector
// status with compositor change signals, microphone activity from ALSA
// stream status, and settings from a key/value file.
//
// Partial availability is normal: a missing bus or service degrades the
// affected registry to ErrUnavailable without failing the others.
type dbusPlatform struct {
	api          int
	settingsPath string

	system  *dbus.Conn
	session *dbus.Conn

	limitations []string
}

func newDBusPlatform(opts Options) (Platform, error) {
	p := &dbusPlatform{
		api:          opts.APILevel,
		settingsPath: opts.SettingsPath,
	}

	var err error
	p.system, err = dbus.ConnectSystemBus()
	if err != nil {
		p.system = nil
		p.limitations = append(p.limitations, "system bus: "+err.Error())
	}
	p.session, err = dbus.ConnectSessionBus()
	if err != nil {
		p.session = nil
		p.limitations = append(p.limitations, "session bus: "+err.Error())
	}

	if p.system == nil && p.session == nil {
		return nil, fmt.Errorf("connect dbus: no bus reachable")
	}
	return p, nil
}

func (p *dbusPlatform) APILevel() int { return p.api }

func (p *dbusPlatform) Available() (bool, string) {
	if len(p.limitations) == 0 {
		return true, "dbus host adapter"
	}
	return true, "dbus host adapter (degraded: " + strings.Join(p.limitations, "; ") + ")"
}

func (p *dbusPlatform) Accessibility() AccessibilityRegistry { return p }
func (p *dbusPlatform) Admins() AdminRegistry                { return p }
func (p *dbusPlatform) Settings() SettingsStore              { return p }
func (p *dbusPlatform) Displays() DisplayService             { return p }
func (p *dbusPlatform) Telephony() TelephonyService          { return p }
func (p *dbusPlatform) Audio() AudioService                  { return p }
func (p *dbusPlatform) Window() WindowHost                   { return p }

// EnabledServices lists assistive-technology clients on the session
// bus: well-known names under the a11y namespace plus the screen
// reader's own name.
func (p *dbusPlatform) EnabledServices() ([]string, error) {
	if p.session == nil {
		return nil, fmt.Errorf("list accessibility clients: %w", ErrUnavailable)
	}

	var names []string
	obj := p.session.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
	if err := obj.Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("list accessibility clients: %w", ErrUnavailable)
	}

	var services []string
	for _, name := range names {
		if strings.HasPrefix(name, ":") {
			continue
		}
		if strings.HasPrefix(name, "org.a11y.") || strings.HasPrefix(name, "org.gnome.Orca") {
			services = append(services, name)
		}
	}
	return services, nil
}

// ActiveAdmins has no host analogue; there is no device-administrator
// registry on these systems.
func (p *dbusPlatform) ActiveAdmins() ([]string, error) {
	return nil, fmt.Errorf("enumerate device admins: %w", ErrUnavailable)
}

// GlobalInt reads one integer flag from the key/value settings file.
func (p *dbusPlatform) GlobalInt(key string) (int, error) {
	if p.settingsPath == "" {
		return 0, fmt.Errorf("read setting %q: %w", key, ErrUnavailable)
	}
	f, err := os.Open(p.settingsPath)
	if err != nil {
		return 0, fmt.Errorf("read setting %q: %w", key, ErrUnavailable)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("setting %q: malformed value %q", key, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("setting %q not present", key)
}

// Count reads connected DRM connectors from sysfs. The compositor's
// change signal only triggers re-evaluation; the connector status files
// are the source of truth.
func (p *dbusPlatform) Count() int {
	matches, err := filepath.Glob("/sys/class/drm/card*-*/status")
	if err != nil {
		return 1
	}
	count := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err == nil && strings.TrimSpace(string(data)) == "connected" {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}

// Register watches the compositor's display-config service for monitor
// changes and diffs the connector count on each signal.
func (p *dbusPlatform) Register(l DisplayListener) (Registration, error) {
	if p.session == nil {
		return nil, fmt.Errorf("register display listener: %w", ErrUnavailable)
	}

	match := []dbus.MatchOption{
		dbus.WithMatchInterface("org.gnome.Mutter.DisplayConfig"),
		dbus.WithMatchMember("MonitorsChanged"),
	}
	if err := p.session.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("register display listener: %w", ErrUnavailable)
	}

	signals := make(chan *dbus.Signal, 16)
	p.session.Signal(signals)

	done := make(chan struct{})
	go func() {
		last := p.Count()
		for {
			select {
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig == nil || !strings.HasSuffix(sig.Name, "MonitorsChanged") {
					continue
				}
				now := p.Count()
				for last < now {
					last++
					l.DisplayAdded(last)
				}
				for last > now {
					l.DisplayRemoved(last)
					last--
				}
			case <-done:
				return
			}
		}
	}()

	return RegistrationFunc(func() {
		close(done)
		p.session.RemoveMatchSignal(match...)
		p.session.RemoveSignal(signals)
	}), nil
}

// State queries oFono for the aggregate call state across modems.
func (p *dbusPlatform) State() CallState {
	if p.system == nil {
		return CallUnknown
	}

	var modems []struct {
		Path  dbus.ObjectPath
		Props map[string]dbus.Variant
	}
	obj := p.system.Object("org.ofono", "/")
	if err := obj.Call("org.ofono.Manager.GetModems", 0).Store(&modems); err != nil {
		return CallUnknown
	}

	state := CallIdle
	for _, modem := range modems {
		var calls []struct {
			Path  dbus.ObjectPath
			Props map[string]dbus.Variant
		}
		vcm := p.system.Object("org.ofono", modem.Path)
		if err := vcm.Call("org.ofono.VoiceCallManager.GetCalls", 0).Store(&calls); err != nil {
			continue
		}
		for _, call := range calls {
			s, _ := call.Props["State"].Value().(string)
			switch s {
			case "incoming", "waiting":
				return CallRinging
			case "active", "alerting", "dialing", "held":
				state = CallActive
			}
		}
	}
	return state
}

// RegisterCallback subscribes to oFono voice-call signals and re-reads
// the aggregate state on each one.
func (p *dbusPlatform) RegisterCallback(fn func(CallState)) (Registration, error) {
	if p.system == nil {
		return nil, fmt.Errorf("register call callback: %w", ErrUnavailable)
	}

	match := []dbus.MatchOption{
		dbus.WithMatchInterface("org.ofono.VoiceCallManager"),
	}
	if err := p.system.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("register call callback: %w", ErrUnavailable)
	}

	signals := make(chan *dbus.Signal, 16)
	p.system.Signal(signals)

	done := make(chan struct{})
	go func() {
		last := p.State()
		for {
			select {
			case _, ok := <-signals:
				if !ok {
					return
				}
				if now := p.State(); now != last {
					last = now
					fn(now)
				}
			case <-done:
				return
			}
		}
	}()

	return RegistrationFunc(func() {
		close(done)
		p.system.RemoveMatchSignal(match...)
		p.system.RemoveSignal(signals)
	}), nil
}

// RegisterListener is the legacy generation: oFono is polled instead of
// signal-driven.
func (p *dbusPlatform) RegisterListener(fn func(CallState)) (Registration, error) {
	if p.system == nil {
		return nil, fmt.Errorf("register call listener: %w", ErrUnavailable)
	}
	return startPoller(2*time.Second, p.State, fn), nil
}

// ActiveRecordings counts ALSA capture substreams in the RUNNING state.
func (p *dbusPlatform) ActiveRecordings() int {
	matches, err := filepath.Glob("/proc/asound/card*/pcm*c/sub*/status")
	if err != nil {
		return 0
	}
	active := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(data), "state: RUNNING") {
			active++
		}
	}
	return active
}

func (p *dbusPlatform) RegisterRecordingCallback(fn func(int)) (Registration, error) {
	return startPoller(time.Second, p.ActiveRecordings, fn), nil
}

func (p *dbusPlatform) RegisterRecordingListener(fn func(int)) (Registration, error) {
	return startPoller(2*time.Second, p.ActiveRecordings, fn), nil
}

// The daemon owns no foreground window; the window surface belongs to
// the process embedding the monitor.
func (p *dbusPlatform) WrapInput(func(next InputHandler) InputHandler) (Registration, error) {
	return nil, ErrNoForegroundWindow
}

func (p *dbusPlatform) SetHideOverlayWindows(bool) error {
	return ErrNoForegroundWindow
}

func (p *dbusPlatform) SetBlockObscuredTouches(bool) error {
	return ErrNoForegroundWindow
}

// startPoller invokes fn whenever read's value changes, on a fixed
// interval, until the registration is dropped.
func startPoller[T comparable](interval time.Duration, read func() T, fn func(T)) Registration {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := read()
		for {
			select {
			case <-ticker.C:
				if now := read(); now != last {
					last = now
					fn(now)
				}
			case <-done:
				return
			}
		}
	}()

	return RegistrationFunc(func() {
		once.Do(func() { close(done) })
	})
}
