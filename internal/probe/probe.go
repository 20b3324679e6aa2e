// Package probe provides stateless queries against the device
// configuration stores: active device administrators and developer
// mode.
package probe

import (
	"fmt"

	"sentryd/internal/platform"
)

// Probe answers one-shot device state queries.
type Probe struct {
	p platform.Platform
}

// New creates a Probe over the given platform.
func New(p platform.Platform) *Probe {
	return &Probe{p: p}
}

// DeviceAdminActive reports whether one or more device administrator
// components are active. A registry failure is surfaced; these are
// one-shot queries with no retry value.
func (pr *Probe) DeviceAdminActive() (bool, error) {
	admins, err := pr.p.Admins().ActiveAdmins()
	if err != nil {
		return false, fmt.Errorf("enumerate device admins: %w", err)
	}
	return len(admins) > 0, nil
}

// DeveloperModeEnabled reports whether any developer-access surface is
// enabled: the developer options flag, the USB debug bridge, or the
// wireless debug bridge on API levels that define it. A missing or
// unreadable setting reads as "not enabled"; absence of a key is a
// normal condition on many platform generations.
func (pr *Probe) DeveloperModeEnabled() bool {
	if pr.flagSet(platform.SettingDeveloperOptions) {
		return true
	}
	if pr.flagSet(platform.SettingADBEnabled) {
		return true
	}
	if platform.SupportsWirelessDebug(pr.p.APILevel()) && pr.flagSet(platform.SettingWirelessDebug) {
		return true
	}
	return false
}

func (pr *Probe) flagSet(key string) bool {
	v, err := pr.p.Settings().GlobalInt(key)
	return err == nil && v != 0
}
