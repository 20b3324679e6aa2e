// Package overlay controls the overlay-related attributes of the
// foreground window: hiding non-system overlay windows and filtering
// obscured touch delivery.
//
// Both setters are idempotent pass-throughs; the OS retains the latest
// value. Calls on platform generations without the attribute, or with
// no foreground window bound, are silent no-ops rather than errors so
// callers need no per-version conditionals.
package overlay

import (
	"errors"

	"sentryd/internal/platform"
)

// Controller applies overlay window attributes.
type Controller struct {
	p platform.Platform
}

// New creates a Controller over the given platform.
func New(p platform.Platform) *Controller {
	return &Controller{p: p}
}

// SetHideOverlayWindows toggles window-level overlay hiding. A no-op on
// API levels that predate the attribute.
func (c *Controller) SetHideOverlayWindows(hide bool) error {
	if !platform.SupportsHideOverlays(c.p.APILevel()) {
		return nil
	}
	err := c.p.Window().SetHideOverlayWindows(hide)
	if errors.Is(err, platform.ErrNoForegroundWindow) {
		return nil
	}
	return err
}

// SetBlockObscuredTouches toggles obscured-touch filtering on the
// foreground window's root view. A no-op when no foreground window is
// bound; overlay state is meaningless without one.
func (c *Controller) SetBlockObscuredTouches(block bool) error {
	err := c.p.Window().SetBlockObscuredTouches(block)
	if errors.Is(err, platform.ErrNoForegroundWindow) {
		return nil
	}
	return err
}
