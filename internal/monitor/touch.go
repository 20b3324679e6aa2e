package monitor

import (
	"sentryd/internal/platform"
)

// startTouch installs the input-dispatch decorator on the foreground
// window. The decorator always delegates to the wrapped handler and
// never alters the dispatch verdict; it only observes press-down events
// that carry an obscured flag. No initial snapshot exists for this
// kind.
func (m *Manager) startTouch(gen uint64) (func(), string, error) {
	// The partial flag does not exist on older generations; decide once
	// at registration time.
	partialFlag := platform.SupportsPartialObscured(m.p.APILevel())

	reg, err := m.p.Window().WrapInput(func(next platform.InputHandler) platform.InputHandler {
		return platform.InputHandlerFunc(func(ev platform.TouchEvent) bool {
			verdict := next.HandleTouch(ev)

			if ev.Action != platform.ActionDown {
				return verdict
			}
			switch {
			case ev.Flags&platform.FlagObscured != 0:
				m.post(TouchObscuring, gen, ObscuredTouchEvent{
					Partial:         false,
					TimestampMillis: ev.Time.UnixMilli(),
				})
			case partialFlag && ev.Flags&platform.FlagPartiallyObscured != 0:
				m.post(TouchObscuring, gen, ObscuredTouchEvent{
					Partial:         true,
					TimestampMillis: ev.Time.UnixMilli(),
				})
			}
			return verdict
		})
	})
	if err != nil {
		return nil, "input-decorator", err
	}
	return reg.Unregister, "input-decorator", nil
}
