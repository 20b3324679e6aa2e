package monitor

import (
	"fmt"

	"sentryd/internal/platform"
)

// displayListener forwards display attach/detach notifications into the
// manager. The count is read from the service at delivery time, not
// tracked locally, so a burst of changes converges on the real value.
type displayListener struct {
	m   *Manager
	gen uint64
	svc platform.DisplayService
}

func (l *displayListener) DisplayAdded(id int) {
	count := l.svc.Count()
	l.m.post(DisplayCount, l.gen, DisplayEvent{
		Action:       DisplayAdded,
		DisplayCount: count,
		Message:      fmt.Sprintf("display %d added, %d attached", id, count),
	})
}

func (l *displayListener) DisplayRemoved(id int) {
	count := l.svc.Count()
	l.m.post(DisplayCount, l.gen, DisplayEvent{
		Action:       DisplayRemoved,
		DisplayCount: count,
		Message:      fmt.Sprintf("display %d removed, %d attached", id, count),
	})
}

// startDisplay registers the display listener. The initial snapshot is
// only emitted when more than one display is already attached; a single
// display is the unremarkable baseline.
func (m *Manager) startDisplay(gen uint64) (func(), string, error) {
	svc := m.p.Displays()
	count := svc.Count()

	reg, err := svc.Register(&displayListener{m: m, gen: gen, svc: svc})
	if err != nil {
		return nil, "display-listener", err
	}

	if count > 1 {
		m.emit(&m.states[DisplayCount], DisplayCount, DisplayEvent{
			Action:       DisplayInitial,
			DisplayCount: count,
			Message:      fmt.Sprintf("%d displays attached", count),
		})
	}
	return reg.Unregister, "display-listener", nil
}
