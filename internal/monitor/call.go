package monitor

import (
	"sentryd/internal/platform"
)

// startCall registers for call-state transitions using whichever
// telephony registration generation the platform supports, then emits
// the current state as an initial snapshot. The snapshot is always
// emitted for this kind.
func (m *Manager) startCall(gen uint64) (func(), string, error) {
	tel := m.p.Telephony()
	initial := tel.State()

	fn := func(s platform.CallState) {
		m.post(CallState, gen, CallEvent{Type: CallStateChange, State: s})
	}

	var (
		reg      platform.Registration
		strategy string
		err      error
	)
	if platform.SupportsTelephonyCallback(m.p.APILevel()) {
		strategy = "telephony-callback"
		reg, err = tel.RegisterCallback(fn)
	} else {
		strategy = "phone-state-listener"
		reg, err = tel.RegisterListener(fn)
	}
	if err != nil {
		return nil, strategy, err
	}

	m.emit(&m.states[CallState], CallState, CallEvent{
		Type:  CallInitialState,
		State: initial,
	})
	return reg.Unregister, strategy, nil
}
