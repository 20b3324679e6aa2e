package monitor

import (
	"sentryd/internal/platform"
)

// startMicrophone registers for recording-activity changes using
// whichever audio registration generation the platform supports, then
// emits whether anything is recording right now.
func (m *Manager) startMicrophone(gen uint64) (func(), string, error) {
	audio := m.p.Audio()
	initial := audio.ActiveRecordings()

	fn := func(active int) {
		m.post(MicrophoneActivity, gen, MicrophoneEvent{InUse: active > 0})
	}

	var (
		reg      platform.Registration
		strategy string
		err      error
	)
	if platform.SupportsRecordingCallback(m.p.APILevel()) {
		strategy = "recording-callback"
		reg, err = audio.RegisterRecordingCallback(fn)
	} else {
		strategy = "recording-poll"
		reg, err = audio.RegisterRecordingListener(fn)
	}
	if err != nil {
		return nil, strategy, err
	}

	m.emit(&m.states[MicrophoneActivity], MicrophoneActivity, MicrophoneEvent{
		InUse: initial > 0,
	})
	return reg.Unregister, strategy, nil
}
