package platform

// Platform generations at which version-gated features appeared. The
// monitor consults these gates once, at registration time, and records
// the outcome so teardown never re-decides the branch.
const (
	// levelRecordingCallback introduced the recording-configuration
	// callback on the audio service.
	levelRecordingCallback = 24

	// levelPartialObscured introduced the partially-obscured touch flag.
	levelPartialObscured = 29

	// levelWirelessDebug introduced the wireless debug bridge setting.
	levelWirelessDebug = 30

	// levelTelephonyCallback replaced the legacy phone-state listener
	// with the executor-based telephony callback.
	levelTelephonyCallback = 31

	// levelHideOverlays introduced window-level overlay hiding.
	levelHideOverlays = 31
)

// SupportsWirelessDebug reports whether the wireless debug bridge
// setting exists on the given API level.
func SupportsWirelessDebug(api int) bool { return api >= levelWirelessDebug }

// SupportsPartialObscured reports whether the partially-obscured touch
// flag is defined on the given API level.
func SupportsPartialObscured(api int) bool { return api >= levelPartialObscured }

// SupportsHideOverlays reports whether window-level overlay hiding is
// available on the given API level.
func SupportsHideOverlays(api int) bool { return api >= levelHideOverlays }

// SupportsTelephonyCallback reports whether the modern telephony
// callback registration is available on the given API level.
func SupportsTelephonyCallback(api int) bool { return api >= levelTelephonyCallback }

// SupportsRecordingCallback reports whether the modern recording
// configuration callback is available on the given API level.
func SupportsRecordingCallback(api int) bool { return api >= levelRecordingCallback }
