package monitor

import (
	"fmt"

	"sentryd/internal/platform"
)

// Kind identifies one of the four observer kinds the manager owns.
type Kind int

const (
	// TouchObscuring observes press-down events flagged as obscured or
	// partially obscured by another window.
	TouchObscuring Kind = iota
	// DisplayCount observes display attach/detach transitions.
	DisplayCount
	// CallState observes telephony call-state transitions.
	CallState
	// MicrophoneActivity observes audio-recording activity.
	MicrophoneActivity

	numKinds
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case TouchObscuring:
		return "touch_obscuring"
	case DisplayCount:
		return "display_count"
	case CallState:
		return "call_state"
	case MicrophoneActivity:
		return "microphone_activity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds returns all observer kinds in declaration order.
func Kinds() []Kind {
	return []Kind{TouchObscuring, DisplayCount, CallState, MicrophoneActivity}
}

// ParseKind parses a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Event is one observation emitted on a kind's stream. Events are
// values; nothing mutable is shared past emission.
type Event interface {
	EventKind() Kind
}

// ObscuredTouchEvent reports a press-down input event that carried an
// obscured-window flag.
type ObscuredTouchEvent struct {
	// Partial is true when the partially-obscured flag fired rather
	// than the fully-obscured flag.
	Partial bool `json:"partial"`

	// TimestampMillis is the input event time in Unix milliseconds.
	TimestampMillis int64 `json:"timestamp_millis"`
}

// EventKind implements Event.
func (ObscuredTouchEvent) EventKind() Kind { return TouchObscuring }

// DisplayAction classifies a display-count event.
type DisplayAction string

const (
	// DisplayInitial reports the display count at subscribe time; only
	// emitted when more than one display is already attached.
	DisplayInitial DisplayAction = "initial"
	// DisplayAdded reports a display attach.
	DisplayAdded DisplayAction = "added"
	// DisplayRemoved reports a display detach.
	DisplayRemoved DisplayAction = "removed"
)

// DisplayEvent reports a display topology change.
type DisplayEvent struct {
	Action DisplayAction `json:"action"`

	// DisplayCount is the number of attached displays after the change.
	DisplayCount int `json:"display_count"`

	Message string `json:"message"`
}

// EventKind implements Event.
func (DisplayEvent) EventKind() Kind { return DisplayCount }

// CallEventType distinguishes the subscribe-time snapshot from a
// subsequent transition.
type CallEventType string

const (
	// CallInitialState is the call state reported at subscribe time.
	CallInitialState CallEventType = "initial_state"
	// CallStateChange is a call-state transition.
	CallStateChange CallEventType = "state_change"
)

// CallEvent reports the telephony call state.
type CallEvent struct {
	Type  CallEventType      `json:"event"`
	State platform.CallState `json:"state"`
}

// EventKind implements Event.
func (CallEvent) EventKind() Kind { return CallState }

// MicrophoneEvent reports whether any audio recording is active.
type MicrophoneEvent struct {
	InUse bool `json:"in_use"`
}

// EventKind implements Event.
func (MicrophoneEvent) EventKind() Kind { return MicrophoneActivity }
