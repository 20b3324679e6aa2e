package monitor

import (
	"testing"
	"time"

	"sentryd/internal/platform"
)

func newManager(t *testing.T, p platform.Platform) *Manager {
	t.Helper()
	m := New(Config{Platform: p})
	t.Cleanup(m.Close)
	return m
}

// flushOps flushes the manager's op queue so every event posted before the
// call has been delivered or discarded.
func flushOps(m *Manager, kind Kind) {
	m.Active(kind)
}

// recv returns the next buffered event, or fails the test.
func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed while an event was expected")
		}
		return ev
	default:
		t.Fatal("no event buffered")
	}
	return nil
}

// expectNone fails the test if an event is buffered.
func expectNone(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %#v", ev)
		}
	default:
	}
}

func TestTouchObscuredPressEmitted(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)

	ch, err := m.Subscribe(TouchObscuring)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if p.InputWrapped() != 1 {
		t.Fatalf("InputWrapped = %d, want 1", p.InputWrapped())
	}

	now := time.Now()
	p.DispatchTouch(platform.TouchEvent{
		Action: platform.ActionDown,
		Flags:  platform.FlagObscured,
		Time:   now,
	})
	flushOps(m, TouchObscuring)

	ev := recv(t, ch).(ObscuredTouchEvent)
	if ev.Partial {
		t.Error("fully-obscured press reported as partial")
	}
	if ev.TimestampMillis != now.UnixMilli() {
		t.Errorf("TimestampMillis = %d, want %d", ev.TimestampMillis, now.UnixMilli())
	}
}

func TestTouchOnlyPressDownWithFlag(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)

	ch, err := m.Subscribe(TouchObscuring)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Unflagged press, flagged move, flagged release: none qualify.
	p.DispatchTouch(platform.TouchEvent{Action: platform.ActionDown})
	p.DispatchTouch(platform.TouchEvent{Action: platform.ActionMove, Flags: platform.FlagObscured})
	p.DispatchTouch(platform.TouchEvent{Action: platform.ActionUp, Flags: platform.FlagObscured})
	flushOps(m, TouchObscuring)
	expectNone(t, ch)
}

func TestTouchPartialFlagGatedByLevel(t *testing.T) {
	press := platform.TouchEvent{
		Action: platform.ActionDown,
		Flags:  platform.FlagPartiallyObscured,
	}

	t.Run("supported level", func(t *testing.T) {
		p := platform.NewMemory(29)
		m := newManager(t, p)
		ch, _ := m.Subscribe(TouchObscuring)

		p.DispatchTouch(press)
		flushOps(m, TouchObscuring)
		ev := recv(t, ch).(ObscuredTouchEvent)
		if !ev.Partial {
			t.Error("partially-obscured press not reported as partial")
		}
	})

	t.Run("old level", func(t *testing.T) {
		p := platform.NewMemory(28)
		m := newManager(t, p)
		ch, _ := m.Subscribe(TouchObscuring)

		p.DispatchTouch(press)
		flushOps(m, TouchObscuring)
		expectNone(t, ch)
	})
}

func TestTouchDecoratorPreservesVerdict(t *testing.T) {
	p := platform.NewMemory(33)
	delegated := 0
	p.SetInputHandler(platform.InputHandlerFunc(func(platform.TouchEvent) bool {
		delegated++
		return false
	}))
	m := newManager(t, p)
	if _, err := m.Subscribe(TouchObscuring); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got := p.DispatchTouch(platform.TouchEvent{
		Action: platform.ActionDown,
		Flags:  platform.FlagObscured,
	})
	if got {
		t.Error("decorator altered the dispatch verdict")
	}
	if delegated != 1 {
		t.Errorf("delegate called %d times, want 1", delegated)
	}
}

func TestTouchRegistrationFailure(t *testing.T) {
	p := platform.NewMemory(33)
	p.SetForeground(false)
	m := newManager(t, p)

	ch, err := m.Subscribe(TouchObscuring)
	if err != nil {
		t.Fatalf("registration failure must not surface an error, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("stream after a failed registration must be closed")
	}
	if m.Active(TouchObscuring) {
		t.Error("kind must stay inactive after a failed registration")
	}
}

func TestDisplayInitialOnlyWhenMultiple(t *testing.T) {
	t.Run("single display", func(t *testing.T) {
		p := platform.NewMemory(33)
		m := newManager(t, p)
		ch, _ := m.Subscribe(DisplayCount)
		expectNone(t, ch)
	})

	t.Run("two displays", func(t *testing.T) {
		p := platform.NewMemory(33)
		p.AddDisplay(1)
		m := newManager(t, p)
		ch, _ := m.Subscribe(DisplayCount)

		ev := recv(t, ch).(DisplayEvent)
		if ev.Action != DisplayInitial {
			t.Errorf("Action = %q, want %q", ev.Action, DisplayInitial)
		}
		if ev.DisplayCount != 2 {
			t.Errorf("DisplayCount = %d, want 2", ev.DisplayCount)
		}
	})
}

func TestDisplayAddRemove(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)
	ch, _ := m.Subscribe(DisplayCount)

	p.AddDisplay(1)
	p.RemoveDisplay(1)
	flushOps(m, DisplayCount)

	added := recv(t, ch).(DisplayEvent)
	if added.Action != DisplayAdded || added.DisplayCount != 2 {
		t.Errorf("got %+v, want added with 2 displays", added)
	}
	removed := recv(t, ch).(DisplayEvent)
	if removed.Action != DisplayRemoved || removed.DisplayCount != 1 {
		t.Errorf("got %+v, want removed with 1 display", removed)
	}
}

func TestCallInitialStateAlwaysEmitted(t *testing.T) {
	p := platform.NewMemory(33)
	p.SetCallState(platform.CallRinging)
	m := newManager(t, p)

	ch, _ := m.Subscribe(CallState)
	ev := recv(t, ch).(CallEvent)
	if ev.Type != CallInitialState {
		t.Errorf("Type = %q, want %q", ev.Type, CallInitialState)
	}
	if ev.State != platform.CallRinging {
		t.Errorf("State = %v, want ringing", ev.State)
	}
}

func TestCallStateTransitions(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)
	ch, _ := m.Subscribe(CallState)
	recv(t, ch) // initial snapshot

	p.SetCallState(platform.CallActive)
	flushOps(m, CallState)
	ev := recv(t, ch).(CallEvent)
	if ev.Type != CallStateChange || ev.State != platform.CallActive {
		t.Errorf("got %+v, want state_change to active", ev)
	}
}

func TestCallStrategySelection(t *testing.T) {
	t.Run("modern callback", func(t *testing.T) {
		p := platform.NewMemory(31)
		m := newManager(t, p)
		m.Subscribe(CallState)
		if p.TelephonyCallbackRegistrations() != 1 || p.TelephonyListenerRegistrations() != 0 {
			t.Errorf("cb=%d lsn=%d, want the callback path",
				p.TelephonyCallbackRegistrations(), p.TelephonyListenerRegistrations())
		}
	})

	t.Run("legacy listener", func(t *testing.T) {
		p := platform.NewMemory(30)
		m := newManager(t, p)
		m.Subscribe(CallState)
		if p.TelephonyCallbackRegistrations() != 0 || p.TelephonyListenerRegistrations() != 1 {
			t.Errorf("cb=%d lsn=%d, want the listener path",
				p.TelephonyCallbackRegistrations(), p.TelephonyListenerRegistrations())
		}
	})
}

func TestCallTeardownMatchesStrategy(t *testing.T) {
	p := platform.NewMemory(30)
	m := newManager(t, p)
	m.Subscribe(CallState)
	m.Unsubscribe(CallState)
	if n := p.TelephonyListenerRegistrations(); n != 0 {
		t.Errorf("legacy registrations after unsubscribe = %d, want 0", n)
	}
}

func TestMicrophoneInitialAndTransitions(t *testing.T) {
	p := platform.NewMemory(33)
	p.SetActiveRecordings(2)
	m := newManager(t, p)

	ch, _ := m.Subscribe(MicrophoneActivity)
	if ev := recv(t, ch).(MicrophoneEvent); !ev.InUse {
		t.Error("initial event should report the microphone in use")
	}

	p.SetActiveRecordings(0)
	flushOps(m, MicrophoneActivity)
	if ev := recv(t, ch).(MicrophoneEvent); ev.InUse {
		t.Error("expected the release to be reported")
	}
}

func TestMicrophoneStrategySelection(t *testing.T) {
	t.Run("modern callback", func(t *testing.T) {
		p := platform.NewMemory(24)
		m := newManager(t, p)
		m.Subscribe(MicrophoneActivity)
		if p.RecordingCallbackRegistrations() != 1 || p.RecordingListenerRegistrations() != 0 {
			t.Errorf("cb=%d lsn=%d, want the callback path",
				p.RecordingCallbackRegistrations(), p.RecordingListenerRegistrations())
		}
	})

	t.Run("legacy poll", func(t *testing.T) {
		p := platform.NewMemory(23)
		m := newManager(t, p)
		m.Subscribe(MicrophoneActivity)
		if p.RecordingCallbackRegistrations() != 0 || p.RecordingListenerRegistrations() != 1 {
			t.Errorf("cb=%d lsn=%d, want the poll path",
				p.RecordingCallbackRegistrations(), p.RecordingListenerRegistrations())
		}
	})
}

func TestSubscribeIdempotent(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)

	ch1, _ := m.Subscribe(CallState)
	ch2, _ := m.Subscribe(CallState)

	if n := p.TelephonyCallbackRegistrations(); n != 1 {
		t.Fatalf("registrations after double subscribe = %d, want 1", n)
	}

	// The initial snapshot went to the first sink, which the second
	// subscribe then closed. The new sink gets no replay.
	if ev := recv(t, ch1).(CallEvent); ev.Type != CallInitialState {
		t.Errorf("first sink: got %+v, want the initial snapshot", ev)
	}
	if _, ok := <-ch1; ok {
		t.Error("first sink should be closed after replacement")
	}
	expectNone(t, ch2)

	// The replacement sink receives subsequent transitions.
	p.SetCallState(platform.CallRinging)
	flushOps(m, CallState)
	if ev := recv(t, ch2).(CallEvent); ev.Type != CallStateChange {
		t.Errorf("second sink: got %+v, want a state change", ev)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)

	ch, _ := m.Subscribe(MicrophoneActivity)
	recv(t, ch) // initial event
	m.Unsubscribe(MicrophoneActivity)

	if n := p.RecordingCallbackRegistrations(); n != 0 {
		t.Errorf("registrations after unsubscribe = %d, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Error("stream should be closed after unsubscribe")
	}

	// A late notification after teardown must go nowhere and not panic.
	p.SetActiveRecordings(3)
	flushOps(m, MicrophoneActivity)
	if m.Active(MicrophoneActivity) {
		t.Error("kind reactivated by a late notification")
	}
}

func TestUnsubscribeInactiveNoop(t *testing.T) {
	m := newManager(t, platform.NewMemory(33))
	m.Unsubscribe(DisplayCount)
	m.Unsubscribe(DisplayCount)
}

func TestStaleGenerationDiscarded(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)

	m.Subscribe(CallState)
	m.Unsubscribe(CallState)
	ch, _ := m.Subscribe(CallState)
	recv(t, ch) // initial snapshot of the second activation

	// Events keyed to the live generation still flow.
	p.SetCallState(platform.CallActive)
	flushOps(m, CallState)
	ev := recv(t, ch).(CallEvent)
	if ev.State != platform.CallActive {
		t.Errorf("State = %v, want active", ev.State)
	}
	if n := p.TelephonyCallbackRegistrations(); n != 1 {
		t.Errorf("registrations = %d, want exactly the second activation's", n)
	}
}

func TestActiveKinds(t *testing.T) {
	p := platform.NewMemory(33)
	m := newManager(t, p)

	if got := m.ActiveKinds(); len(got) != 0 {
		t.Fatalf("ActiveKinds on a fresh manager = %v", got)
	}
	m.Subscribe(CallState)
	m.Subscribe(DisplayCount)

	got := m.ActiveKinds()
	if len(got) != 2 || got[0] != DisplayCount || got[1] != CallState {
		t.Errorf("ActiveKinds = %v, want [display_count call_state]", got)
	}
}

func TestTapAndDropHooks(t *testing.T) {
	p := platform.NewMemory(33)
	var tapped []Event
	var drops []Kind
	m := New(Config{
		Platform: p,
		Buffer:   1,
		Tap:      func(ev Event) { tapped = append(tapped, ev) },
		OnDrop:   func(k Kind) { drops = append(drops, k) },
	})
	defer m.Close()

	m.Subscribe(MicrophoneActivity) // initial event fills the buffer
	p.SetActiveRecordings(1)
	p.SetActiveRecordings(0)
	flushOps(m, MicrophoneActivity)

	if len(tapped) != 3 {
		t.Errorf("tap saw %d events, want all 3 including dropped ones", len(tapped))
	}
	if len(drops) != 2 || drops[0] != MicrophoneActivity {
		t.Errorf("drops = %v, want two microphone drops", drops)
	}
}

func TestCloseTearsDownEverything(t *testing.T) {
	p := platform.NewMemory(33)
	m := New(Config{Platform: p})

	chs := make([]<-chan Event, 0, len(Kinds()))
	for _, k := range Kinds() {
		ch, err := m.Subscribe(k)
		if err != nil {
			t.Fatalf("Subscribe(%v): %v", k, err)
		}
		chs = append(chs, ch)
	}
	m.Close()
	m.Close() // idempotent

	if p.InputWrapped() != 0 || p.DisplayRegistrations() != 0 ||
		p.TelephonyCallbackRegistrations() != 0 || p.RecordingCallbackRegistrations() != 0 {
		t.Error("registrations left behind after Close")
	}
	for _, ch := range chs {
		for range ch {
		}
	}
	if _, err := m.Subscribe(CallState); err != ErrClosed {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("gyroscope"); err == nil {
		t.Error("expected an error for an unknown kind name")
	}
}
