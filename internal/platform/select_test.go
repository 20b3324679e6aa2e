package platform

import (
	"errors"
	"testing"
)

func TestSelectMemory(t *testing.T) {
	p, err := Select("memory", Options{APILevel: 31})
	if err != nil {
		t.Fatalf("Select(memory): %v", err)
	}
	if _, ok := p.(*Memory); !ok {
		t.Fatalf("Select(memory) = %T, want *Memory", p)
	}
	if p.APILevel() != 31 {
		t.Errorf("APILevel() = %d, want 31", p.APILevel())
	}
}

func TestSelectNull(t *testing.T) {
	p, err := Select("null", Options{APILevel: 28})
	if err != nil {
		t.Fatalf("Select(null): %v", err)
	}
	if ok, _ := p.Available(); ok {
		t.Error("null platform reports available")
	}

	if _, err := p.Accessibility().EnabledServices(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("EnabledServices() err = %v, want ErrUnavailable", err)
	}
	if _, err := p.Telephony().RegisterCallback(func(CallState) {}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("RegisterCallback() err = %v, want ErrUnavailable", err)
	}
	if err := p.Window().SetHideOverlayWindows(true); !errors.Is(err, ErrNoForegroundWindow) {
		t.Errorf("SetHideOverlayWindows() err = %v, want ErrNoForegroundWindow", err)
	}
}

func TestSelectUnknownBackend(t *testing.T) {
	if _, err := Select("cloud", Options{}); err == nil {
		t.Fatal("Select(cloud) succeeded, want error")
	}
}
