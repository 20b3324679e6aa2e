package audit

import (
	"errors"
	"testing"

	"sentryd/internal/platform"
)

// DefaultAllowlist mirrors the assistive-technology services shipped in
// the default configuration.
var defaultAllowlist = []string{
	"com.android.talkback/.TalkBackService",
	"com.google.android.marvin.talkback/com.google.android.marvin.talkback.TalkBackService",
	"com.google.android.accessibility.selecttospeak/.SelectToSpeakService",
	"com.samsung.accessibility/.universalswitch.UniversalSwitchService",
}

func TestActiveServicesOrder(t *testing.T) {
	p := platform.NewMemory(33)
	p.SetEnabledServices("com.b/.Svc", "com.a/.Svc")

	e := New(p.Accessibility())
	got, err := e.ActiveServices()
	if err != nil {
		t.Fatalf("ActiveServices: %v", err)
	}
	if len(got) != 2 || got[0] != "com.b/.Svc" || got[1] != "com.a/.Svc" {
		t.Errorf("expected registry order preserved, got %v", got)
	}
}

func TestActiveServicesUnavailable(t *testing.T) {
	p := platform.NewMemory(33)
	p.FailAccessibility(platform.ErrUnavailable)

	e := New(p.Accessibility())
	if _, err := e.ActiveServices(); !errors.Is(err, platform.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestAllAllowed(t *testing.T) {
	tests := []struct {
		name     string
		active   []string
		patterns []string
		want     bool
	}{
		{
			name:     "no active services is vacuously allowed",
			active:   nil,
			patterns: []string{"anything"},
			want:     true,
		},
		{
			name:     "talkback against default allowlist",
			active:   []string{"com.android.talkback/.TalkBackService"},
			patterns: defaultAllowlist,
			want:     true,
		},
		{
			name:     "unknown service fails the allow check",
			active:   []string{"com.android.talkback/.TalkBackService", "com.shady/.Svc"},
			patterns: defaultAllowlist,
			want:     false,
		},
		{
			name:     "wildcards are not expanded for the allowlist",
			active:   []string{"com.android.talkback/.TalkBackService"},
			patterns: []string{"com.android.talkback.*"},
			want:     false,
		},
		{
			name:     "empty patterns with active services",
			active:   []string{"com.a/.B"},
			patterns: nil,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := platform.NewMemory(33)
			p.SetEnabledServices(tt.active...)
			got, err := New(p.Accessibility()).AllAllowed(tt.patterns)
			if err != nil {
				t.Fatalf("AllAllowed: %v", err)
			}
			if got != tt.want {
				t.Errorf("AllAllowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnyDenied(t *testing.T) {
	tests := []struct {
		name     string
		active   []string
		patterns []string
		want     bool
	}{
		{
			name:     "wildcard matches overlay package",
			active:   []string{"com.fakebank.overlay/.OverlayService"},
			patterns: []string{"com.fakebank.*"},
			want:     true,
		},
		{
			name:     "exact entry fires when wildcard does not",
			active:   []string{"com.good/.Svc"},
			patterns: []string{"com.malware.*", "com.good"},
			want:     true,
		},
		{
			name:     "deny check uses the package portion only",
			active:   []string{"com.malware.rat/.RemoteService"},
			patterns: []string{"com.malware.rat"},
			want:     true,
		},
		{
			name:     "clean device",
			active:   []string{"com.android.talkback/.TalkBackService"},
			patterns: []string{"com.malware.*"},
			want:     false,
		},
		{
			name:     "no active services",
			active:   nil,
			patterns: []string{"com.malware.*"},
			want:     false,
		},
		{
			name:     "empty pattern never matches a non-empty package",
			active:   []string{"com.app/.Svc"},
			patterns: []string{""},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := platform.NewMemory(33)
			p.SetEnabledServices(tt.active...)
			got, err := New(p.Accessibility()).AnyDenied(tt.patterns)
			if err != nil {
				t.Fatalf("AnyDenied: %v", err)
			}
			if got != tt.want {
				t.Errorf("AnyDenied = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPackageName(t *testing.T) {
	if got := PackageName("com.a/.B"); got != "com.a" {
		t.Errorf("PackageName = %q, want %q", got, "com.a")
	}
	if got := PackageName("com.bare"); got != "com.bare" {
		t.Errorf("PackageName = %q, want %q", got, "com.bare")
	}
}
