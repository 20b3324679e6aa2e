package probe

import (
	"errors"
	"testing"

	"sentryd/internal/platform"
)

func TestDeviceAdminActive(t *testing.T) {
	p := platform.NewMemory(33)
	pr := New(p)

	active, err := pr.DeviceAdminActive()
	if err != nil {
		t.Fatalf("DeviceAdminActive: %v", err)
	}
	if active {
		t.Error("expected no active admins on a fresh device")
	}

	p.SetActiveAdmins("com.corp.mdm/.AdminReceiver")
	active, err = pr.DeviceAdminActive()
	if err != nil {
		t.Fatalf("DeviceAdminActive: %v", err)
	}
	if !active {
		t.Error("expected active admin to be reported")
	}
}

func TestDeviceAdminUnavailable(t *testing.T) {
	p := platform.NewMemory(33)
	p.FailAdmins(platform.ErrUnavailable)

	if _, err := New(p).DeviceAdminActive(); !errors.Is(err, platform.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestDeveloperModeEnabled(t *testing.T) {
	tests := []struct {
		name  string
		api   int
		setup func(*platform.Memory)
		want  bool
	}{
		{
			name:  "all flags unset",
			api:   33,
			setup: func(m *platform.Memory) {},
			want:  false,
		},
		{
			name: "developer options flag",
			api:  33,
			setup: func(m *platform.Memory) {
				m.SetGlobalInt(platform.SettingDeveloperOptions, 1)
			},
			want: true,
		},
		{
			name: "usb debug bridge flag",
			api:  33,
			setup: func(m *platform.Memory) {
				m.SetGlobalInt(platform.SettingADBEnabled, 1)
			},
			want: true,
		},
		{
			name: "wireless debug flag on a supporting level",
			api:  31,
			setup: func(m *platform.Memory) {
				m.SetGlobalInt(platform.SettingWirelessDebug, 1)
			},
			want: true,
		},
		{
			name: "wireless debug flag ignored on an old level",
			api:  28,
			setup: func(m *platform.Memory) {
				m.SetGlobalInt(platform.SettingWirelessDebug, 1)
			},
			want: false,
		},
		{
			name: "explicit zero values stay disabled",
			api:  33,
			setup: func(m *platform.Memory) {
				m.SetGlobalInt(platform.SettingDeveloperOptions, 0)
				m.SetGlobalInt(platform.SettingADBEnabled, 0)
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := platform.NewMemory(tt.api)
			tt.setup(p)
			if got := New(p).DeveloperModeEnabled(); got != tt.want {
				t.Errorf("DeveloperModeEnabled = %v, want %v", got, tt.want)
			}
		})
	}
}
