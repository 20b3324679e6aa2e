//go:build !linux

package platform

import "fmt"

// The D-Bus host adapter is Linux-only.
func newDBusPlatform(Options) (Platform, error) {
	return nil, fmt.Errorf("dbus platform backend: %w", ErrUnavailable)
}
