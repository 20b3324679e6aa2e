//go:build !linux

package ipc

import "net"

// peerIsSameUser is a no-op where SO_PEERCRED is unavailable; the
// socket file mode is the access control.
func peerIsSameUser(conn net.Conn) (bool, error) {
	return true, nil
}
