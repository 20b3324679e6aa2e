//go:build linux

package ipc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// peerIsSameUser reports whether the connecting process runs as the
// same user as the daemon, via SO_PEERCRED.
func peerIsSameUser(conn net.Conn) (bool, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return false, fmt.Errorf("not a unix connection")
	}

	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("get raw conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = rawConn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return false, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return false, fmt.Errorf("getsockopt: %w", credErr)
	}

	return int(cred.Uid) == os.Getuid(), nil
}
