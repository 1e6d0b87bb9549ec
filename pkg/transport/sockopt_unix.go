//go:build unix

package transport

import (
	"golang.org/x/sys/unix"
)

func setReceiveBuffer(fd uintptr, size int) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
}
