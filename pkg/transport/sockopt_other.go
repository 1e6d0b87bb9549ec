//go:build !unix

package transport

import "fmt"

func setReceiveBuffer(fd uintptr, size int) error {
	return fmt.Errorf("receive buffer size: %w", ErrUnsupportedNetwork)
}
