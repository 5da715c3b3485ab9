//go:build linux

package reactor

import "golang.org/x/sys/unix"

// setSocketBuffers tunes SO_RCVBUF/SO_SNDBUF on the raw file descriptor, the
// Linux counterpart of socket_darwin.go's syscall-based tuning, using
// golang.org/x/sys/unix in place of the standard library's syscall package
// since unix.SetsockoptInt carries the SO_RCVBUF/SO_SNDBUF constants this
// platform needs without pulling in cgo.
func setSocketBuffers(fd int, rcvBuf, sndBuf int) error {
	if rcvBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBuf); err != nil {
			return err
		}
	}
	if sndBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sndBuf); err != nil {
			return err
		}
	}
	return nil
}
