//go:build darwin

package reactor

import "syscall"

// setSocketBuffers tunes SO_RCVBUF/SO_SNDBUF on the raw file descriptor,
// generalizing the teacher's single-option macOS tuning (setReceiveBuffer
// in internal/redisx/socket_darwin.go) to both buffers for the dedicated
// secondary listener's larger buffer requirement (§6).
func setSocketBuffers(fd int, rcvBuf, sndBuf int) error {
	if rcvBuf > 0 {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, rcvBuf); err != nil {
			return err
		}
	}
	if sndBuf > 0 {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sndBuf); err != nil {
			return err
		}
	}
	return nil
}
