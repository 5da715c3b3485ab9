//go:build !linux && !darwin

package reactor

// setSocketBuffers is a no-op on platforms without a dedicated tuning path;
// the listener still works, just without the enlarged XDR buffers (§6).
func setSocketBuffers(fd int, rcvBuf, sndBuf int) error {
	return nil
}
