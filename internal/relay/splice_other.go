//go:build !linux

package relay

// NativeSupported reports whether NewNativeCopier avoids user-space copies
// on this platform.
const NativeSupported = false

// NewNativeCopier returns the buffered copier where splice is unavailable.
func NewNativeCopier() Copier {
	return NewBufferedCopier()
}
