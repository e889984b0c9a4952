//go:build linux

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// Remap adjusts the size of an existing mapping, letting the kernel move it.
func Remap(file *os.File, newLength uint64, olddat []byte) (dat []byte, err error) {
	if len(olddat) == 0 {
		return MMap(file, newLength)
	}
	if newLength == 0 {
		return nil, MUnmap(file, olddat)
	}
	return unix.Mremap(olddat, int(newLength), unix.MREMAP_MAYMOVE)
}
