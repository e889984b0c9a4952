//go:build unix

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// MMap maps the first length bytes of file as a shared read-write region.
func MMap(file *os.File, length uint64) (dat []byte, err error) {
	if length == 0 {
		return nil, nil
	}
	return unix.Mmap(int(file.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func MUnmap(file *os.File, dat []byte) (err error) {
	if len(dat) == 0 {
		return nil
	}
	return unix.Munmap(dat)
}

// Resize changes the file length and returns a mapping covering the new length.
// The file is resized before the mapping is replaced; on failure the old mapping
// is returned unchanged and the file keeps its old length.
func Resize(file *os.File, olddat []byte, newLength uint64) (dat []byte, err error) {
	err = file.Truncate(int64(newLength))
	if err != nil {
		return olddat, err
	}
	dat, err = Remap(file, newLength, olddat)
	if err != nil {
		_ = file.Truncate(int64(len(olddat)))
		return olddat, err
	}
	return dat, nil
}

// Sync flushes dirty pages of the mapping to the backing file.
func Sync(dat []byte) error {
	if len(dat) == 0 {
		return nil
	}
	return unix.Msync(dat, unix.MS_SYNC)
}

func GetSysPageSize() int {
	return unix.Getpagesize()
}

func OpenFile(path string, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, perm)
}
