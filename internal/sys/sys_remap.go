//go:build unix && !linux

package sys

import "os"

// Remap maps the new length first and only then drops the old mapping,
// so a failed map leaves olddat usable.
func Remap(file *os.File, newLength uint64, olddat []byte) (dat []byte, err error) {
	dat, err = MMap(file, newLength)
	if err != nil {
		return nil, err
	}
	err = MUnmap(file, olddat)
	if err != nil {
		_ = MUnmap(file, dat)
		return nil, err
	}
	return dat, nil
}
