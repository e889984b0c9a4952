//go:build windows

package sys

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows API constants not defined in golang.org/x/sys/windows
const (
	FILE_MAP_ALL_ACCESS = 0x000F001F
)

// SYSTEM_INFO defines the Windows SYSTEM_INFO structure.
type SYSTEM_INFO struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

var (
	getSystemInfoProc   = windows.NewLazySystemDLL("kernel32").NewProc("GetSystemInfo")
	mapViewOfFileExProc = windows.NewLazySystemDLL("kernel32").NewProc("MapViewOfFileEx")
)

// GetSystemInfo retrieves system information.
func GetSystemInfo() (si SYSTEM_INFO, err error) {
	r1, _, err := getSystemInfoProc.Call(uintptr(unsafe.Pointer(&si)))
	if r1 == 0 {
		return si, err
	}
	return si, nil
}

// MapViewOfFileEx maps a file view with a specified base address.
func MapViewOfFileEx(hMap windows.Handle, desiredAccess uint32, fileOffsetHigh, fileOffsetLow uint32, size uintptr, baseAddr uintptr) (addr uintptr, err error) {
	r1, _, err := mapViewOfFileExProc.Call(
		uintptr(hMap),
		uintptr(desiredAccess),
		uintptr(fileOffsetHigh),
		uintptr(fileOffsetLow),
		size,
		baseAddr,
	)
	if r1 == 0 {
		return 0, err
	}
	return r1, nil
}

// MMap maps the first length bytes of file with read and write permissions.
func MMap(file *os.File, length uint64) (dat []byte, err error) {
	if length == 0 {
		return nil, nil
	}
	return mapAt(file, length, 0)
}

func mapAt(file *os.File, length uint64, baseAddr uintptr) (dat []byte, err error) {
	hMap, err := windows.CreateFileMapping(
		windows.Handle(file.Fd()),
		nil,
		windows.PAGE_READWRITE,
		uint32(length>>32),
		uint32(length),
		nil,
	)
	if err != nil {
		return nil, err
	}
	// the mapping handle stays alive until all views are unmapped
	defer windows.CloseHandle(hMap)

	var addr uintptr
	if baseAddr != 0 {
		addr, err = MapViewOfFileEx(hMap, FILE_MAP_ALL_ACCESS, 0, 0, uintptr(length), baseAddr)
	}
	if baseAddr == 0 || err != nil {
		addr, err = windows.MapViewOfFile(hMap, FILE_MAP_ALL_ACCESS, 0, 0, uintptr(length))
		if err != nil {
			return nil, err
		}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

// MUnmap unmaps the memory region, similar to Unix munmap.
func MUnmap(file *os.File, dat []byte) (err error) {
	if len(dat) == 0 {
		return nil
	}
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&dat[0])))
}

// Remap adjusts the size of an existing memory mapping, attempting to keep the original base address.
func Remap(file *os.File, newLength uint64, olddat []byte) (dat []byte, err error) {
	if len(olddat) == 0 {
		return MMap(file, newLength)
	}
	baseAddr := uintptr(unsafe.Pointer(&olddat[0]))
	err = MUnmap(file, olddat)
	if err != nil {
		return nil, err
	}
	if newLength == 0 {
		return nil, nil
	}
	return mapAt(file, newLength, baseAddr)
}

// Resize changes the file length and returns a mapping covering the new length.
// A mapped file cannot be resized on Windows, so the view is dropped first and
// restored with the old length if the resize fails.
func Resize(file *os.File, olddat []byte, newLength uint64) (dat []byte, err error) {
	oldLength := uint64(len(olddat))
	err = MUnmap(file, olddat)
	if err != nil {
		return olddat, err
	}
	err = file.Truncate(int64(newLength))
	if err != nil {
		restored, rerr := MMap(file, oldLength)
		if rerr != nil {
			return nil, rerr
		}
		return restored, err
	}
	return MMap(file, newLength)
}

// Sync flushes dirty pages of the mapping to the backing file.
func Sync(dat []byte) error {
	if len(dat) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&dat[0])), uintptr(len(dat)))
}

// GetSysPageSize returns the system's memory page size.
func GetSysPageSize() int {
	si, err := GetSystemInfo()
	if err != nil {
		return 4096
	}
	return int(si.PageSize)
}

func OpenFile(path string, perm os.FileMode) (file *os.File, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(handle), path), nil
}
