package bindb

import (
	"errors"
	"log/slog"
	"os"

	"github.com/nyan233/bindb/internal/sys"
)

// mappedFile owns one backing file and its current mapping. Every resize goes
// through resize, which invalidates all slices previously taken from dat.
type mappedFile struct {
	name   string
	file   *os.File
	dat    []byte
	logger *slog.Logger
	stat   iStat
}

func nopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// createMappedFile truncates file to headerLen and zeroes it.
func createMappedFile(name string, file *os.File, headerLen uint64, logger *slog.Logger) (*mappedFile, error) {
	if logger == nil {
		logger = nopLogger()
	}
	m := &mappedFile{name: name, file: file, logger: logger}
	err := file.Truncate(0)
	if err != nil {
		return nil, err
	}
	m.dat, err = sys.Resize(file, nil, headerLen)
	if err != nil {
		logger.Error("mapped file create fail", "store", name, "err", err)
		return nil, err
	}
	clear(m.dat)
	return m, nil
}

// openMappedFile maps the whole file, which must hold at least headerLen bytes.
func openMappedFile(name string, file *os.File, headerLen uint64, logger *slog.Logger) (*mappedFile, error) {
	if logger == nil {
		logger = nopLogger()
	}
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := uint64(stat.Size())
	if fileSize < headerLen || fileSize == 0 {
		return nil, ErrHeaderTruncated
	}
	dat, err := sys.MMap(file, fileSize)
	if err != nil {
		logger.Error("mapped file open fail", "store", name, "err", err)
		return nil, err
	}
	return &mappedFile{name: name, file: file, dat: dat, logger: logger}, nil
}

func (m *mappedFile) size() uint64 {
	return uint64(len(m.dat))
}

func (m *mappedFile) resize(newLen uint64) error {
	if m.file == nil {
		return ErrClosed
	}
	oldLen := m.size()
	dat, err := sys.Resize(m.file, m.dat, newLen)
	m.dat = dat
	if err != nil {
		m.logger.Error("mapped file resize fail", "store", m.name, "from", oldLen, "to", newLen, "err", err)
		return err
	}
	m.stat.remaps++
	if newLen > oldLen {
		m.stat.grows++
	} else {
		m.stat.shrinks++
	}
	m.logger.Debug("mapped file resized", "store", m.name, "from", oldLen, "to", newLen)
	return nil
}

// view returns dat[off:off+n]; the slice is only valid until the next resize.
func (m *mappedFile) view(off, n uint64) []byte {
	return m.dat[off : off+n : off+n]
}

// swap exchanges two equally sized, non-overlapping ranges through tmp.
func (m *mappedFile) swap(a, b uint64, tmp []byte) {
	n := uint64(len(tmp))
	x, y := m.view(a, n), m.view(b, n)
	copy(tmp, x)
	copy(x, y)
	copy(y, tmp)
}

func (m *mappedFile) exportStat() ExportStat {
	return ExportStat{
		Remaps:      m.stat.remaps,
		Grows:       m.stat.grows,
		Shrinks:     m.stat.shrinks,
		MappedBytes: m.size(),
	}
}

func (m *mappedFile) sync() error {
	if m.file == nil {
		return ErrClosed
	}
	return sys.Sync(m.dat)
}

func (m *mappedFile) close() (err error) {
	if m.file == nil {
		return nil
	}
	err = errors.Join(sys.MUnmap(m.file, m.dat), m.file.Close())
	m.file = nil
	m.dat = nil
	return
}
