package bindb

import (
	"log/slog"
	"os"
)

// SingleValue persists exactly one dynamically encoded value in its own file.
type SingleValue[T any] struct {
	m     *mappedFile
	codec DynamicCodec[T]
}

func CreateSingleValue[T any](file *os.File, codec DynamicCodec[T], value T) (*SingleValue[T], error) {
	return createSingleValue(file.Name(), file, codec, value, nil)
}

func OpenSingleValue[T any](file *os.File, codec DynamicCodec[T]) (*SingleValue[T], error) {
	return openSingleValue(file.Name(), file, codec, nil)
}

func createSingleValue[T any](name string, file *os.File, codec DynamicCodec[T], value T, logger *slog.Logger) (*SingleValue[T], error) {
	n := uint64(codec.Len(value))
	m, err := createMappedFile(name, file, n, logger)
	if err != nil {
		return nil, opErr("single", "create", "", err)
	}
	codec.Encode(m.dat, value)
	return &SingleValue[T]{m: m, codec: codec}, nil
}

func openSingleValue[T any](name string, file *os.File, codec DynamicCodec[T], logger *slog.Logger) (*SingleValue[T], error) {
	m, err := openMappedFile(name, file, 1, logger)
	if err != nil {
		return nil, opErr("single", "open", "", err)
	}
	if uint64(codec.BufLen(m.dat)) > m.size() {
		_ = m.close()
		return nil, opErr("single", "open", "", ErrCorrupted)
	}
	return &SingleValue[T]{m: m, codec: codec}, nil
}

func (s *SingleValue[T]) Get() T {
	v, _ := s.codec.Decode(s.m.dat)
	return v
}

// Set overwrites the value, growing the file when the new encoding is longer.
func (s *SingleValue[T]) Set(v T) error {
	if s.m.file == nil {
		return opErr("single", "set", "", ErrClosed)
	}
	n := uint64(s.codec.Len(v))
	if n > s.m.size() {
		err := s.m.resize(n)
		if err != nil {
			return opErr("single", "set", "resize", err)
		}
	}
	s.codec.Encode(s.m.dat, v)
	return nil
}

func (s *SingleValue[T]) Stat() ExportStat {
	return s.m.exportStat()
}

func (s *SingleValue[T]) Sync() error {
	return s.m.sync()
}

func (s *SingleValue[T]) Close() error {
	return s.m.close()
}
