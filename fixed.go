package bindb

import (
	"encoding/binary"
	"iter"
	"log/slog"
	"os"
)

const fixedHeaderLen = 8

// FixedStore is a dense array of fixed size records in a memory-mapped file.
//
// Layout: [next_entry_id:u64][record 0][record 1]...
//
// The file is grown and shrunk in chunks of maxMargin records so that most
// Add and RemoveLast calls do not touch the file length. Ids are 0..Len()-1.
type FixedStore[E any] struct {
	m           *mappedFile
	codec       FixedCodec[E]
	recLen      uint64
	nextEntryId uint64
	margin      uint64
	maxMargin   uint64
	tmp         []byte
}

// CreateFixedStore truncates file to an empty store.
func CreateFixedStore[E any](file *os.File, codec FixedCodec[E], maxMargin uint64) (*FixedStore[E], error) {
	return createFixedStore(file.Name(), file, codec, maxMargin, nil)
}

// OpenFixedStore opens a store previously written by CreateFixedStore.
func OpenFixedStore[E any](file *os.File, codec FixedCodec[E], maxMargin uint64) (*FixedStore[E], error) {
	return openFixedStore(file.Name(), file, codec, maxMargin, nil)
}

func createFixedStore[E any](name string, file *os.File, codec FixedCodec[E], maxMargin uint64, logger *slog.Logger) (*FixedStore[E], error) {
	m, err := createMappedFile(name, file, fixedHeaderLen, logger)
	if err != nil {
		return nil, opErr("fixed", "create", "", err)
	}
	return newFixedStore(m, codec, maxMargin), nil
}

func openFixedStore[E any](name string, file *os.File, codec FixedCodec[E], maxMargin uint64, logger *slog.Logger) (*FixedStore[E], error) {
	m, err := openMappedFile(name, file, fixedHeaderLen, logger)
	if err != nil {
		return nil, opErr("fixed", "open", "", err)
	}
	s := newFixedStore(m, codec, maxMargin)
	s.nextEntryId = binary.LittleEndian.Uint64(m.dat[:fixedHeaderLen])
	if s.offset(s.nextEntryId) > m.size() {
		_ = m.close()
		return nil, opErr("fixed", "open", "header", ErrCorrupted)
	}
	// capacity left over from a previous session is reused as margin
	if s.recLen > 0 {
		s.margin = (m.size() - s.offset(s.nextEntryId)) / s.recLen
	}
	return s, nil
}

func newFixedStore[E any](m *mappedFile, codec FixedCodec[E], maxMargin uint64) *FixedStore[E] {
	recLen := uint64(codec.Size())
	return &FixedStore[E]{
		m:         m,
		codec:     codec,
		recLen:    recLen,
		maxMargin: maxMargin,
		tmp:       make([]byte, recLen),
	}
}

func (s *FixedStore[E]) Len() uint64 {
	return s.nextEntryId
}

func (s *FixedStore[E]) IsEmpty() bool {
	return s.nextEntryId == 0
}

// LastId returns the id of the last record, if any.
func (s *FixedStore[E]) LastId() (uint64, bool) {
	if s.nextEntryId == 0 {
		return 0, false
	}
	return s.nextEntryId - 1, true
}

func (s *FixedStore[E]) IsIdValid(id uint64) bool {
	return id < s.nextEntryId
}

func (s *FixedStore[E]) offset(id uint64) uint64 {
	return fixedHeaderLen + id*s.recLen
}

func (s *FixedStore[E]) setNextEntryId(v uint64) {
	s.nextEntryId = v
	binary.LittleEndian.PutUint64(s.m.dat[:fixedHeaderLen], v)
}

// buf returns the mapped bytes of record id. It panics on an invalid id.
func (s *FixedStore[E]) buf(id uint64) []byte {
	if !s.IsIdValid(id) {
		invalidId(id)
	}
	return s.m.view(s.offset(id), s.recLen)
}

// Bytes returns the encoded record. The slice aliases the mapping and must
// not be kept across a call that may grow or shrink the store.
func (s *FixedStore[E]) Bytes(id uint64) []byte {
	return s.buf(id)
}

func (s *FixedStore[E]) Get(id uint64) E {
	return s.codec.Decode(s.buf(id))
}

func (s *FixedStore[E]) Set(id uint64, v E) {
	s.codec.Encode(s.buf(id), v)
}

// Last returns the last record, if any.
func (s *FixedStore[E]) Last() (v E, ok bool) {
	id, ok := s.LastId()
	if !ok {
		return v, false
	}
	return s.Get(id), true
}

// Add appends v and returns its id.
func (s *FixedStore[E]) Add(v E) (uint64, error) {
	return s.add(func(b []byte) { s.codec.Encode(b, v) })
}

func (s *FixedStore[E]) addRaw(raw []byte) (uint64, error) {
	return s.add(func(b []byte) { copy(b, raw) })
}

func (s *FixedStore[E]) add(write func(b []byte)) (uint64, error) {
	id := s.nextEntryId
	if s.margin == 0 {
		err := s.m.resize(s.offset(id + s.maxMargin + 2))
		if err != nil {
			return 0, opErr("fixed", "add", "resize", err)
		}
		s.margin = s.maxMargin + 1
	}
	s.margin--
	write(s.m.view(s.offset(id), s.recLen))
	s.setNextEntryId(id + 1)
	return id, nil
}

// RemoveLast drops the last record. It reports false on an empty store.
func (s *FixedStore[E]) RemoveLast() (bool, error) {
	if s.nextEntryId == 0 {
		return false, nil
	}
	newLen := s.nextEntryId - 1
	if s.margin >= s.maxMargin {
		err := s.m.resize(s.offset(newLen))
		if err != nil {
			return false, opErr("fixed", "remove_last", "resize", err)
		}
		s.margin = 0
	} else {
		s.margin++
	}
	s.setNextEntryId(newLen)
	return true, nil
}

// RemoveIfLast removes id only when it is the last record and reports whether it did.
func (s *FixedStore[E]) RemoveIfLast(id uint64) (bool, error) {
	last, ok := s.LastId()
	if !ok || id != last {
		return false, nil
	}
	return s.RemoveLast()
}

// SwapRemove moves the last record into id and shrinks the store by one.
// The record that was last changes its id, so only use this when the store
// is a set or a stack.
func (s *FixedStore[E]) SwapRemove(id uint64) error {
	if !s.IsIdValid(id) {
		invalidId(id)
	}
	last := s.nextEntryId - 1
	if id == last {
		_, err := s.RemoveLast()
		return err
	}
	copy(s.tmp, s.buf(last))
	_, err := s.RemoveLast()
	if err != nil {
		return err
	}
	copy(s.buf(id), s.tmp)
	return nil
}

// Copy overwrites record dst with record src.
func (s *FixedStore[E]) Copy(src, dst uint64) {
	copy(s.buf(dst), s.buf(src))
}

// Swap exchanges records a and b. a == b is a no-op.
func (s *FixedStore[E]) Swap(a, b uint64) {
	if !s.IsIdValid(a) {
		invalidId(a)
	}
	if !s.IsIdValid(b) {
		invalidId(b)
	}
	if a != b {
		s.m.swap(s.offset(a), s.offset(b), s.tmp)
	}
}

func (s *FixedStore[E]) AllIds() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		for id := uint64(0); id < s.nextEntryId; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

func (s *FixedStore[E]) Stat() ExportStat {
	return s.m.exportStat()
}

func (s *FixedStore[E]) Sync() error {
	return s.m.sync()
}

func (s *FixedStore[E]) Close() error {
	return s.m.close()
}
