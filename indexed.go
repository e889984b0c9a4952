package bindb

import (
	"errors"
	"iter"
	"log/slog"
	"os"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// IndexedStoreFiles are the backing files of an IndexedStore.
type IndexedStoreFiles struct {
	RawEntries       *os.File
	RawFreeLocations *os.File
	Indices          *os.File
	FreeIds          *os.File
}

type IndexedStoreMargins struct {
	RawEntries       uint64
	RawFreeLocations uint64
	Indices          uint64
	FreeIds          uint64
}

// IndexedStore gives DynamicStore records stable logical ids. indices maps a
// logical id to a raw offset, freeIds is a stack of ids waiting for reuse.
type IndexedStore[E any] struct {
	raw     *DynamicStore[E]
	indices *FixedStore[uint64]
	freeIds *FixedStore[uint64]
}

func CreateIndexedStore[E any](files IndexedStoreFiles, codec DynamicCodec[E], margins IndexedStoreMargins) (*IndexedStore[E], error) {
	return createIndexedStore(files, codec, margins, nil)
}

func OpenIndexedStore[E any](files IndexedStoreFiles, codec DynamicCodec[E], margins IndexedStoreMargins) (*IndexedStore[E], error) {
	return openIndexedStore(files, codec, margins, nil)
}

func createIndexedStore[E any](files IndexedStoreFiles, codec DynamicCodec[E], margins IndexedStoreMargins, logger *slog.Logger) (_ *IndexedStore[E], err error) {
	s := new(IndexedStore[E])
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	s.raw, err = createDynamicStore(DynamicStoreFiles{Entries: files.RawEntries, FreeLocations: files.RawFreeLocations},
		codec, DynamicStoreMargins{Entries: margins.RawEntries, FreeLocations: margins.RawFreeLocations}, logger)
	if err != nil {
		return nil, opErr("indexed", "create", "raw", err)
	}
	s.indices, err = createFixedStore(files.Indices.Name(), files.Indices, FixedCodec[uint64](Uint64Codec{}), margins.Indices, logger)
	if err != nil {
		return nil, opErr("indexed", "create", "indices", err)
	}
	s.freeIds, err = createFixedStore(files.FreeIds.Name(), files.FreeIds, FixedCodec[uint64](Uint64Codec{}), margins.FreeIds, logger)
	if err != nil {
		return nil, opErr("indexed", "create", "free_ids", err)
	}
	return s, nil
}

func openIndexedStore[E any](files IndexedStoreFiles, codec DynamicCodec[E], margins IndexedStoreMargins, logger *slog.Logger) (_ *IndexedStore[E], err error) {
	s := new(IndexedStore[E])
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	s.raw, err = openDynamicStore(DynamicStoreFiles{Entries: files.RawEntries, FreeLocations: files.RawFreeLocations},
		codec, DynamicStoreMargins{Entries: margins.RawEntries, FreeLocations: margins.RawFreeLocations}, logger)
	if err != nil {
		return nil, opErr("indexed", "open", "raw", err)
	}
	s.indices, err = openFixedStore(files.Indices.Name(), files.Indices, FixedCodec[uint64](Uint64Codec{}), margins.Indices, logger)
	if err != nil {
		return nil, opErr("indexed", "open", "indices", err)
	}
	s.freeIds, err = openFixedStore(files.FreeIds.Name(), files.FreeIds, FixedCodec[uint64](Uint64Codec{}), margins.FreeIds, logger)
	if err != nil {
		return nil, opErr("indexed", "open", "free_ids", err)
	}
	return s, nil
}

// IsIdValid only checks the id is inside the index array. It cannot tell a
// live id from one waiting in the free stack; tracking removed ids is up to
// the caller.
func (s *IndexedStore[E]) IsIdValid(id uint64) bool {
	return id < s.indices.Len()
}

// Len is the number of live ids.
func (s *IndexedStore[E]) Len() uint64 {
	return s.indices.Len() - s.freeIds.Len()
}

func (s *IndexedStore[E]) FreeLocationsLen() uint64 {
	return s.raw.FreeLocationsLen()
}

func (s *IndexedStore[E]) rawId(id uint64) uint64 {
	if !s.IsIdValid(id) {
		invalidId(id)
	}
	return s.indices.Get(id)
}

func (s *IndexedStore[E]) Get(id uint64) E {
	return s.raw.Get(s.rawId(id))
}

// Bytes returns the encoded record; it aliases the mapping.
func (s *IndexedStore[E]) Bytes(id uint64) []byte {
	return s.raw.Bytes(s.rawId(id))
}

// Add stores v and returns its logical id, reusing the most recently freed id.
func (s *IndexedStore[E]) Add(v E) (uint64, error) {
	rawId, err := s.raw.Add(v)
	if err != nil {
		return 0, opErr("indexed", "add", "raw.add", err)
	}
	if id, ok := s.freeIds.Last(); ok {
		_, err = s.freeIds.RemoveLast()
		if err != nil {
			_ = s.raw.Remove(rawId)
			return 0, opErr("indexed", "add", "free_ids.remove_last", err)
		}
		s.indices.Set(id, rawId)
		return id, nil
	}
	id, err := s.indices.Add(rawId)
	if err != nil {
		_ = s.raw.Remove(rawId)
		return 0, opErr("indexed", "add", "indices.add", err)
	}
	return id, nil
}

// Set replaces the value of id, keeping the id.
func (s *IndexedStore[E]) Set(id uint64, v E) error {
	oldId := s.rawId(id)
	if s.raw.overwrite(oldId, v) {
		return nil
	}
	rawId, err := s.raw.Add(v)
	if err != nil {
		return opErr("indexed", "set", "raw.add", err)
	}
	s.indices.Set(id, rawId)
	err = s.raw.Remove(oldId)
	if err != nil {
		return opErr("indexed", "set", "raw.remove", err)
	}
	return nil
}

// Remove frees id. The id must not be used again until Add hands it back.
// The id is released before its record, so a failed record removal can put
// the id back instead of leaving it pointing at freed bytes.
func (s *IndexedStore[E]) Remove(id uint64) error {
	rawId := s.rawId(id)
	removed, err := s.indices.RemoveIfLast(id)
	if err != nil {
		return opErr("indexed", "remove", "indices.remove_last", err)
	}
	if !removed {
		_, err = s.freeIds.Add(id)
		if err != nil {
			return opErr("indexed", "remove", "free_ids.add", err)
		}
	}
	err = s.raw.Remove(rawId)
	if err == nil {
		return nil
	}
	var undoErr error
	if removed {
		_, undoErr = s.indices.Add(rawId)
	} else {
		_, undoErr = s.freeIds.RemoveLast()
	}
	return opErr("indexed", "remove", "raw.remove", errors.Join(err, undoErr))
}

func (s *IndexedStore[E]) freeIdSet() *roaring64.Bitmap {
	free := roaring64.New()
	for i := range s.freeIds.AllIds() {
		free.Add(s.freeIds.Get(i))
	}
	return free
}

// Ids iterates live ids in ascending order.
func (s *IndexedStore[E]) Ids() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		free := s.freeIdSet()
		for id := range s.indices.AllIds() {
			if free.Contains(id) {
				continue
			}
			if !yield(id) {
				return
			}
		}
	}
}

func (s *IndexedStore[E]) Stat() ExportStat {
	return s.raw.Stat().add(s.indices.Stat()).add(s.freeIds.Stat())
}

func (s *IndexedStore[E]) Sync() error {
	return errors.Join(s.raw.Sync(), s.indices.Sync(), s.freeIds.Sync())
}

func (s *IndexedStore[E]) Close() error {
	var errs []error
	if s.raw != nil {
		errs = append(errs, s.raw.Close())
	}
	if s.indices != nil {
		errs = append(errs, s.indices.Close())
	}
	if s.freeIds != nil {
		errs = append(errs, s.freeIds.Close())
	}
	return errors.Join(errs...)
}
