package bindb

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
)

const dynamicHeaderLen = 16

// FreeLocation is a reclaimed half-open byte range [Start, End) of a DynamicStore.
type FreeLocation struct {
	Start uint64
	End   uint64
}

func (l FreeLocation) Len() uint64 {
	return l.End - l.Start
}

type freeLocationCodec struct{}

func (freeLocationCodec) Size() int { return 16 }

func (freeLocationCodec) Encode(buf []byte, v FreeLocation) {
	binary.LittleEndian.PutUint64(buf, v.Start)
	binary.LittleEndian.PutUint64(buf[8:], v.End)
}

func (freeLocationCodec) Decode(buf []byte) FreeLocation {
	return FreeLocation{
		Start: binary.LittleEndian.Uint64(buf),
		End:   binary.LittleEndian.Uint64(buf[8:]),
	}
}

// DynamicStoreFiles are the backing files of a DynamicStore.
type DynamicStoreFiles struct {
	Entries       *os.File
	FreeLocations *os.File
}

// DynamicStoreMargins are the growth chunks of a DynamicStore: bytes for
// Entries, records for FreeLocations.
type DynamicStoreMargins struct {
	Entries       uint64
	FreeLocations uint64
}

// DynamicStore packs variable length records back to back and addresses them
// by byte offset. Freed ranges are kept in a coalesced free-list and reused
// first-fit.
//
// Layout: [len:u64][bytes_len:u64][record stream]
type DynamicStore[E any] struct {
	m             *mappedFile
	codec         DynamicCodec[E]
	freeLocations *FixedStore[FreeLocation]
	len           uint64
	bytesLen      uint64
	margin        uint64
	maxMargin     uint64
}

func CreateDynamicStore[E any](files DynamicStoreFiles, codec DynamicCodec[E], margins DynamicStoreMargins) (*DynamicStore[E], error) {
	return createDynamicStore(files, codec, margins, nil)
}

func OpenDynamicStore[E any](files DynamicStoreFiles, codec DynamicCodec[E], margins DynamicStoreMargins) (*DynamicStore[E], error) {
	return openDynamicStore(files, codec, margins, nil)
}

func createDynamicStore[E any](files DynamicStoreFiles, codec DynamicCodec[E], margins DynamicStoreMargins, logger *slog.Logger) (*DynamicStore[E], error) {
	if margins.Entries == 0 {
		return nil, opErr("dynamic", "create", "", ErrInvalidMargin)
	}
	freeLocations, err := createFixedStore(files.FreeLocations.Name(), files.FreeLocations, FixedCodec[FreeLocation](freeLocationCodec{}), margins.FreeLocations, logger)
	if err != nil {
		return nil, opErr("dynamic", "create", "free_locations", err)
	}
	m, err := createMappedFile(files.Entries.Name(), files.Entries, dynamicHeaderLen, logger)
	if err != nil {
		_ = freeLocations.Close()
		return nil, opErr("dynamic", "create", "entries", err)
	}
	return &DynamicStore[E]{
		m:             m,
		codec:         codec,
		freeLocations: freeLocations,
		maxMargin:     margins.Entries,
	}, nil
}

func openDynamicStore[E any](files DynamicStoreFiles, codec DynamicCodec[E], margins DynamicStoreMargins, logger *slog.Logger) (*DynamicStore[E], error) {
	if margins.Entries == 0 {
		return nil, opErr("dynamic", "open", "", ErrInvalidMargin)
	}
	freeLocations, err := openFixedStore(files.FreeLocations.Name(), files.FreeLocations, FixedCodec[FreeLocation](freeLocationCodec{}), margins.FreeLocations, logger)
	if err != nil {
		return nil, opErr("dynamic", "open", "free_locations", err)
	}
	m, err := openMappedFile(files.Entries.Name(), files.Entries, dynamicHeaderLen, logger)
	if err != nil {
		_ = freeLocations.Close()
		return nil, opErr("dynamic", "open", "entries", err)
	}
	s := &DynamicStore[E]{
		m:             m,
		codec:         codec,
		freeLocations: freeLocations,
		len:           binary.LittleEndian.Uint64(m.dat[0:8]),
		bytesLen:      binary.LittleEndian.Uint64(m.dat[8:16]),
		maxMargin:     margins.Entries,
	}
	if dynamicHeaderLen+s.bytesLen > m.size() {
		_ = s.Close()
		return nil, opErr("dynamic", "open", "header", ErrCorrupted)
	}
	s.margin = m.size() - dynamicHeaderLen - s.bytesLen
	return s, nil
}

// Len is the number of live records.
func (s *DynamicStore[E]) Len() uint64 {
	return s.len
}

// BytesLen is the size of the used record region, free ranges included.
func (s *DynamicStore[E]) BytesLen() uint64 {
	return s.bytesLen
}

func (s *DynamicStore[E]) FreeLocationsLen() uint64 {
	return s.freeLocations.Len()
}

// FreeLocations returns a copy of the free-list in storage order.
func (s *DynamicStore[E]) FreeLocations() []FreeLocation {
	res := make([]FreeLocation, 0, s.freeLocations.Len())
	for id := range s.freeLocations.AllIds() {
		res = append(res, s.freeLocations.Get(id))
	}
	return res
}

func (s *DynamicStore[E]) offset(id uint64) uint64 {
	return dynamicHeaderLen + id
}

func (s *DynamicStore[E]) setHeader(length, bytesLen uint64) {
	s.len = length
	s.bytesLen = bytesLen
	binary.LittleEndian.PutUint64(s.m.dat[0:8], length)
	binary.LittleEndian.PutUint64(s.m.dat[8:16], bytesLen)
}

// tail returns the mapped bytes from id to the end of the used region.
// An id outside the used region panics; a freed id inside it cannot be detected.
func (s *DynamicStore[E]) tail(id uint64) []byte {
	if id >= s.bytesLen {
		invalidId(id)
	}
	return s.m.dat[s.offset(id):s.offset(s.bytesLen)]
}

func (s *DynamicStore[E]) recordLen(id uint64) uint64 {
	return uint64(s.codec.BufLen(s.tail(id)))
}

// Bytes returns the encoded record at id. It aliases the mapping.
func (s *DynamicStore[E]) Bytes(id uint64) []byte {
	b := s.tail(id)
	return b[:s.codec.BufLen(b)]
}

// Get decodes the record at id. The caller must not pass a removed id.
func (s *DynamicStore[E]) Get(id uint64) E {
	v, _ := s.codec.Decode(s.tail(id))
	return v
}

// Add writes v into the first free range that fits, or appends it, and
// returns its byte offset.
func (s *DynamicStore[E]) Add(v E) (uint64, error) {
	n := uint64(s.codec.Len(v))
	for locId := range s.freeLocations.AllIds() {
		loc := s.freeLocations.Get(locId)
		if loc.Len() < n {
			continue
		}
		if loc.Len() == n {
			err := s.freeLocations.SwapRemove(locId)
			if err != nil {
				return 0, opErr("dynamic", "add", "free_locations.swap_remove", err)
			}
		} else {
			s.freeLocations.Set(locId, FreeLocation{Start: loc.Start + n, End: loc.End})
		}
		s.codec.Encode(s.m.view(s.offset(loc.Start), n), v)
		s.setHeader(s.len+1, s.bytesLen)
		return loc.Start, nil
	}

	if s.margin < n {
		extra := s.margin + ((n-s.margin)/s.maxMargin+1)*s.maxMargin
		err := s.m.resize(s.offset(s.bytesLen + extra))
		if err != nil {
			return 0, opErr("dynamic", "add", "resize", err)
		}
		s.margin = extra
	}
	id := s.bytesLen
	s.codec.Encode(s.m.view(s.offset(id), n), v)
	s.margin -= n
	s.setHeader(s.len+1, s.bytesLen+n)
	return id, nil
}

// Replace stores v in place of the record at id and returns the new offset,
// which equals id when the encoded length is unchanged.
func (s *DynamicStore[E]) Replace(id uint64, v E) (uint64, error) {
	if s.overwrite(id, v) {
		return id, nil
	}
	newId, err := s.Add(v)
	if err != nil {
		return 0, opErr("dynamic", "replace", "add", err)
	}
	err = s.Remove(id)
	if err != nil {
		return newId, opErr("dynamic", "replace", "remove", err)
	}
	return newId, nil
}

// overwrite encodes v over the record at id when both have the same length.
func (s *DynamicStore[E]) overwrite(id uint64, v E) bool {
	n := s.recordLen(id)
	if uint64(s.codec.Len(v)) != n {
		return false
	}
	s.codec.Encode(s.m.view(s.offset(id), n), v)
	return true
}

// Remove frees the record at id. Adjacent free ranges are merged; a record at
// the end of the used region shrinks the region instead.
func (s *DynamicStore[E]) Remove(id uint64) error {
	n := s.recordLen(id)
	loc := FreeLocation{Start: id, End: id + n}

	if loc.End == s.bytesLen {
		leftId, left, ok := s.findFree(func(l FreeLocation) bool { return l.End == loc.Start })
		if !ok {
			return s.shrink(n)
		}
		err := s.freeLocations.SwapRemove(leftId)
		if err != nil {
			return opErr("dynamic", "remove", "free_locations.swap_remove", err)
		}
		err = s.shrink(s.bytesLen - left.Start)
		if err != nil {
			// the absorbed range goes back to the free-list
			_, undoErr := s.freeLocations.Add(left)
			return errors.Join(err, opErr("dynamic", "remove", "free_locations.add", undoErr))
		}
		return nil
	}

	var (
		leftId, rightId uint64
		left, right     FreeLocation
		hasLeft         bool
		hasRight        bool
	)
	for locId := range s.freeLocations.AllIds() {
		l := s.freeLocations.Get(locId)
		switch {
		case !hasLeft && l.End == loc.Start:
			leftId, left, hasLeft = locId, l, true
		case !hasRight && l.Start == loc.End:
			rightId, right, hasRight = locId, l, true
		}
		if hasLeft && hasRight {
			break
		}
	}

	switch {
	case hasLeft && hasRight:
		s.freeLocations.Set(leftId, FreeLocation{Start: left.Start, End: right.End})
		err := s.freeLocations.SwapRemove(rightId)
		if err != nil {
			return opErr("dynamic", "remove", "free_locations.swap_remove", err)
		}
	case hasLeft:
		s.freeLocations.Set(leftId, FreeLocation{Start: left.Start, End: loc.End})
	case hasRight:
		s.freeLocations.Set(rightId, FreeLocation{Start: loc.Start, End: right.End})
	default:
		_, err := s.freeLocations.Add(loc)
		if err != nil {
			return opErr("dynamic", "remove", "free_locations.add", err)
		}
	}
	s.setHeader(s.len-1, s.bytesLen)
	return nil
}

func (s *DynamicStore[E]) findFree(match func(FreeLocation) bool) (uint64, FreeLocation, bool) {
	for locId := range s.freeLocations.AllIds() {
		l := s.freeLocations.Get(locId)
		if match(l) {
			return locId, l, true
		}
	}
	return 0, FreeLocation{}, false
}

// shrink releases size bytes from the end of the used region, truncating the
// file once the accumulated slack reaches maxMargin.
func (s *DynamicStore[E]) shrink(size uint64) error {
	bytesLen := s.bytesLen - size
	margin := s.margin + size
	if margin >= s.maxMargin {
		margin %= s.maxMargin
		err := s.m.resize(s.offset(bytesLen + margin))
		if err != nil {
			return opErr("dynamic", "remove", "resize", err)
		}
	}
	s.margin = margin
	s.setHeader(s.len-1, bytesLen)
	return nil
}

func (s *DynamicStore[E]) Stat() ExportStat {
	return s.m.exportStat().add(s.freeLocations.Stat())
}

func (s *DynamicStore[E]) Sync() error {
	if err := s.m.sync(); err != nil {
		return err
	}
	return s.freeLocations.Sync()
}

func (s *DynamicStore[E]) Close() error {
	return errors.Join(s.m.close(), s.freeLocations.Close())
}
