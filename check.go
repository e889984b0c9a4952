package bindb

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Check walks the record stream and the free-list and verifies that they tile
// the used region exactly: free ranges are non-empty, disjoint, never adjacent
// and never touch the end of the region.
func (s *DynamicStore[E]) Check() error {
	_, err := s.recordStarts()
	return err
}

func (s *DynamicStore[E]) recordStarts() (*roaring64.Bitmap, error) {
	free := s.FreeLocations()
	slices.SortFunc(free, func(a, b FreeLocation) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	for i, l := range free {
		if l.Start >= l.End {
			return nil, fmt.Errorf("%w: empty free range [%d, %d)", ErrCorrupted, l.Start, l.End)
		}
		if l.End >= s.bytesLen {
			return nil, fmt.Errorf("%w: free range [%d, %d) reaches bytes_len %d", ErrCorrupted, l.Start, l.End, s.bytesLen)
		}
		if i > 0 && free[i-1].End >= l.Start {
			return nil, fmt.Errorf("%w: free ranges [%d, %d) and [%d, %d) overlap or touch",
				ErrCorrupted, free[i-1].Start, free[i-1].End, l.Start, l.End)
		}
	}

	starts := roaring64.New()
	var off uint64
	for off < s.bytesLen {
		if len(free) > 0 && free[0].Start == off {
			off = free[0].End
			free = free[1:]
			continue
		}
		n := s.recordLen(off)
		if n == 0 || off+n > s.bytesLen || (len(free) > 0 && off+n > free[0].Start) {
			return nil, fmt.Errorf("%w: record at %d with length %d crosses its neighbour", ErrCorrupted, off, n)
		}
		starts.Add(off)
		off += n
	}
	if off != s.bytesLen {
		return nil, fmt.Errorf("%w: record stream ends at %d, bytes_len is %d", ErrCorrupted, off, s.bytesLen)
	}
	if starts.GetCardinality() != s.len {
		return nil, fmt.Errorf("%w: found %d records, header says %d", ErrCorrupted, starts.GetCardinality(), s.len)
	}
	return starts, nil
}

// Check verifies the raw store and that every live id points at a distinct
// record start.
func (s *IndexedStore[E]) Check() error {
	starts, err := s.raw.recordStarts()
	if err != nil {
		return err
	}
	free := roaring64.New()
	for i := range s.freeIds.AllIds() {
		id := s.freeIds.Get(i)
		if id >= s.indices.Len() {
			return fmt.Errorf("%w: free id %d out of range", ErrCorrupted, id)
		}
		if !free.CheckedAdd(id) {
			return fmt.Errorf("%w: free id %d listed twice", ErrCorrupted, id)
		}
	}
	seen := roaring64.New()
	for id := range s.indices.AllIds() {
		if free.Contains(id) {
			continue
		}
		rawId := s.indices.Get(id)
		if !starts.Contains(rawId) {
			return fmt.Errorf("%w: id %d points at %d which is not a record", ErrCorrupted, id, rawId)
		}
		if !seen.CheckedAdd(rawId) {
			return fmt.Errorf("%w: id %d shares record %d", ErrCorrupted, id, rawId)
		}
	}
	if seen.GetCardinality() != s.raw.Len() {
		return fmt.Errorf("%w: %d records are not referenced by any id", ErrCorrupted, s.raw.Len()-seen.GetCardinality())
	}
	return nil
}

// Check walks the whole tree and verifies that every child ref points at a
// live node, that no node is reached twice, that all live nodes are reachable
// and that keys come out in strictly ascending order.
func (t *OrderedIndex[K, V]) Check() error {
	free := roaring64.New()
	for i := range t.freeIds.AllIds() {
		id := t.freeIds.Get(i)
		if !t.nodes.IsIdValid(id) {
			return fmt.Errorf("%w: free node id %d out of range", ErrCorrupted, id)
		}
		if !free.CheckedAdd(id) {
			return fmt.Errorf("%w: free node id %d listed twice", ErrCorrupted, id)
		}
	}

	visited := roaring64.New()
	var (
		path stack
		prev []byte
	)
	push := func(ref nodeRef) error {
		for {
			id, ok := ref.id()
			if !ok {
				return nil
			}
			if !t.nodes.IsIdValid(id) || free.Contains(id) {
				return fmt.Errorf("%w: ref to dead node %d", ErrCorrupted, id)
			}
			if !visited.CheckedAdd(id) {
				return fmt.Errorf("%w: node %d reached twice", ErrCorrupted, id)
			}
			path.push(id)
			ref = t.child(id, NodeBranchLeft)
		}
	}
	if err := push(t.root); err != nil {
		return err
	}
	for {
		id, ok := path.pop()
		if !ok {
			break
		}
		key := t.layout.key(t.nodes.buf(id))
		if prev != nil && t.compare(prev, key) >= 0 {
			return fmt.Errorf("%w: node %d breaks key order", ErrCorrupted, id)
		}
		prev = key
		if err := push(t.child(id, NodeBranchRight)); err != nil {
			return err
		}
	}
	if visited.GetCardinality() != t.Len() {
		return fmt.Errorf("%w: %d nodes reachable, %d live", ErrCorrupted, visited.GetCardinality(), t.Len())
	}
	return nil
}
