package bindb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"os"
)

type NodeBranch uint8

const (
	NodeBranchLeft NodeBranch = iota
	NodeBranchRight
)

func (b NodeBranch) String() string {
	if b == NodeBranchLeft {
		return "left"
	}
	return "right"
}

// nodeRef is a child pointer as stored on disk: 0 means no child, otherwise
// it holds the node id plus one.
type nodeRef uint64

func refOf(id uint64) nodeRef {
	return nodeRef(id + 1)
}

func (r nodeRef) id() (uint64, bool) {
	if r == 0 {
		return 0, false
	}
	return uint64(r) - 1, true
}

// nodeLayout describes [key][value][left_id][right_id].
type nodeLayout struct {
	keyLen  int
	valLen  int
	idWidth int
}

func (l nodeLayout) size() int {
	return l.keyLen + l.valLen + 2*l.idWidth
}

func (l nodeLayout) key(node []byte) []byte {
	return node[:l.keyLen]
}

func (l nodeLayout) value(node []byte) []byte {
	return node[l.keyLen : l.keyLen+l.valLen]
}

func (l nodeLayout) refOff(branch NodeBranch) int {
	off := l.keyLen + l.valLen
	if branch == NodeBranchRight {
		off += l.idWidth
	}
	return off
}

func (l nodeLayout) ref(node []byte, branch NodeBranch) nodeRef {
	off := l.refOff(branch)
	var v uint64
	for i := l.idWidth - 1; i >= 0; i-- {
		v = v<<8 | uint64(node[off+i])
	}
	return nodeRef(v)
}

func (l nodeLayout) setRef(node []byte, branch NodeBranch, r nodeRef) {
	off := l.refOff(branch)
	v := uint64(r)
	for i := 0; i < l.idWidth; i++ {
		node[off+i] = byte(v)
		v >>= 8
	}
}

// maxNodes is the number of node ids whose +1 encoding fits idWidth bytes.
func (l nodeLayout) maxNodes() uint64 {
	if l.idWidth >= 8 {
		return math.MaxUint64
	}
	return 1<<(8*l.idWidth) - 1
}

type node[K, V any] struct {
	key   K
	value V
	left  nodeRef
	right nodeRef
}

type nodeCodec[K, V any] struct {
	keyCodec FixedCodec[K]
	valCodec FixedCodec[V]
	layout   nodeLayout
}

func (c nodeCodec[K, V]) Size() int {
	return c.layout.size()
}

func (c nodeCodec[K, V]) Encode(buf []byte, n node[K, V]) {
	c.keyCodec.Encode(c.layout.key(buf), n.key)
	c.valCodec.Encode(c.layout.value(buf), n.value)
	c.layout.setRef(buf, NodeBranchLeft, n.left)
	c.layout.setRef(buf, NodeBranchRight, n.right)
}

func (c nodeCodec[K, V]) Decode(buf []byte) node[K, V] {
	return node[K, V]{
		key:   c.keyCodec.Decode(c.layout.key(buf)),
		value: c.valCodec.Decode(c.layout.value(buf)),
		left:  c.layout.ref(buf, NodeBranchLeft),
		right: c.layout.ref(buf, NodeBranchRight),
	}
}

// treeHeader is the persisted root of an OrderedIndex plus the node layout it
// was created with, so a reopen with different codecs or id width is refused.
//
// Layout: [root:option u64][id_width:u8][node_size:u32]
type treeHeader struct {
	root     *uint64
	idWidth  uint8
	nodeSize uint32
}

const treeHeaderLen = optionUint64Len + 1 + 4

type treeHeaderCodec struct{}

func (treeHeaderCodec) Len(treeHeader) int { return treeHeaderLen }

func (treeHeaderCodec) BufLen([]byte) int { return treeHeaderLen }

func (treeHeaderCodec) Encode(buf []byte, h treeHeader) int {
	OptionUint64Codec{}.Encode(buf, h.root)
	buf[optionUint64Len] = h.idWidth
	binary.LittleEndian.PutUint32(buf[optionUint64Len+1:], h.nodeSize)
	return treeHeaderLen
}

func (treeHeaderCodec) Decode(buf []byte) (treeHeader, int) {
	root, _ := OptionUint64Codec{}.Decode(buf)
	return treeHeader{
		root:     root,
		idWidth:  buf[optionUint64Len],
		nodeSize: binary.LittleEndian.Uint32(buf[optionUint64Len+1:]),
	}, treeHeaderLen
}

type OrderedIndexFiles struct {
	Nodes   *os.File
	FreeIds *os.File
	Header  *os.File
}

type OrderedIndexMargins struct {
	Nodes   uint64
	FreeIds uint64
}

// OrderedIndexOptions tune the node format and key order.
type OrderedIndexOptions struct {
	// NodeIdWidth is the byte width of a stored child pointer.
	// Default: 8.
	NodeIdWidth int

	// Comparator orders encoded keys. Default: the key codec's Compare when it
	// implements Comparer, bytes.Compare otherwise.
	Comparator func(a, b []byte) int
}

func (o *OrderedIndexOptions) norm() *OrderedIndexOptions {
	var oo OrderedIndexOptions
	if o != nil {
		oo = *o
	}
	if oo.NodeIdWidth == 0 {
		oo.NodeIdWidth = 8
	}
	return &oo
}

type nodeParent struct {
	id     uint64
	branch NodeBranch
}

// Searched is the outcome of a tree walk: the node holding the key, if any,
// and the parent link that leads (or would lead) to it.
type Searched struct {
	id        uint64
	found     bool
	parent    nodeParent
	hasParent bool
}

func (s Searched) Found() bool {
	return s.found
}

// Id returns the id of the node holding the key.
func (s Searched) Id() (uint64, bool) {
	return s.id, s.found
}

// Parent returns the parent node and the branch that points at the key's position.
func (s Searched) Parent() (id uint64, branch NodeBranch, ok bool) {
	return s.parent.id, s.parent.branch, s.hasParent
}

// OrderedIndex is an unbalanced binary search tree whose nodes live in a
// FixedStore. Deleted node ids are recycled through a free id stack and the
// root id is kept in a SingleValue header together with the node layout.
type OrderedIndex[K, V any] struct {
	nodes    *FixedStore[node[K, V]]
	freeIds  *FixedStore[uint64]
	header   *SingleValue[treeHeader]
	root     nodeRef
	keyCodec FixedCodec[K]
	valCodec FixedCodec[V]
	layout   nodeLayout
	compare  func(a, b []byte) int
	keyBuf   []byte
	nodeBuf  []byte
	logger   *slog.Logger
}

func CreateOrderedIndex[K, V any](files OrderedIndexFiles, keyCodec FixedCodec[K], valCodec FixedCodec[V], margins OrderedIndexMargins, opt *OrderedIndexOptions) (*OrderedIndex[K, V], error) {
	return createOrderedIndex(files, keyCodec, valCodec, margins, opt, nil)
}

func OpenOrderedIndex[K, V any](files OrderedIndexFiles, keyCodec FixedCodec[K], valCodec FixedCodec[V], margins OrderedIndexMargins, opt *OrderedIndexOptions) (*OrderedIndex[K, V], error) {
	return openOrderedIndex(files, keyCodec, valCodec, margins, opt, nil)
}

func newOrderedIndex[K, V any](keyCodec FixedCodec[K], valCodec FixedCodec[V], opt *OrderedIndexOptions, logger *slog.Logger) (*OrderedIndex[K, V], error) {
	opt = opt.norm()
	if opt.NodeIdWidth < 1 || opt.NodeIdWidth > 8 {
		return nil, ErrInvalidIdWidth
	}
	if logger == nil {
		logger = nopLogger()
	}
	t := &OrderedIndex[K, V]{
		keyCodec: keyCodec,
		valCodec: valCodec,
		layout:   nodeLayout{keyLen: keyCodec.Size(), valLen: valCodec.Size(), idWidth: opt.NodeIdWidth},
		compare:  opt.Comparator,
		logger:   logger,
	}
	if t.compare == nil {
		if c, ok := keyCodec.(Comparer); ok {
			t.compare = c.Compare
		} else {
			t.compare = bytes.Compare
		}
	}
	t.keyBuf = make([]byte, t.layout.keyLen)
	t.nodeBuf = make([]byte, t.layout.size())
	return t, nil
}

func (t *OrderedIndex[K, V]) nodesCodec() FixedCodec[node[K, V]] {
	return nodeCodec[K, V]{keyCodec: t.keyCodec, valCodec: t.valCodec, layout: t.layout}
}

func createOrderedIndex[K, V any](files OrderedIndexFiles, keyCodec FixedCodec[K], valCodec FixedCodec[V], margins OrderedIndexMargins, opt *OrderedIndexOptions, logger *slog.Logger) (_ *OrderedIndex[K, V], err error) {
	t, err := newOrderedIndex(keyCodec, valCodec, opt, logger)
	if err != nil {
		return nil, opErr("ordered", "create", "", err)
	}
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()
	t.nodes, err = createFixedStore(files.Nodes.Name(), files.Nodes, t.nodesCodec(), margins.Nodes, logger)
	if err != nil {
		return nil, opErr("ordered", "create", "nodes", err)
	}
	t.freeIds, err = createFixedStore(files.FreeIds.Name(), files.FreeIds, FixedCodec[uint64](Uint64Codec{}), margins.FreeIds, logger)
	if err != nil {
		return nil, opErr("ordered", "create", "free_ids", err)
	}
	t.header, err = createSingleValue(files.Header.Name(), files.Header, DynamicCodec[treeHeader](treeHeaderCodec{}), t.headerOf(nil), logger)
	if err != nil {
		return nil, opErr("ordered", "create", "header", err)
	}
	return t, nil
}

func openOrderedIndex[K, V any](files OrderedIndexFiles, keyCodec FixedCodec[K], valCodec FixedCodec[V], margins OrderedIndexMargins, opt *OrderedIndexOptions, logger *slog.Logger) (_ *OrderedIndex[K, V], err error) {
	t, err := newOrderedIndex(keyCodec, valCodec, opt, logger)
	if err != nil {
		return nil, opErr("ordered", "open", "", err)
	}
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()
	t.nodes, err = openFixedStore(files.Nodes.Name(), files.Nodes, t.nodesCodec(), margins.Nodes, logger)
	if err != nil {
		return nil, opErr("ordered", "open", "nodes", err)
	}
	t.freeIds, err = openFixedStore(files.FreeIds.Name(), files.FreeIds, FixedCodec[uint64](Uint64Codec{}), margins.FreeIds, logger)
	if err != nil {
		return nil, opErr("ordered", "open", "free_ids", err)
	}
	t.header, err = openSingleValue(files.Header.Name(), files.Header, DynamicCodec[treeHeader](treeHeaderCodec{}), logger)
	if err != nil {
		return nil, opErr("ordered", "open", "header", err)
	}
	h := t.header.Get()
	if int(h.idWidth) != t.layout.idWidth || int(h.nodeSize) != t.layout.size() {
		t.logger.Error("ordered index layout mismatch", "store", files.Header.Name(),
			"id_width", h.idWidth, "node_size", h.nodeSize, "want_id_width", t.layout.idWidth, "want_node_size", t.layout.size())
		return nil, opErr("ordered", "open", "header", ErrLayoutMismatch)
	}
	if rootId := h.root; rootId != nil {
		if !t.nodes.IsIdValid(*rootId) {
			return nil, opErr("ordered", "open", "header", ErrCorrupted)
		}
		t.root = refOf(*rootId)
	}
	return t, nil
}

// Len is the number of keys in the tree.
func (t *OrderedIndex[K, V]) Len() uint64 {
	return t.nodes.Len() - t.freeIds.Len()
}

// RootId returns the id of the root node, if any.
func (t *OrderedIndex[K, V]) RootId() (uint64, bool) {
	return t.root.id()
}

func (t *OrderedIndex[K, V]) child(id uint64, branch NodeBranch) nodeRef {
	return t.layout.ref(t.nodes.buf(id), branch)
}

func (t *OrderedIndex[K, V]) setChild(id uint64, branch NodeBranch, r nodeRef) {
	t.layout.setRef(t.nodes.buf(id), branch, r)
}

func (t *OrderedIndex[K, V]) headerOf(root *uint64) treeHeader {
	return treeHeader{root: root, idWidth: uint8(t.layout.idWidth), nodeSize: uint32(t.layout.size())}
}

func (t *OrderedIndex[K, V]) setRoot(r nodeRef) error {
	var v *uint64
	if id, ok := r.id(); ok {
		v = &id
	}
	err := t.header.Set(t.headerOf(v))
	if err != nil {
		return err
	}
	t.root = r
	return nil
}

// Search walks from the root comparing encoded keys.
func (t *OrderedIndex[K, V]) Search(key K) Searched {
	t.keyCodec.Encode(t.keyBuf, key)
	return t.search(t.keyBuf)
}

func (t *OrderedIndex[K, V]) search(key []byte) (s Searched) {
	ref := t.root
	for {
		id, ok := ref.id()
		if !ok {
			return s
		}
		node := t.nodes.buf(id)
		c := t.compare(key, t.layout.key(node))
		if c == 0 {
			s.id, s.found = id, true
			return s
		}
		branch := NodeBranchRight
		if c < 0 {
			branch = NodeBranchLeft
		}
		s.parent, s.hasParent = nodeParent{id: id, branch: branch}, true
		ref = t.layout.ref(node, branch)
	}
}

func (t *OrderedIndex[K, V]) Get(key K) (v V, found bool) {
	s := t.Search(key)
	if !s.found {
		return v, false
	}
	return t.valCodec.Decode(t.layout.value(t.nodes.buf(s.id))), true
}

// Add inserts key if it is absent. An existing key is left untouched and
// reported through existed.
func (t *OrderedIndex[K, V]) Add(key K, value V) (existed bool, err error) {
	s := t.Search(key)
	if s.found {
		return true, nil
	}
	return false, t.addSearched(s, value)
}

// addSearched inserts the key held in keyBuf at the position found by search.
func (t *OrderedIndex[K, V]) addSearched(s Searched, value V) error {
	nb := t.nodeBuf
	copy(t.layout.key(nb), t.keyBuf)
	t.valCodec.Encode(t.layout.value(nb), value)
	t.layout.setRef(nb, NodeBranchLeft, 0)
	t.layout.setRef(nb, NodeBranchRight, 0)
	id, err := t.allocNode(nb)
	if err != nil {
		return opErr("ordered", "add", "alloc_node", err)
	}
	if !s.hasParent {
		err = t.setRoot(refOf(id))
		if err != nil {
			return opErr("ordered", "add", "header.set", errors.Join(err, t.recycleNode(id)))
		}
		return nil
	}
	t.setChild(s.parent.id, s.parent.branch, refOf(id))
	return nil
}

func (t *OrderedIndex[K, V]) allocNode(raw []byte) (uint64, error) {
	if id, ok := t.freeIds.Last(); ok {
		_, err := t.freeIds.RemoveLast()
		if err != nil {
			return 0, err
		}
		copy(t.nodes.buf(id), raw)
		return id, nil
	}
	if t.nodes.Len() >= t.layout.maxNodes() {
		return 0, ErrNodeIdOverflow
	}
	return t.nodes.addRaw(raw)
}

func (t *OrderedIndex[K, V]) recycleNode(id uint64) error {
	removed, err := t.nodes.RemoveIfLast(id)
	if err != nil || removed {
		return err
	}
	_, err = t.freeIds.Add(id)
	return err
}

// Set overwrites the value of an existing key and reports whether it existed.
func (t *OrderedIndex[K, V]) Set(key K, value V) bool {
	s := t.Search(key)
	if !s.found {
		return false
	}
	t.valCodec.Encode(t.layout.value(t.nodes.buf(s.id)), value)
	return true
}

// Remove deletes key and reports whether it was present.
func (t *OrderedIndex[K, V]) Remove(key K) (bool, error) {
	s := t.Search(key)
	if !s.found {
		return false, nil
	}
	return true, t.removeSearched(s)
}

func (t *OrderedIndex[K, V]) removeSearched(s Searched) error {
	left := t.child(s.id, NodeBranchLeft)
	right := t.child(s.id, NodeBranchRight)

	switch {
	case left == 0 || right == 0:
		survivor := left
		if left == 0 {
			survivor = right
		}
		if s.hasParent {
			t.setChild(s.parent.id, s.parent.branch, survivor)
		} else if err := t.setRoot(survivor); err != nil {
			return opErr("ordered", "remove", "header.set", err)
		}
	default:
		err := t.spliceSuccessor(s, left, right)
		if err != nil {
			return err
		}
	}
	return opErr("ordered", "remove", "recycle_node", t.recycleNode(s.id))
}

// spliceSuccessor replaces a node that has both children with its in-order
// successor, the leftmost node of its right subtree.
func (t *OrderedIndex[K, V]) spliceSuccessor(s Searched, left, right nodeRef) error {
	succParent := s.id
	succ, _ := right.id()
	// the walk can never visit more nodes than the store holds
	for steps := uint64(0); ; steps++ {
		if steps > t.nodes.Len() {
			t.logger.Error("ordered index successor walk exceeded node count", "node", s.id)
			return opErr("ordered", "remove", "successor_walk", ErrCorrupted)
		}
		next, ok := t.child(succ, NodeBranchLeft).id()
		if !ok {
			break
		}
		succParent, succ = succ, next
	}

	t.setChild(succ, NodeBranchLeft, left)
	if succParent != s.id {
		t.setChild(succParent, NodeBranchLeft, t.child(succ, NodeBranchRight))
		t.setChild(succ, NodeBranchRight, right)
	}
	if s.hasParent {
		t.setChild(s.parent.id, s.parent.branch, refOf(succ))
		return nil
	}
	if err := t.setRoot(refOf(succ)); err != nil {
		return opErr("ordered", "remove", "header.set", err)
	}
	return nil
}

// Ascend calls fn for every key in ascending order until fn returns false.
func (t *OrderedIndex[K, V]) Ascend(fn func(key K, value V) bool) {
	c := t.Cursor()
	for ok := c.First(); ok; ok = c.Next() {
		if !fn(c.Key(), c.Value()) {
			return
		}
	}
}

func (t *OrderedIndex[K, V]) Stat() ExportStat {
	return t.nodes.Stat().add(t.freeIds.Stat()).add(t.header.Stat())
}

func (t *OrderedIndex[K, V]) Sync() error {
	return errors.Join(t.nodes.Sync(), t.freeIds.Sync(), t.header.Sync())
}

func (t *OrderedIndex[K, V]) Close() error {
	var errs []error
	if t.nodes != nil {
		errs = append(errs, t.nodes.Close())
	}
	if t.freeIds != nil {
		errs = append(errs, t.freeIds.Close())
	}
	if t.header != nil {
		errs = append(errs, t.header.Close())
	}
	return errors.Join(errs...)
}
