package bindb

// Cursor walks an OrderedIndex in key order. Any Add or Remove on the
// index invalidates the cursor; position it again with First, Last or Seek.
type Cursor[K, V any] struct {
	t    *OrderedIndex[K, V]
	path stack
}

func (t *OrderedIndex[K, V]) Cursor() *Cursor[K, V] {
	return &Cursor[K, V]{t: t}
}

func (c *Cursor[K, V]) Valid() bool {
	return c.path.len() > 0
}

func (c *Cursor[K, V]) descend(ref nodeRef, branch NodeBranch) {
	for {
		id, ok := ref.id()
		if !ok {
			return
		}
		c.path.push(id)
		ref = c.t.child(id, branch)
	}
}

// First moves to the smallest key.
func (c *Cursor[K, V]) First() bool {
	c.path.reset()
	c.descend(c.t.root, NodeBranchLeft)
	return c.Valid()
}

// Last moves to the largest key.
func (c *Cursor[K, V]) Last() bool {
	c.path.reset()
	c.descend(c.t.root, NodeBranchRight)
	return c.Valid()
}

// Seek moves to the first key not less than key.
func (c *Cursor[K, V]) Seek(key K) bool {
	c.path.reset()
	c.t.keyCodec.Encode(c.t.keyBuf, key)
	candidate := -1
	ref := c.t.root
	for {
		id, ok := ref.id()
		if !ok {
			break
		}
		c.path.push(id)
		cmp := c.t.compare(c.t.keyBuf, c.t.layout.key(c.t.nodes.buf(id)))
		if cmp == 0 {
			return true
		}
		if cmp < 0 {
			candidate = c.path.len()
			ref = c.t.child(id, NodeBranchLeft)
		} else {
			ref = c.t.child(id, NodeBranchRight)
		}
	}
	if candidate < 0 {
		c.path.reset()
		return false
	}
	c.path.truncate(candidate)
	return true
}

func (c *Cursor[K, V]) step(forward NodeBranch, back NodeBranch) bool {
	cur, ok := c.path.peek()
	if !ok {
		return false
	}
	if next := c.t.child(cur, forward); next != 0 {
		id, _ := next.id()
		c.path.push(id)
		c.descend(c.t.child(id, back), back)
		return true
	}
	for {
		child, _ := c.path.pop()
		parent, ok := c.path.peek()
		if !ok {
			return false
		}
		if c.t.child(parent, back) == refOf(child) {
			return true
		}
	}
}

// Next moves to the following key and reports whether one exists.
func (c *Cursor[K, V]) Next() bool {
	return c.step(NodeBranchRight, NodeBranchLeft)
}

// Prev moves to the preceding key and reports whether one exists.
func (c *Cursor[K, V]) Prev() bool {
	return c.step(NodeBranchLeft, NodeBranchRight)
}

func (c *Cursor[K, V]) node() []byte {
	id, ok := c.path.peek()
	if !ok {
		panic("bindb: cursor is not positioned")
	}
	return c.t.nodes.buf(id)
}

func (c *Cursor[K, V]) Key() K {
	return c.t.keyCodec.Decode(c.t.layout.key(c.node()))
}

func (c *Cursor[K, V]) Value() V {
	return c.t.valCodec.Decode(c.t.layout.value(c.node()))
}
