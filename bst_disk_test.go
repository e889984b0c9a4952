package bindb

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func orderedTestFiles(t *testing.T, dir string) OrderedIndexFiles {
	files := openTestFiles(t, dir, "tree.nodes", "tree.free_ids", "tree.header")
	return OrderedIndexFiles{Nodes: files[0], FreeIds: files[1], Header: files[2]}
}

var testOrderedMargins = OrderedIndexMargins{Nodes: 16, FreeIds: 4}

func createTestTree(t *testing.T, dir string, opt *OrderedIndexOptions) *OrderedIndex[uint64, uint64] {
	tree, err := CreateOrderedIndex(orderedTestFiles(t, dir), FixedCodec[uint64](Uint64Codec{}), FixedCodec[uint64](Uint64Codec{}), testOrderedMargins, opt)
	require.NoError(t, err)
	return tree
}

func addKeys(t *testing.T, tree *OrderedIndex[uint64, uint64], keys ...uint64) {
	for _, k := range keys {
		existed, err := tree.Add(k, k*10)
		require.NoError(t, err)
		require.False(t, existed)
	}
}

func treeKeys[K, V any](tree *OrderedIndex[K, V]) []K {
	var keys []K
	tree.Ascend(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// childKey returns the key of the child of the node holding key.
func childKey(t *testing.T, tree *OrderedIndex[uint64, uint64], key uint64, branch NodeBranch) (uint64, bool) {
	id, ok := tree.Search(key).Id()
	require.True(t, ok)
	childId, ok := tree.child(id, branch).id()
	if !ok {
		return 0, false
	}
	return tree.nodesCodec().Decode(tree.nodes.Bytes(childId)).key, true
}

func rootKey(t *testing.T, tree *OrderedIndex[uint64, uint64]) uint64 {
	id, ok := tree.RootId()
	require.True(t, ok)
	return tree.nodesCodec().Decode(tree.nodes.Bytes(id)).key
}

func TestOrderedIndex(t *testing.T) {
	t.Run("RemoveRootWithLeftChild", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 584, 103)

		s := tree.Search(103)
		parent, branch, ok := s.Parent()
		require.True(t, ok)
		require.Equal(t, uint64(0), parent)
		require.Equal(t, NodeBranchLeft, branch)

		removed, err := tree.Remove(584)
		require.NoError(t, err)
		require.True(t, removed)
		require.Equal(t, uint64(103), rootKey(t, tree))
		_, found := tree.Get(584)
		require.False(t, found)
		v, found := tree.Get(103)
		require.True(t, found)
		require.Equal(t, uint64(1030), v)
		require.NoError(t, tree.Check())
	})
	t.Run("DuplicateAdd", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 7)
		existed, err := tree.Add(7, 1)
		require.NoError(t, err)
		require.True(t, existed)
		v, _ := tree.Get(7)
		require.Equal(t, uint64(70), v)
		require.Equal(t, uint64(1), tree.Len())
	})
	t.Run("RemoveLeafAndSingleChild", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 50, 30, 20, 70)

		removed, err := tree.Remove(30)
		require.NoError(t, err)
		require.True(t, removed)
		left, ok := childKey(t, tree, 50, NodeBranchLeft)
		require.True(t, ok)
		require.Equal(t, uint64(20), left)

		removed, err = tree.Remove(70)
		require.NoError(t, err)
		require.True(t, removed)
		_, ok = childKey(t, tree, 50, NodeBranchRight)
		require.False(t, ok)

		removed, err = tree.Remove(70)
		require.NoError(t, err)
		require.False(t, removed)

		removed, err = tree.Remove(50)
		require.NoError(t, err)
		require.True(t, removed)
		require.Equal(t, uint64(20), rootKey(t, tree))
		removed, err = tree.Remove(20)
		require.NoError(t, err)
		require.True(t, removed)
		_, ok = tree.RootId()
		require.False(t, ok)
		require.Zero(t, tree.Len())
		require.NoError(t, tree.Check())
	})
	t.Run("SuccessorIsRightChild", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 50, 30, 70, 80)
		_, err := tree.Remove(50)
		require.NoError(t, err)
		require.Equal(t, uint64(70), rootKey(t, tree))
		left, _ := childKey(t, tree, 70, NodeBranchLeft)
		right, _ := childKey(t, tree, 70, NodeBranchRight)
		require.Equal(t, uint64(30), left)
		require.Equal(t, uint64(80), right)
		require.Equal(t, []uint64{30, 70, 80}, treeKeys(tree))
		require.NoError(t, tree.Check())
	})
	t.Run("SuccessorDeepInRightSubtree", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 40, 50, 30, 45, 70, 60, 65, 80)
		_, err := tree.Remove(50)
		require.NoError(t, err)

		right, _ := childKey(t, tree, 40, NodeBranchRight)
		require.Equal(t, uint64(60), right)
		sl, _ := childKey(t, tree, 60, NodeBranchLeft)
		require.Equal(t, uint64(45), sl)
		sr, _ := childKey(t, tree, 60, NodeBranchRight)
		require.Equal(t, uint64(70), sr)
		promoted, _ := childKey(t, tree, 70, NodeBranchLeft)
		require.Equal(t, uint64(65), promoted)
		require.Equal(t, []uint64{30, 40, 45, 60, 65, 70, 80}, treeKeys(tree))
		require.NoError(t, tree.Check())
	})
	t.Run("NodeIdRecycling", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 5, 3, 8, 1, 4)
		_, err := tree.Remove(3)
		require.NoError(t, err)
		_, err = tree.Remove(8)
		require.NoError(t, err)
		require.Equal(t, uint64(5), tree.nodes.Len())
		require.Equal(t, uint64(2), tree.freeIds.Len())

		addKeys(t, tree, 9, 2)
		require.Equal(t, uint64(5), tree.nodes.Len())
		require.Zero(t, tree.freeIds.Len())
		require.Equal(t, []uint64{1, 2, 4, 5, 9}, treeKeys(tree))

		// the last node id shrinks the node store directly
		_, err = tree.Remove(4)
		require.NoError(t, err)
		require.Equal(t, uint64(4), tree.nodes.Len())
		require.NoError(t, tree.Check())
	})
	t.Run("RandomChurn", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		shadow := make(map[uint64]uint64)
		for i := 0; i < 5000; i++ {
			k := rand.Uint64N(512)
			if rand.IntN(5) < 3 {
				existed, err := tree.Add(k, i2u(i))
				require.NoError(t, err)
				_, had := shadow[k]
				require.Equal(t, had, existed)
				if !had {
					shadow[k] = i2u(i)
				}
			} else {
				removed, err := tree.Remove(k)
				require.NoError(t, err)
				_, had := shadow[k]
				require.Equal(t, had, removed)
				delete(shadow, k)
			}
			if i%500 == 0 {
				require.NoError(t, tree.Check())
			}
		}
		require.NoError(t, tree.Check())
		require.Equal(t, uint64(len(shadow)), tree.Len())
		want := make([]uint64, 0, len(shadow))
		for k, v := range shadow {
			want = append(want, k)
			got, found := tree.Get(k)
			require.True(t, found)
			require.Equal(t, v, got)
		}
		slices.Sort(want)
		require.Equal(t, want, treeKeys(tree))
	})
	t.Run("Set", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		addKeys(t, tree, 1, 2)
		require.True(t, tree.Set(2, 99))
		require.False(t, tree.Set(3, 99))
		v, _ := tree.Get(2)
		require.Equal(t, uint64(99), v)
	})
	t.Run("Reopen", func(t *testing.T) {
		dir := t.TempDir()
		tree := createTestTree(t, dir, nil)
		addKeys(t, tree, 10, 5, 15, 12)
		_, err := tree.Remove(10)
		require.NoError(t, err)
		require.NoError(t, tree.Sync())
		require.NoError(t, tree.Close())

		tree, err = OpenOrderedIndex(orderedTestFiles(t, dir), FixedCodec[uint64](Uint64Codec{}), FixedCodec[uint64](Uint64Codec{}), testOrderedMargins, nil)
		require.NoError(t, err)
		defer tree.Close()
		require.Equal(t, uint64(12), rootKey(t, tree))
		require.Equal(t, []uint64{5, 12, 15}, treeKeys(tree))
		addKeys(t, tree, 11)
		require.Equal(t, uint64(4), tree.nodes.Len())
		require.NoError(t, tree.Check())
	})
	t.Run("NodeIdWidth", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), &OrderedIndexOptions{NodeIdWidth: 1})
		defer tree.Close()
		require.Equal(t, 8+8+2, tree.layout.size())
		for k := uint64(0); k < 255; k++ {
			_, err := tree.Add(k, k)
			require.NoError(t, err)
		}
		_, err := tree.Add(255, 255)
		require.ErrorIs(t, err, ErrNodeIdOverflow)
		_, err = tree.Remove(100)
		require.NoError(t, err)
		existed, err := tree.Add(255, 255)
		require.NoError(t, err)
		require.False(t, existed)
		require.NoError(t, tree.Check())

		files := orderedTestFiles(t, t.TempDir())
		defer files.Nodes.Close()
		defer files.FreeIds.Close()
		defer files.Header.Close()
		_, err = CreateOrderedIndex(files, FixedCodec[uint64](Uint64Codec{}), FixedCodec[uint64](Uint64Codec{}), testOrderedMargins, &OrderedIndexOptions{NodeIdWidth: 9})
		require.ErrorIs(t, err, ErrInvalidIdWidth)
	})
	t.Run("LayoutMismatch", func(t *testing.T) {
		dir := t.TempDir()
		tree := createTestTree(t, dir, &OrderedIndexOptions{NodeIdWidth: 4})
		addKeys(t, tree, 7, 3, 9)
		require.NoError(t, tree.Close())

		_, err := OpenOrderedIndex(orderedTestFiles(t, dir), FixedCodec[uint64](Uint64Codec{}), FixedCodec[uint64](Uint64Codec{}), testOrderedMargins, nil)
		require.ErrorIs(t, err, ErrLayoutMismatch)
		_, err = OpenOrderedIndex(orderedTestFiles(t, dir), FixedCodec[uint64](Uint64Codec{}), FixedCodec[uint32](Uint32Codec{}), testOrderedMargins, &OrderedIndexOptions{NodeIdWidth: 4})
		require.ErrorIs(t, err, ErrLayoutMismatch)

		tree, err = OpenOrderedIndex(orderedTestFiles(t, dir), FixedCodec[uint64](Uint64Codec{}), FixedCodec[uint64](Uint64Codec{}), testOrderedMargins, &OrderedIndexOptions{NodeIdWidth: 4})
		require.NoError(t, err)
		defer tree.Close()
		require.Equal(t, uint64(7), rootKey(t, tree))
		require.Equal(t, []uint64{3, 7, 9}, treeKeys(tree))
		require.NoError(t, tree.Check())
	})
	t.Run("FailedRootUpdate", func(t *testing.T) {
		tree := createTestTree(t, t.TempDir(), nil)
		defer tree.Close()
		require.NoError(t, tree.header.Close())

		_, err := tree.Add(1, 10)
		require.ErrorIs(t, err, ErrClosed)
		_, ok := tree.RootId()
		require.False(t, ok)
		require.Zero(t, tree.nodes.Len())
		require.Zero(t, tree.freeIds.Len())
	})
	t.Run("Comparator", func(t *testing.T) {
		reverse := func(a, b []byte) int { return Uint64Codec{}.Compare(b, a) }
		tree := createTestTree(t, t.TempDir(), &OrderedIndexOptions{Comparator: reverse})
		defer tree.Close()
		addKeys(t, tree, 1, 3, 2)
		require.Equal(t, []uint64{3, 2, 1}, treeKeys(tree))
		require.NoError(t, tree.Check())
	})
}

func i2u(i int) uint64 {
	return uint64(i)
}

func TestCursor(t *testing.T) {
	tree := createTestTree(t, t.TempDir(), nil)
	defer tree.Close()
	addKeys(t, tree, 50, 20, 80, 10, 30, 70, 90, 25)

	c := tree.Cursor()
	require.False(t, c.Valid())
	var keys []uint64
	for ok := c.Last(); ok; ok = c.Prev() {
		keys = append(keys, c.Key())
	}
	require.Equal(t, []uint64{90, 80, 70, 50, 30, 25, 20, 10}, keys)
	require.False(t, c.Valid())

	require.True(t, c.Seek(26))
	require.Equal(t, uint64(30), c.Key())
	require.Equal(t, uint64(300), c.Value())
	require.True(t, c.Next())
	require.Equal(t, uint64(50), c.Key())
	require.True(t, c.Prev())
	require.True(t, c.Prev())
	require.Equal(t, uint64(25), c.Key())

	require.True(t, c.Seek(70))
	require.Equal(t, uint64(70), c.Key())
	require.False(t, c.Seek(91))
	require.Panics(t, func() { c.Key() })

	require.True(t, c.First())
	require.Equal(t, uint64(10), c.Key())
	require.False(t, c.Prev())
}
