package bindb

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	c := DefaultConfig("testdata", "store")
	require.NoError(t, c.Validate())
	require.Equal(t, 8, c.NodeIdWidth)
	require.Equal(t, filepath.Join("testdata", "store.free_ids"), c.path(suffixFreeIds))

	c.NodeIdWidth = 12
	require.ErrorIs(t, c.Validate(), ErrInvalidIdWidth)
	require.Error(t, (&Config{}).Validate())
}

func TestNewStores(t *testing.T) {
	t.Run("IndexedStore", func(t *testing.T) {
		c := Config{RootDir: filepath.Join(t.TempDir(), "db"), Name: "users"}
		s, err := NewIndexedStore(c, DynamicCodec[string](StringCodec{}))
		require.NoError(t, err)
		id, err := s.Add("alice")
		require.NoError(t, err)
		require.NoError(t, s.Close())

		for _, suffix := range []string{suffixEntries, suffixFreeLocations, suffixIndices, suffixFreeIds} {
			_, err = os.Stat(filepath.Join(c.RootDir, "users."+suffix))
			require.NoError(t, err)
		}
		s, err = NewIndexedStore(c, DynamicCodec[string](StringCodec{}))
		require.NoError(t, err)
		defer s.Close()
		require.Equal(t, "alice", s.Get(id))
	})
	t.Run("OrderedIndex", func(t *testing.T) {
		c := Config{RootDir: t.TempDir(), Name: "by_age", NodeIdWidth: 4}
		tree, err := NewOrderedIndex(c, FixedCodec[uint32](Uint32Codec{}), FixedCodec[uint64](Uint64Codec{}))
		require.NoError(t, err)
		for _, k := range []uint32{30, 10, 20} {
			_, err = tree.Add(k, uint64(k)+1)
			require.NoError(t, err)
		}
		require.Equal(t, 4+8+2*4, tree.layout.size())
		require.NoError(t, tree.Close())

		tree, err = NewOrderedIndex(c, FixedCodec[uint32](Uint32Codec{}), FixedCodec[uint64](Uint64Codec{}))
		require.NoError(t, err)
		defer tree.Close()
		require.Equal(t, []uint32{10, 20, 30}, treeKeys(tree))
		v, found := tree.Get(20)
		require.True(t, found)
		require.Equal(t, uint64(21), v)
	})
	t.Run("FixedAndDynamic", func(t *testing.T) {
		dir := t.TempDir()
		fs, err := NewFixedStore(Config{RootDir: dir, Name: "fixed"}, FixedCodec[uint64](Uint64Codec{}))
		require.NoError(t, err)
		_, err = fs.Add(42)
		require.NoError(t, err)
		require.NoError(t, fs.Close())
		fs, err = NewFixedStore(Config{RootDir: dir, Name: "fixed"}, FixedCodec[uint64](Uint64Codec{}))
		require.NoError(t, err)
		require.Equal(t, uint64(42), fs.Get(0))
		require.NoError(t, fs.Close())

		ds, err := NewDynamicStore(Config{RootDir: dir, Name: "dynamic"}, DynamicCodec[[]byte](BytesCodec{}))
		require.NoError(t, err)
		id, err := ds.Add([]byte("payload"))
		require.NoError(t, err)
		require.NoError(t, ds.Close())
		ds, err = NewDynamicStore(Config{RootDir: dir, Name: "dynamic"}, DynamicCodec[[]byte](BytesCodec{}))
		require.NoError(t, err)
		defer ds.Close()
		require.Equal(t, []byte("payload"), ds.Get(id))
	})
	t.Run("SingleValue", func(t *testing.T) {
		c := Config{RootDir: t.TempDir(), Name: "meta"}
		sv, err := NewSingleValue(c, DynamicCodec[string](StringCodec{}), "v1")
		require.NoError(t, err)
		require.NoError(t, sv.Set("v2"))
		require.NoError(t, sv.Close())
		sv, err = NewSingleValue(c, DynamicCodec[string](StringCodec{}), "ignored")
		require.NoError(t, err)
		defer sv.Close()
		require.Equal(t, "v2", sv.Get())
	})
	t.Run("Logger", func(t *testing.T) {
		var out bytes.Buffer
		c := Config{
			RootDir:    t.TempDir(),
			Name:       "logged",
			MaxMargins: MaxMargins{Entries: 2},
			Logger:     slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug})),
		}
		fs, err := NewFixedStore(c, FixedCodec[uint64](Uint64Codec{}))
		require.NoError(t, err)
		defer fs.Close()
		_, err = fs.Add(1)
		require.NoError(t, err)
		require.Contains(t, out.String(), "mapped file resized")
		require.Contains(t, out.String(), "logged.entries")
	})
	t.Run("InvalidConfig", func(t *testing.T) {
		_, err := NewIndexedStore(Config{RootDir: t.TempDir()}, DynamicCodec[string](StringCodec{}))
		require.Error(t, err)
	})
}
