package bindb_test

import (
	"fmt"
	"os"

	"github.com/nyan233/bindb"
)

func ExampleNewOrderedIndex() {
	dir, err := os.MkdirTemp("", "bindb-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	tree, err := bindb.NewOrderedIndex(bindb.Config{RootDir: dir, Name: "scores"},
		bindb.FixedCodec[uint64](bindb.Uint64Codec{}), bindb.FixedCodec[int64](bindb.Int64Codec{}))
	if err != nil {
		panic(err)
	}
	defer tree.Close()

	for _, k := range []uint64{584, 103, 900} {
		if _, err = tree.Add(k, -int64(k)); err != nil {
			panic(err)
		}
	}
	existed, _ := tree.Add(103, 0)
	fmt.Println("existed:", existed)
	if _, err = tree.Remove(584); err != nil {
		panic(err)
	}
	tree.Ascend(func(key uint64, value int64) bool {
		fmt.Println(key, value)
		return true
	})
	// Output:
	// existed: true
	// 103 -103
	// 900 -900
}

func ExampleNewIndexedStore() {
	dir, err := os.MkdirTemp("", "bindb-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	s, err := bindb.NewIndexedStore(bindb.Config{RootDir: dir, Name: "notes"}, bindb.DynamicCodec[string](bindb.StringCodec{}))
	if err != nil {
		panic(err)
	}
	defer s.Close()

	a, _ := s.Add("first")
	b, _ := s.Add("second")
	_ = s.Remove(a)
	c, _ := s.Add("third")
	fmt.Println(b, s.Get(b))
	fmt.Println(c == a, s.Get(c))
	// Output:
	// 1 second
	// true third
}
