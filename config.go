package bindb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nyan233/bindb/internal/sys"
)

const (
	suffixEntries       = "entries"
	suffixFreeLocations = "free_locations"
	suffixIndices       = "indices"
	suffixFreeIds       = "free_ids"
	suffixNodes         = "nodes"
	suffixHeader        = "header"
)

// MaxMargins are the growth chunks of each backing file. Entries counts bytes
// for dynamic stores and records for a plain FixedStore, the rest count records.
type MaxMargins struct {
	Entries       uint64
	FreeLocations uint64
	Indices       uint64
	FreeIds       uint64
	Nodes         uint64
}

// Config locates a store on disk. Files are named <RootDir>/<Name>.<suffix>.
type Config struct {
	RootDir     string
	Name        string
	MaxMargins  MaxMargins
	NodeIdWidth int
	FileMode    os.FileMode
	Logger      *slog.Logger
	Comparator  func(a, b []byte) int
}

func DefaultConfig(rootDir, name string) Config {
	c := Config{RootDir: rootDir, Name: name}
	c.FillDefaults()
	return c
}

// FillDefaults sets every zero field to its default.
func (c *Config) FillDefaults() {
	if c.MaxMargins.Entries == 0 {
		c.MaxMargins.Entries = 4096
	}
	if c.MaxMargins.FreeLocations == 0 {
		c.MaxMargins.FreeLocations = 64
	}
	if c.MaxMargins.Indices == 0 {
		c.MaxMargins.Indices = 256
	}
	if c.MaxMargins.FreeIds == 0 {
		c.MaxMargins.FreeIds = 64
	}
	if c.MaxMargins.Nodes == 0 {
		c.MaxMargins.Nodes = 256
	}
	if c.NodeIdWidth == 0 {
		c.NodeIdWidth = 8
	}
	if c.FileMode == 0 {
		c.FileMode = 0644
	}
	if c.Logger == nil {
		c.Logger = nopLogger()
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("config: name is empty")
	}
	if c.MaxMargins.Entries == 0 {
		return fmt.Errorf("config: entries margin: %w", ErrInvalidMargin)
	}
	if c.NodeIdWidth < 1 || c.NodeIdWidth > 8 {
		return fmt.Errorf("config: %w", ErrInvalidIdWidth)
	}
	return nil
}

func (c *Config) path(suffix string) string {
	return filepath.Join(c.RootDir, c.Name+"."+suffix)
}

func (c *Config) orderedIndexOptions() *OrderedIndexOptions {
	return &OrderedIndexOptions{NodeIdWidth: c.NodeIdWidth, Comparator: c.Comparator}
}

// storeFiles are the files opened for one store. fresh is set when the first
// file was absent or empty, so the store has to be created rather than opened.
type storeFiles struct {
	list  []*os.File
	fresh bool
}

func openStoreFiles(c *Config, suffixes ...string) (*storeFiles, error) {
	if c.RootDir != "" {
		if err := os.MkdirAll(c.RootDir, 0755); err != nil {
			return nil, err
		}
	}
	sf := new(storeFiles)
	for _, suffix := range suffixes {
		f, err := sys.OpenFile(c.path(suffix), c.FileMode)
		if err != nil {
			sf.close()
			return nil, err
		}
		sf.list = append(sf.list, f)
	}
	stat, err := sf.list[0].Stat()
	if err != nil {
		sf.close()
		return nil, err
	}
	sf.fresh = stat.Size() == 0
	return sf, nil
}

// close releases every file; used when store construction failed.
func (sf *storeFiles) close() {
	for _, f := range sf.list {
		_ = f.Close()
	}
}

func prepareConfig(c Config) (Config, error) {
	c.FillDefaults()
	return c, c.Validate()
}

// NewFixedStore creates or opens <Name>.entries. Its margin is MaxMargins.Entries.
func NewFixedStore[E any](c Config, codec FixedCodec[E]) (*FixedStore[E], error) {
	c, err := prepareConfig(c)
	if err != nil {
		return nil, err
	}
	sf, err := openStoreFiles(&c, suffixEntries)
	if err != nil {
		return nil, err
	}
	f := sf.list[0]
	var s *FixedStore[E]
	if sf.fresh {
		s, err = createFixedStore(f.Name(), f, codec, c.MaxMargins.Entries, c.Logger)
	} else {
		s, err = openFixedStore(f.Name(), f, codec, c.MaxMargins.Entries, c.Logger)
	}
	if err != nil {
		sf.close()
		return nil, err
	}
	return s, nil
}

func NewDynamicStore[E any](c Config, codec DynamicCodec[E]) (*DynamicStore[E], error) {
	c, err := prepareConfig(c)
	if err != nil {
		return nil, err
	}
	sf, err := openStoreFiles(&c, suffixEntries, suffixFreeLocations)
	if err != nil {
		return nil, err
	}
	files := DynamicStoreFiles{Entries: sf.list[0], FreeLocations: sf.list[1]}
	margins := DynamicStoreMargins{Entries: c.MaxMargins.Entries, FreeLocations: c.MaxMargins.FreeLocations}
	var s *DynamicStore[E]
	if sf.fresh {
		s, err = createDynamicStore(files, codec, margins, c.Logger)
	} else {
		s, err = openDynamicStore(files, codec, margins, c.Logger)
	}
	if err != nil {
		sf.close()
		return nil, err
	}
	return s, nil
}

func NewIndexedStore[E any](c Config, codec DynamicCodec[E]) (*IndexedStore[E], error) {
	c, err := prepareConfig(c)
	if err != nil {
		return nil, err
	}
	sf, err := openStoreFiles(&c, suffixEntries, suffixFreeLocations, suffixIndices, suffixFreeIds)
	if err != nil {
		return nil, err
	}
	files := IndexedStoreFiles{
		RawEntries:       sf.list[0],
		RawFreeLocations: sf.list[1],
		Indices:          sf.list[2],
		FreeIds:          sf.list[3],
	}
	margins := IndexedStoreMargins{
		RawEntries:       c.MaxMargins.Entries,
		RawFreeLocations: c.MaxMargins.FreeLocations,
		Indices:          c.MaxMargins.Indices,
		FreeIds:          c.MaxMargins.FreeIds,
	}
	var s *IndexedStore[E]
	if sf.fresh {
		s, err = createIndexedStore(files, codec, margins, c.Logger)
	} else {
		s, err = openIndexedStore(files, codec, margins, c.Logger)
	}
	if err != nil {
		sf.close()
		return nil, err
	}
	return s, nil
}

func NewOrderedIndex[K, V any](c Config, keyCodec FixedCodec[K], valCodec FixedCodec[V]) (*OrderedIndex[K, V], error) {
	c, err := prepareConfig(c)
	if err != nil {
		return nil, err
	}
	sf, err := openStoreFiles(&c, suffixHeader, suffixNodes, suffixFreeIds)
	if err != nil {
		return nil, err
	}
	files := OrderedIndexFiles{Header: sf.list[0], Nodes: sf.list[1], FreeIds: sf.list[2]}
	margins := OrderedIndexMargins{Nodes: c.MaxMargins.Nodes, FreeIds: c.MaxMargins.FreeIds}
	var t *OrderedIndex[K, V]
	if sf.fresh {
		t, err = createOrderedIndex(files, keyCodec, valCodec, margins, c.orderedIndexOptions(), c.Logger)
	} else {
		t, err = openOrderedIndex(files, keyCodec, valCodec, margins, c.orderedIndexOptions(), c.Logger)
	}
	if err != nil {
		sf.close()
		return nil, err
	}
	return t, nil
}

// NewSingleValue opens <Name>.header, writing init when the file is new.
func NewSingleValue[T any](c Config, codec DynamicCodec[T], init T) (*SingleValue[T], error) {
	c, err := prepareConfig(c)
	if err != nil {
		return nil, err
	}
	sf, err := openStoreFiles(&c, suffixHeader)
	if err != nil {
		return nil, err
	}
	f := sf.list[0]
	var s *SingleValue[T]
	if sf.fresh {
		s, err = createSingleValue(f.Name(), f, codec, init, c.Logger)
	} else {
		s, err = openSingleValue(f.Name(), f, codec, c.Logger)
	}
	if err != nil {
		sf.close()
		return nil, err
	}
	return s, nil
}
