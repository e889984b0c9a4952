package main

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/nyan233/bindb"
)

type user struct {
	Name string `json:"name"`
	Age  uint32 `json:"age"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	// files are created under dbset/ on the first run and reopened afterwards
	users, err := bindb.NewIndexedStore(bindb.Config{
		RootDir: "dbset",
		Name:    "users",
		Logger:  logger,
	}, bindb.DynamicCodec[user](bindb.JsonTypeCodec[user]{}))
	if err != nil {
		panic(err)
	}
	defer users.Close()
	byAge, err := bindb.NewOrderedIndex(bindb.Config{
		RootDir: "dbset",
		Name:    "users_by_age",
		Logger:  logger,
	}, bindb.FixedCodec[uint32](bindb.Uint32Codec{}), bindb.FixedCodec[uint64](bindb.Uint64Codec{}))
	if err != nil {
		panic(err)
	}
	defer byAge.Close()

	for i := 0; i < 64; i++ {
		u := user{Name: fmt.Sprintf("user-%d", i), Age: rand.Uint32N(100)}
		s := byAge.Search(u.Age)
		if s.Found() {
			continue
		}
		id, err := users.Add(u)
		if err != nil {
			panic(err)
		}
		if _, err = byAge.Add(u.Age, id); err != nil {
			panic(fmt.Errorf("index user %d: %w", id, err))
		}
	}

	c := byAge.Cursor()
	for ok := c.Seek(18); ok; ok = c.Next() {
		u := users.Get(c.Value())
		fmt.Printf("age=%d name=%s\n", c.Key(), u.Name)
	}

	// drop everyone younger than 18
	for ok := c.First(); ok && c.Key() < 18; ok = c.First() {
		age, id := c.Key(), c.Value()
		if err = users.Remove(id); err != nil {
			panic(err)
		}
		if _, err = byAge.Remove(age); err != nil {
			panic(err)
		}
	}
	fmt.Printf("users=%d index=%d\n", users.Len(), byAge.Len())
	if err = byAge.Check(); err != nil {
		panic(err)
	}
	if err = users.Check(); err != nil {
		panic(err)
	}
}
