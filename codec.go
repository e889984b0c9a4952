package bindb

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// FixedCodec encodes values that always occupy Size bytes.
type FixedCodec[T any] interface {
	Size() int
	Encode(buf []byte, v T)
	Decode(buf []byte) T
}

// DynamicCodec encodes self-delimiting values. Len is the full encoded size
// including framing, BufLen recovers it from the framing alone.
type DynamicCodec[T any] interface {
	Len(v T) int
	BufLen(buf []byte) int
	Encode(buf []byte, v T) int
	Decode(buf []byte) (T, int)
}

// Comparer orders two encoded keys.
type Comparer interface {
	Compare(a, b []byte) int
}

var (
	_ FixedCodec[uint64]     = Uint64Codec{}
	_ FixedCodec[uint32]     = Uint32Codec{}
	_ FixedCodec[int64]      = Int64Codec{}
	_ FixedCodec[[]byte]     = ArrayCodec{}
	_ DynamicCodec[*uint64]  = OptionUint64Codec{}
	_ DynamicCodec[[]byte]   = BytesCodec{}
	_ DynamicCodec[string]   = StringCodec{}
	_ DynamicCodec[[]string] = JsonTypeCodec[[]string]{}
	_ Comparer               = Uint64Codec{}
	_ Comparer               = Int64Codec{}
	_ Comparer               = ArrayCodec{}
)

type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func (Uint64Codec) Compare(a, b []byte) int {
	return cmp.Compare(binary.LittleEndian.Uint64(a), binary.LittleEndian.Uint64(b))
}

type Uint32Codec struct{}

func (Uint32Codec) Size() int { return 4 }

func (Uint32Codec) Encode(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

func (Uint32Codec) Decode(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func (Uint32Codec) Compare(a, b []byte) int {
	return cmp.Compare(binary.LittleEndian.Uint32(a), binary.LittleEndian.Uint32(b))
}

type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(buf []byte, v int64) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}

func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

func (Int64Codec) Compare(a, b []byte) int {
	return cmp.Compare(int64(binary.LittleEndian.Uint64(a)), int64(binary.LittleEndian.Uint64(b)))
}

// ArrayCodec stores byte strings of exactly N bytes, zero padded on encode.
// Keys compare lexicographically.
type ArrayCodec struct {
	N int
}

func (c ArrayCodec) Size() int { return c.N }

func (c ArrayCodec) Encode(buf []byte, v []byte) {
	n := copy(buf[:c.N], v)
	clear(buf[n:c.N])
}

func (c ArrayCodec) Decode(buf []byte) []byte {
	return bytes.Clone(buf[:c.N])
}

func (ArrayCodec) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// OptionUint64Codec encodes a nullable uint64 as a one byte tag followed by the value.
type OptionUint64Codec struct{}

const optionUint64Len = 9

func (OptionUint64Codec) Len(*uint64) int { return optionUint64Len }

func (OptionUint64Codec) BufLen([]byte) int { return optionUint64Len }

func (c OptionUint64Codec) Encode(buf []byte, v *uint64) int {
	if v == nil {
		clear(buf[:optionUint64Len])
		return optionUint64Len
	}
	buf[0] = 1
	binary.LittleEndian.PutUint64(buf[1:], *v)
	return optionUint64Len
}

func (c OptionUint64Codec) Decode(buf []byte) (*uint64, int) {
	if buf[0] != 1 {
		return nil, optionUint64Len
	}
	v := binary.LittleEndian.Uint64(buf[1:])
	return &v, optionUint64Len
}

const lenPrefixSize = 8

func putLenPrefix(buf []byte, n int) {
	binary.LittleEndian.PutUint64(buf, uint64(n))
}

func lenPrefix(buf []byte) int {
	return int(binary.LittleEndian.Uint64(buf)) + lenPrefixSize
}

// BytesCodec frames a byte slice with a u64 length prefix.
type BytesCodec struct{}

func (BytesCodec) Len(v []byte) int { return lenPrefixSize + len(v) }

func (BytesCodec) BufLen(buf []byte) int { return lenPrefix(buf) }

func (BytesCodec) Encode(buf []byte, v []byte) int {
	putLenPrefix(buf, len(v))
	return lenPrefixSize + copy(buf[lenPrefixSize:], v)
}

// Decode copies the payload out of buf so it stays valid across remaps.
func (BytesCodec) Decode(buf []byte) ([]byte, int) {
	n := lenPrefix(buf)
	return bytes.Clone(buf[lenPrefixSize:n]), n
}

type StringCodec struct{}

func (StringCodec) Len(v string) int { return lenPrefixSize + len(v) }

func (StringCodec) BufLen(buf []byte) int { return lenPrefix(buf) }

func (StringCodec) Encode(buf []byte, v string) int {
	putLenPrefix(buf, len(v))
	return lenPrefixSize + copy(buf[lenPrefixSize:], v)
}

func (StringCodec) Decode(buf []byte) (string, int) {
	n := lenPrefix(buf)
	return string(buf[lenPrefixSize:n]), n
}

// JsonTypeCodec stores values as length-prefixed JSON. Values that fail to
// marshal panic on Len, so only use it with types json can always encode.
type JsonTypeCodec[T any] struct{}

func (j JsonTypeCodec[T]) marshal(v T) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json codec marshal failed: %w", err))
	}
	return b
}

func (j JsonTypeCodec[T]) Len(v T) int { return lenPrefixSize + len(j.marshal(v)) }

func (JsonTypeCodec[T]) BufLen(buf []byte) int { return lenPrefix(buf) }

func (j JsonTypeCodec[T]) Encode(buf []byte, v T) int {
	b := j.marshal(v)
	putLenPrefix(buf, len(b))
	return lenPrefixSize + copy(buf[lenPrefixSize:], b)
}

func (JsonTypeCodec[T]) Decode(buf []byte) (v T, n int) {
	n = lenPrefix(buf)
	if err := json.Unmarshal(buf[lenPrefixSize:n], &v); err != nil {
		panic(fmt.Errorf("json codec unmarshal failed: %w", err))
	}
	return v, n
}
