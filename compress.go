package bindb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type CompressionType uint8

const (
	CompressionNone CompressionType = 0
	// CompressionLZ4 is fast block compression for hot records.
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD trades speed for ratio.
	CompressionZSTD CompressionType = 2
)

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(t))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compressBlock returns the payload and the type actually used. Data that
// does not shrink by at least a tenth is stored raw.
func compressBlock(dst, data []byte, typ CompressionType) ([]byte, CompressionType, error) {
	var compressed []byte
	switch typ {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, ErrUnknownCompression
	}
	if len(compressed) == 0 || len(compressed)*10 > len(data)*9 {
		return append(dst, data...), CompressionNone, nil
	}
	return append(dst, compressed...), typ, nil
}

func decompressBlock(data []byte, typ CompressionType, rawLen int) ([]byte, error) {
	switch typ {
	case CompressionNone:
		if len(data) != rawLen {
			return nil, ErrCorrupted
		}
		return data, nil
	case CompressionLZ4:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, raw)
		if err != nil {
			return nil, err
		}
		if n != rawLen {
			return nil, ErrCorrupted
		}
		return raw, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(raw) != rawLen {
			return nil, ErrCorrupted
		}
		return raw, nil
	default:
		return nil, ErrUnknownCompression
	}
}

// compressedHeaderLen covers [len:u64][type:u8][raw_len:u64].
const compressedHeaderLen = lenPrefixSize + 1 + 8

// CompressedCodec compresses the output of another dynamic codec.
//
// Frame: [len:u64][type:u8][raw_len:u64][payload]
//
// Len has to compress to learn the size, so the frame built by the last Len
// call is kept and reused by an Encode of the same value. A CompressedCodec is
// not safe for concurrent use.
type CompressedCodec[T any] struct {
	inner DynamicCodec[T]
	typ   CompressionType
	raw   []byte
	frame []byte
}

func NewCompressedCodec[T any](inner DynamicCodec[T], typ CompressionType) (*CompressedCodec[T], error) {
	if typ > CompressionZSTD {
		return nil, ErrUnknownCompression
	}
	return &CompressedCodec[T]{inner: inner, typ: typ}, nil
}

func (c *CompressedCodec[T]) encodeInner(v T) []byte {
	n := c.inner.Len(v)
	raw := make([]byte, n)
	c.inner.Encode(raw, v)
	return raw
}

// build returns the full frame of v, reusing the last one when the inner
// encoding matches.
func (c *CompressedCodec[T]) build(v T) []byte {
	raw := c.encodeInner(v)
	if c.frame != nil && bytes.Equal(raw, c.raw) {
		return c.frame
	}
	frame := make([]byte, compressedHeaderLen, compressedHeaderLen+len(raw))
	frame, typ, err := compressBlock(frame, raw, c.typ)
	if err != nil {
		panic(fmt.Errorf("bindb: %s compress failed: %w", c.typ, err))
	}
	putLenPrefix(frame, len(frame)-lenPrefixSize)
	frame[lenPrefixSize] = byte(typ)
	binary.LittleEndian.PutUint64(frame[lenPrefixSize+1:], uint64(len(raw)))
	c.raw, c.frame = raw, frame
	return frame
}

func (c *CompressedCodec[T]) Len(v T) int {
	return len(c.build(v))
}

func (c *CompressedCodec[T]) BufLen(buf []byte) int {
	return lenPrefix(buf)
}

func (c *CompressedCodec[T]) Encode(buf []byte, v T) int {
	return copy(buf, c.build(v))
}

// Decode panics on a frame that does not decompress, the codec contract has
// no error path.
func (c *CompressedCodec[T]) Decode(buf []byte) (T, int) {
	n := lenPrefix(buf)
	typ := CompressionType(buf[lenPrefixSize])
	rawLen := int(binary.LittleEndian.Uint64(buf[lenPrefixSize+1:]))
	raw, err := decompressBlock(buf[compressedHeaderLen:n], typ, rawLen)
	if err != nil {
		panic(fmt.Errorf("bindb: %s decompress failed: %w", typ, err))
	}
	v, _ := c.inner.Decode(raw)
	return v, n
}
