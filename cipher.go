package bindb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// Cipher seals records at rest. The sealed length only depends on the
// plaintext length.
type Cipher interface {
	Overhead() int
	Encrypt(dst, plaintext []byte) []byte
	Decrypt(dst, ciphertext []byte) ([]byte, error)
}

type aesCipher struct {
	aead cipher.AEAD
}

// NewAesCipher builds an AES-GCM cipher; key must be 16, 24 or 32 bytes.
func NewAesCipher(key []byte) (Cipher, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}
	return &aesCipher{aead: aead}, nil
}

func (a *aesCipher) Overhead() int {
	return a.aead.NonceSize() + a.aead.Overhead()
}

// Encrypt appends nonce and sealed plaintext to dst.
func (a *aesCipher) Encrypt(dst, plaintext []byte) []byte {
	nonceSize := a.aead.NonceSize()
	start := len(dst)
	dst = append(dst, make([]byte, nonceSize)...)
	nonce := dst[start : start+nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		panic(fmt.Errorf("bindb: read nonce: %w", err))
	}
	return a.aead.Seal(dst, nonce, plaintext, nil)
}

func (a *aesCipher) Decrypt(dst, ciphertext []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	if len(ciphertext) < nonceSize+a.aead.Overhead() {
		return nil, ErrCiphertextShort
	}
	return a.aead.Open(dst, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
}

// CipherCodec encrypts the output of another dynamic codec.
//
// Frame: [len:u64][nonce][sealed payload]
type CipherCodec[T any] struct {
	inner  DynamicCodec[T]
	cipher Cipher
}

func NewCipherCodec[T any](inner DynamicCodec[T], c Cipher) *CipherCodec[T] {
	return &CipherCodec[T]{inner: inner, cipher: c}
}

func (c *CipherCodec[T]) Len(v T) int {
	return lenPrefixSize + c.cipher.Overhead() + c.inner.Len(v)
}

func (c *CipherCodec[T]) BufLen(buf []byte) int {
	return lenPrefix(buf)
}

func (c *CipherCodec[T]) Encode(buf []byte, v T) int {
	raw := make([]byte, c.inner.Len(v))
	c.inner.Encode(raw, v)
	sealed := c.cipher.Encrypt(buf[lenPrefixSize:lenPrefixSize], raw)
	putLenPrefix(buf, len(sealed))
	return lenPrefixSize + len(sealed)
}

// Decode panics when the record fails authentication.
func (c *CipherCodec[T]) Decode(buf []byte) (T, int) {
	n := lenPrefix(buf)
	raw, err := c.cipher.Decrypt(nil, buf[lenPrefixSize:n])
	if err != nil {
		panic(fmt.Errorf("bindb: decrypt record: %w", err))
	}
	v, _ := c.inner.Decode(raw)
	return v, n
}
