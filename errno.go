package bindb

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMargin      = errors.New("max margin must be greater than zero")
	ErrInvalidIdWidth     = errors.New("node id width must be within [1, 8]")
	ErrHeaderTruncated    = errors.New("file is shorter than its header")
	ErrClosed             = errors.New("store is closed")
	ErrNodeIdOverflow     = errors.New("node id does not fit the configured id width")
	ErrCorrupted          = errors.New("store is corrupted")
	ErrLayoutMismatch     = errors.New("node layout differs from the one the index was created with")
	ErrUnknownCompression = errors.New("unknown compression type")
	ErrCiphertextShort    = errors.New("ciphertext too short")
)

// OpError records the store, operation and failing sub-step of a composed operation.
type OpError struct {
	Store string
	Op    string
	Step  string
	Err   error
}

func (e *OpError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s %s: %v", e.Store, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Store, e.Op, e.Step, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(store, op, step string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Store: store, Op: op, Step: step, Err: err}
}

func invalidId(id uint64) {
	panic(fmt.Sprintf("bindb: invalid id %d", id))
}
