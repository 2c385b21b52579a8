package core

import (
	"errors"
	"fmt"
)

var (
	// ErrPortUnavailable is the parent of every external capability failure.
	// Callers recover locally and never surface it to the user.
	ErrPortUnavailable = errors.New("port unavailable")

	ErrEmbeddingUnavailable = fmt.Errorf("embedding %w", ErrPortUnavailable)
	ErrRerankUnavailable    = fmt.Errorf("rerank %w", ErrPortUnavailable)
	ErrModelUnavailable     = fmt.Errorf("model %w", ErrPortUnavailable)

	// ErrNotFound is returned by store operations on a missing id.
	ErrNotFound = errors.New("not found")

	// ErrCorruptSnapshot is returned alongside an empty value when a
	// persisted snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// dimension of the store.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Unavailable tags err with a port sentinel unless it already carries one.
func Unavailable(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
