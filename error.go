package blinkmap

import (
	"errors"

	"blinkmap/internal/store"
)

var (
	ErrTreeClosed = errors.New("tree is not open")
	ErrNotFound   = errors.New("key or value not found")

	ErrKeyEmpty      = errors.New("key cannot be empty")
	ErrKeyTooLarge   = errors.New("key too large")
	ErrValueTooLarge = errors.New("value too large")

	// ErrInvariant marks a structural invariant failure. It indicates a
	// logic fault or on-disk damage, not a recoverable runtime condition.
	ErrInvariant = errors.New("tree invariant violated")

	ErrInvalidMagicNumber = store.ErrInvalidMagic
	ErrInvalidVersion     = store.ErrInvalidVersion
	ErrInvalidChecksum    = store.ErrInvalidChecksum
	ErrCorruption         = store.ErrCorrupt
	ErrStoreFull          = store.ErrStoreFull
)
