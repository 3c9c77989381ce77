package store

import "errors"

var (
	ErrClosed           = errors.New("store is closed")
	ErrInvalidMagic     = errors.New("invalid magic number")
	ErrInvalidVersion   = errors.New("invalid format version")
	ErrSlotSizeMismatch = errors.New("slot size does not match file header")
	ErrInvalidChecksum  = errors.New("invalid checksum")
	ErrCorrupt          = errors.New("corrupt slot payload")
	ErrInvalidSlot      = errors.New("invalid slot handle")
	ErrStoreFull        = errors.New("store capacity exhausted")
	ErrValueTooLarge    = errors.New("encoded value exceeds slot size")
)
