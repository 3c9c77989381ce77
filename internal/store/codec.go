package store

import "encoding/binary"

// Bytes is a Codec for variable-length byte strings up to Max bytes,
// length-prefixed inside a fixed slot.
type Bytes struct {
	Max int
}

func (b Bytes) Size() int { return 2 + b.Max }

func (b Bytes) Encode(dst []byte, v []byte) error {
	if len(v) > b.Max {
		return ErrValueTooLarge
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(len(v)))
	copy(dst[2:], v)
	return nil
}

func (b Bytes) Decode(src []byte) ([]byte, error) {
	n := int(binary.LittleEndian.Uint16(src[0:2]))
	if n > b.Max {
		return nil, ErrCorrupt
	}
	out := make([]byte, n)
	copy(out, src[2:2+n])
	return out, nil
}
