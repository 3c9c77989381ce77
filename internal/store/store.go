// Package store implements a typed fixed-slot allocator over a single file.
//
// A Store[T] hands out Ptr handles that can be dereferenced to read or write
// one value of T and later freed for reuse. Freed slots form a linked free
// list threaded through the slots themselves, with the list head persisted
// in the file header. Slot payloads carry an xxhash checksum so torn or
// corrupted reads surface as errors instead of bad data.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Ptr is a 1-based slot handle. The zero Ptr is the nil handle and never
// refers to a stored value.
type Ptr uint64

const (
	magicNumber   uint32 = 0x626c6d70 // "blmp"
	formatVersion uint16 = 1

	headerSize     = 64
	slotHeaderSize = 8 // xxhash64 of the slot payload

	// DefaultCapacity bounds the number of slots a store may allocate when
	// the caller does not configure one.
	DefaultCapacity = 1 << 20
)

// Codec translates between T and its fixed-size slot payload.
type Codec[T any] interface {
	// Size is the payload size in bytes. Every slot reserves exactly this
	// many bytes regardless of the encoded value.
	Size() int
	Encode(dst []byte, v T) error
	Decode(src []byte) (T, error)
}

// Options configures a Store at open time.
type Options struct {
	// Capacity is the maximum number of slots; 0 means DefaultCapacity.
	// Fixed for the lifetime of the file.
	Capacity uint64

	// SyncEveryWrite fsyncs after each slot or header write. Default is to
	// sync on Close and explicit Sync calls only.
	SyncEveryWrite bool
}

// header is the fixed 64-byte block at the start of the file.
//
// Layout: [magic:4][version:2][pad:2][slotSize:8][capacity:8][numSlots:8]
// [freeHead:8][anchor:8][reserved:8][checksum:8], checksum over bytes 0..56.
type header struct {
	slotSize uint64
	capacity uint64
	numSlots uint64
	freeHead Ptr
	anchor   Ptr
}

func (h *header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], magicNumber)
	binary.LittleEndian.PutUint16(buf[4:6], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.slotSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.capacity)
	binary.LittleEndian.PutUint64(buf[24:32], h.numSlots)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.freeHead))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.anchor))
	binary.LittleEndian.PutUint64(buf[56:64], xxhash.Sum64(buf[0:56]))
}

func (h *header) decode(buf []byte) error {
	if binary.LittleEndian.Uint32(buf[0:4]) != magicNumber {
		return ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != formatVersion {
		return ErrInvalidVersion
	}
	if binary.LittleEndian.Uint64(buf[56:64]) != xxhash.Sum64(buf[0:56]) {
		return ErrInvalidChecksum
	}
	h.slotSize = binary.LittleEndian.Uint64(buf[8:16])
	h.capacity = binary.LittleEndian.Uint64(buf[16:24])
	h.numSlots = binary.LittleEndian.Uint64(buf[24:32])
	h.freeHead = Ptr(binary.LittleEndian.Uint64(buf[32:40]))
	h.anchor = Ptr(binary.LittleEndian.Uint64(buf[40:48]))
	return nil
}

// Store is a typed slot allocator backed by one file. All methods are safe
// for concurrent use.
type Store[T any] struct {
	mu        sync.Mutex
	file      *os.File
	codec     Codec[T]
	hdr       header
	syncEvery bool
	closed    bool
}

// Open opens or creates the store file at path. An existing file is
// validated against the codec's slot size; a mismatch means the file was
// written with a different type or configuration.
func Open[T any](path string, codec Codec[T], opts Options) (*Store[T], error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	s := &Store[T]{
		file:      file,
		codec:     codec,
		syncEvery: opts.SyncEveryWrite,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		s.hdr = header{
			slotSize: uint64(codec.Size()),
			capacity: capacity,
		}
		if err := s.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		if err := fdatasync(file); err != nil {
			file.Close()
			return nil, err
		}
		return s, nil
	}

	buf := make([]byte, headerSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("read store header: %w", err)
	}
	if err := s.hdr.decode(buf); err != nil {
		file.Close()
		return nil, err
	}
	if s.hdr.slotSize != uint64(codec.Size()) {
		file.Close()
		return nil, ErrSlotSizeMismatch
	}

	return s, nil
}

// Allocate returns a fresh slot handle, reusing a freed slot when one is
// available and growing the file otherwise.
func (s *Store[T]) Allocate() (Ptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	if s.hdr.freeHead != 0 {
		p := s.hdr.freeHead
		payload, err := s.readSlot(p)
		if err != nil {
			return 0, err
		}
		s.hdr.freeHead = Ptr(binary.LittleEndian.Uint64(payload[0:8]))
		if err := s.writeHeader(); err != nil {
			return 0, err
		}
		return p, nil
	}

	if s.hdr.numSlots >= s.hdr.capacity {
		return 0, ErrStoreFull
	}
	s.hdr.numSlots++
	p := Ptr(s.hdr.numSlots)

	// Write a zeroed payload so a read-before-write fails its decode
	// deterministically rather than seeing junk past EOF.
	if err := s.writeSlot(p, make([]byte, s.hdr.slotSize)); err != nil {
		return 0, err
	}
	if err := s.writeHeader(); err != nil {
		return 0, err
	}
	return p, nil
}

// Free returns a slot to the free list. The handle must not be used again.
func (s *Store[T]) Free(p Ptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.check(p); err != nil {
		return err
	}
	if p == s.hdr.freeHead {
		return ErrInvalidSlot // double free of the most recent Free
	}

	payload := make([]byte, s.hdr.slotSize)
	binary.LittleEndian.PutUint64(payload[0:8], uint64(s.hdr.freeHead))
	if err := s.writeSlot(p, payload); err != nil {
		return err
	}
	s.hdr.freeHead = p
	return s.writeHeader()
}

// Read dereferences p and decodes the stored value.
func (s *Store[T]) Read(p Ptr) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if s.closed {
		return zero, ErrClosed
	}
	if err := s.check(p); err != nil {
		return zero, err
	}
	payload, err := s.readSlot(p)
	if err != nil {
		return zero, err
	}
	return s.codec.Decode(payload)
}

// Write encodes v into slot p, overwriting the previous value.
func (s *Store[T]) Write(p Ptr, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.check(p); err != nil {
		return err
	}
	payload := make([]byte, s.hdr.slotSize)
	if err := s.codec.Encode(payload, v); err != nil {
		return err
	}
	return s.writeSlot(p, payload)
}

// Anchor returns the persisted user handle, the nil Ptr if never set.
func (s *Store[T]) Anchor() Ptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdr.anchor
}

// SetAnchor persists one user handle in the store header. The tree keeps
// its root handle here.
func (s *Store[T]) SetAnchor(p Ptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.hdr.anchor = p
	return s.writeHeader()
}

// Allocated returns the number of slots ever allocated, including slots
// currently on the free list.
func (s *Store[T]) Allocated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdr.numSlots
}

// Capacity returns the slot capacity fixed at file creation.
func (s *Store[T]) Capacity() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdr.capacity
}

// Sync flushes file contents to stable storage.
func (s *Store[T]) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return fdatasync(s.file)
}

// Close writes the header, syncs, and closes the file. The store is
// unusable afterwards.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if err := s.writeHeader(); err != nil {
		s.file.Close()
		return err
	}
	if err := fdatasync(s.file); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *Store[T]) check(p Ptr) error {
	if p == 0 || uint64(p) > s.hdr.numSlots {
		return ErrInvalidSlot
	}
	return nil
}

func (s *Store[T]) slotOffset(p Ptr) int64 {
	return headerSize + int64(uint64(p-1))*int64(slotHeaderSize+s.hdr.slotSize)
}

func (s *Store[T]) readSlot(p Ptr) ([]byte, error) {
	buf := make([]byte, slotHeaderSize+s.hdr.slotSize)
	if _, err := s.file.ReadAt(buf, s.slotOffset(p)); err != nil {
		return nil, fmt.Errorf("read slot %d: %w", p, err)
	}
	payload := buf[slotHeaderSize:]
	if binary.LittleEndian.Uint64(buf[0:slotHeaderSize]) != xxhash.Sum64(payload) {
		return nil, fmt.Errorf("slot %d: %w", p, ErrInvalidChecksum)
	}
	return payload, nil
}

func (s *Store[T]) writeSlot(p Ptr, payload []byte) error {
	buf := make([]byte, slotHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:slotHeaderSize], xxhash.Sum64(payload))
	copy(buf[slotHeaderSize:], payload)
	if _, err := s.file.WriteAt(buf, s.slotOffset(p)); err != nil {
		return fmt.Errorf("write slot %d: %w", p, err)
	}
	if s.syncEvery {
		return fdatasync(s.file)
	}
	return nil
}

func (s *Store[T]) writeHeader() error {
	buf := make([]byte, headerSize)
	s.hdr.encode(buf)
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write store header: %w", err)
	}
	if s.syncEvery {
		return fdatasync(s.file)
	}
	return nil
}
