package blinkmap

import (
	"sync"

	"blinkmap/internal/store"
)

// LockPolicy supplies per-node latching around single-node reads and
// read-modify-write cycles. The tree never holds a policy lock across more
// than one node's I/O; split and merge ordering guarantees hold regardless
// of the policy, so readers can always recover from a concurrent split by
// following sibling links.
type LockPolicy interface {
	RLock(p store.Ptr)
	RUnlock(p store.Ptr)
	Lock(p store.Ptr)
	Unlock(p store.Ptr)
}

// NoLocks performs no per-node locking. The tree's own coarse lock already
// serializes writers against readers; use a real policy when an outer layer
// drives the tree with finer-grained access.
type NoLocks struct{}

func (NoLocks) RLock(store.Ptr)   {}
func (NoLocks) RUnlock(store.Ptr) {}
func (NoLocks) Lock(store.Ptr)    {}
func (NoLocks) Unlock(store.Ptr)  {}

// StripedLocks hashes node handles onto a fixed set of RWMutexes.
type StripedLocks struct {
	stripes []sync.RWMutex
}

// NewStripedLocks creates a policy with n stripes (rounded up to at least
// 8).
func NewStripedLocks(n int) *StripedLocks {
	if n < 8 {
		n = 8
	}
	return &StripedLocks{stripes: make([]sync.RWMutex, n)}
}

func (l *StripedLocks) stripe(p store.Ptr) *sync.RWMutex {
	return &l.stripes[uint64(p)%uint64(len(l.stripes))]
}

func (l *StripedLocks) RLock(p store.Ptr)   { l.stripe(p).RLock() }
func (l *StripedLocks) RUnlock(p store.Ptr) { l.stripe(p).RUnlock() }
func (l *StripedLocks) Lock(p store.Ptr)    { l.stripe(p).Lock() }
func (l *StripedLocks) Unlock(p store.Ptr)  { l.stripe(p).Unlock() }
