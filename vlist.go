package blinkmap

import (
	"bytes"
	"encoding/binary"

	"blinkmap/internal/store"
)

// vlistNode is one link of a key's value chain. The chain is kept sorted
// by value so equal keys enumerate their multiset in a stable order.
type vlistNode struct {
	value []byte
	next  store.Ptr
}

type vlistCodec struct {
	maxValue int
}

func (c vlistCodec) Size() int {
	return 2 + c.maxValue + 8
}

func (c vlistCodec) Encode(dst []byte, v vlistNode) error {
	if len(v.value) > c.maxValue {
		return store.ErrValueTooLarge
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(len(v.value)))
	copy(dst[2:], v.value)
	binary.LittleEndian.PutUint64(dst[2+c.maxValue:], uint64(v.next))
	return nil
}

func (c vlistCodec) Decode(src []byte) (vlistNode, error) {
	n := int(binary.LittleEndian.Uint16(src[0:2]))
	if n > c.maxValue {
		return vlistNode{}, store.ErrCorrupt
	}
	v := vlistNode{
		value: make([]byte, n),
		next:  store.Ptr(binary.LittleEndian.Uint64(src[2+c.maxValue:])),
	}
	copy(v.value, src[2:2+n])
	return v, nil
}

// vlistInsert adds value to the chain at head in sorted position, after any
// existing equal values, and returns the possibly new head. Duplicates are
// kept: the chain is a multiset.
func (t *Tree) vlistInsert(head store.Ptr, value []byte) (store.Ptr, error) {
	p, err := t.vals.Allocate()
	if err != nil {
		return 0, err
	}

	if head == 0 {
		if err := t.vals.Write(p, vlistNode{value: value}); err != nil {
			return 0, err
		}
		return p, nil
	}

	first, err := t.vals.Read(head)
	if err != nil {
		return 0, err
	}
	if bytes.Compare(value, first.value) < 0 {
		if err := t.vals.Write(p, vlistNode{value: value, next: head}); err != nil {
			return 0, err
		}
		return p, nil
	}

	// Walk to the last link whose value is <= the new one.
	cur, curPtr := first, head
	for cur.next != 0 {
		nx, err := t.vals.Read(cur.next)
		if err != nil {
			return 0, err
		}
		if bytes.Compare(nx.value, value) > 0 {
			break
		}
		cur, curPtr = nx, cur.next
	}

	// New link is durable before it is chained in.
	if err := t.vals.Write(p, vlistNode{value: value, next: cur.next}); err != nil {
		return 0, err
	}
	cur.next = p
	if err := t.vals.Write(curPtr, cur); err != nil {
		return 0, err
	}
	return head, nil
}

// vlistCollect returns the chain's values in list order.
func (t *Tree) vlistCollect(head store.Ptr) ([][]byte, error) {
	var out [][]byte
	for p := head; p != 0; {
		v, err := t.vals.Read(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v.value)
		p = v.next
	}
	return out, nil
}

// vlistRemove unlinks the first link equal to value and returns the
// possibly new head plus the unlinked slot, which the caller frees once
// any node referencing the old head has been rewritten. The chain is
// untouched when the value is absent.
func (t *Tree) vlistRemove(head store.Ptr, value []byte) (newHead, freed store.Ptr, err error) {
	var (
		prev    vlistNode
		prevPtr store.Ptr
	)
	for p := head; p != 0; {
		v, err := t.vals.Read(p)
		if err != nil {
			return head, 0, err
		}
		cmp := bytes.Compare(v.value, value)
		if cmp > 0 {
			return head, 0, nil // sorted chain: value cannot follow
		}
		if cmp == 0 {
			if prevPtr != 0 {
				prev.next = v.next
				if err := t.vals.Write(prevPtr, prev); err != nil {
					return head, 0, err
				}
			} else {
				head = v.next
			}
			return head, p, nil
		}
		prev, prevPtr = v, p
		p = v.next
	}
	return head, 0, nil
}

// vlistFree releases an entire chain.
func (t *Tree) vlistFree(head store.Ptr) error {
	for p := head; p != 0; {
		v, err := t.vals.Read(p)
		if err != nil {
			return err
		}
		if err := t.vals.Free(p); err != nil {
			return err
		}
		p = v.next
	}
	return nil
}
