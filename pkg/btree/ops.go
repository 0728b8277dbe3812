package btree

import (
	"errors"
	"fmt"

	"github.com/plume/sbtree/pkg/key"
	"github.com/plume/sbtree/pkg/sblock"
	"github.com/plume/sbtree/pkg/store"
)

// Lookup implements spec §4.3's lookup: walk(LOOKUP), find_pos, and seat a
// read-only cursor on an exact match.
func (t *Tree) Lookup(k key.Key) (*Cursor, error) {
	t.rootMu.RLock()
	h, blk, err := t.doWalk(k, nil, 0, 0, opLookup)
	if err != nil {
		t.rootMu.RUnlock()
		return nil, err
	}
	pos, cmp := blk.FindPos(k)
	if cmp != 0 {
		h.Unlock()
		t.mgr.Put(h)
		t.rootMu.RUnlock()
		return nil, ErrNotFound
	}
	return &Cursor{t: t, h: h, blk: blk, pos: pos, write: false, rootHeld: true}, nil
}

// Insert implements spec §4.3's insert: walk(INSERT, valLen), fail if the
// key is already present, else create_item and seat a write cursor for
// the caller to fill the value bytes through before Release.
func (t *Tree) Insert(k key.Key, valLen int) (*Cursor, error) {
	t.rootMu.Lock()
	seq := t.dirtySeq
	h, blk, err := t.doWalk(k, nil, valLen, seq, opInsert)
	if err != nil {
		t.rootMu.Unlock()
		return nil, err
	}
	pos, cmp := blk.FindPos(k)
	if cmp == 0 {
		h.Unlock()
		t.mgr.Put(h)
		t.rootMu.Unlock()
		return nil, ErrExists
	}
	if _, err := blk.CreateItem(pos, k, valLen); err != nil {
		h.Unlock()
		t.mgr.Put(h)
		t.rootMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrNoSpace, err)
	}
	return &Cursor{t: t, h: h, blk: blk, pos: pos, write: true, rootHeld: true}, nil
}

// Delete implements spec §4.3's delete: walk(DELETE), delete_item on an
// exact match, and collapse the tree to empty if the deleted item's leaf
// was the sole remaining block.
func (t *Tree) Delete(k key.Key) error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	seq := t.dirtySeq
	h, blk, err := t.doWalk(k, nil, 0, seq, opDelete)
	if err != nil {
		return err
	}
	pos, cmp := blk.FindPos(k)
	if cmp != 0 {
		h.Unlock()
		t.mgr.Put(h)
		return ErrNotFound
	}
	blk.DeleteItem(pos)
	empty := blk.IsEmpty()
	blkno := h.Ref().Blkno
	h.Unlock()
	t.mgr.Put(h)

	if empty && t.height == 1 {
		if err := t.mgr.Free(blkno); err != nil {
			return wrapIO(err)
		}
		t.height = 0
		t.root = store.Ref{}
	}
	return nil
}

// Update implements spec §4.3's update: walk(DIRTY), bump the existing
// item's seq, and seat a write cursor over its (already correctly sized)
// value bytes. Guaranteed not to fail for I/O/allocation reasons if
// Dirty(k) already succeeded within the same transaction.
func (t *Tree) Update(k key.Key) (*Cursor, error) {
	t.rootMu.Lock()
	seq := t.dirtySeq
	h, blk, err := t.doWalk(k, nil, 0, seq, opDirty)
	if err != nil {
		t.rootMu.Unlock()
		return nil, err
	}
	pos, cmp := blk.FindPos(k)
	if cmp != 0 {
		h.Unlock()
		t.mgr.Put(h)
		t.rootMu.Unlock()
		return nil, ErrNotFound
	}
	blk.SetItemSeq(pos, seq)
	return &Cursor{t: t, h: h, blk: blk, pos: pos, write: true, rootHeld: true}, nil
}

// Dirty implements spec §4.3's dirty: walk(DIRTY) to pin the whole
// root-to-leaf path as dirty (possibly CoW-cloning every block on it) so
// a later Update in the same transaction cannot fail for I/O or
// allocation reasons, then releases immediately.
func (t *Tree) Dirty(k key.Key) error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	seq := t.dirtySeq
	h, blk, err := t.doWalk(k, nil, 0, seq, opDirty)
	if err != nil {
		return err
	}
	_, cmp := blk.FindPos(k)
	h.Unlock()
	t.mgr.Put(h)
	if cmp != 0 {
		return ErrNotFound
	}
	return nil
}

// Iterator implements spec §4.4's btree_next: ordered range iteration
// (Next) and sequence-filtered iteration (Since), re-entering the walker
// from a "resume key" derived as successor(parent_separator) rather than
// maintaining an explicit path stack (spec §9).
type Iterator struct {
	t           *Tree
	first, last key.Key
	seq         uint64
	op          opKind

	resumeKey key.Key
	exhausted bool

	h           store.Handle
	blk         *sblock.Block
	pos         int
	holdingLeaf bool
}

// NewIterator returns an iterator over [first, last] in ascending key order.
func (t *Tree) NewIterator(first, last key.Key) *Iterator {
	return &Iterator{t: t, first: first, last: last, op: opNext, resumeKey: first}
}

// SinceIterator returns an iterator over [first, last] yielding only
// items whose seq is at or above the given sequence, pruning subtrees
// whose parent ref seq falls below it.
func (t *Tree) SinceIterator(first, last key.Key, seq uint64) *Iterator {
	return &Iterator{t: t, first: first, last: last, seq: seq, op: opNextSeq, resumeKey: first}
}

func (it *Iterator) advanceWithinLeaf() bool {
	it.pos++
	n := it.blk.NrItems()
	for it.pos < n {
		if it.op == opNextSeq && it.blk.ItemSeq(it.pos) < it.seq {
			it.pos++
			continue
		}
		return true
	}
	return false
}

func (it *Iterator) releaseLeaf() {
	if it.holdingLeaf {
		it.h.Unlock()
		it.t.mgr.Put(it.h)
		it.holdingLeaf = false
	}
}

// Next advances to the next in-range item, returning false once the
// range is exhausted (or a negative/error result on failure, per spec
// §4.4's return convention).
func (it *Iterator) Next() (bool, error) {
	if it.exhausted {
		return false, nil
	}

	if it.holdingLeaf {
		lastKey := it.blk.Key(it.pos)
		if it.advanceWithinLeaf() && key.Compare(it.blk.Key(it.pos), it.last) <= 0 {
			return true, nil
		}
		it.releaseLeaf()
		nk, has := key.Successor(lastKey)
		if !has {
			it.exhausted = true
			return false, nil
		}
		it.resumeKey = nk
	}

	for key.Compare(it.resumeKey, it.last) <= 0 {
		// doWalk leaves nextKey untouched when no parent separator lies
		// beyond the point it stopped at (a single-leaf tree, an empty
		// tree, or a NEXT_SEQ prune at the root): nothing remains past it.
		nextKey := key.MaxKey()
		it.t.rootMu.RLock()
		h, blk, err := it.t.doWalk(it.resumeKey, &nextKey, 0, it.seq, it.op)
		if err != nil {
			empty := it.t.height == 0
			it.t.rootMu.RUnlock()
			if errors.Is(err, ErrNotFound) && (it.op == opNextSeq || empty) {
				if !key.Less(it.resumeKey, nextKey) {
					break
				}
				it.resumeKey = nextKey
				continue
			}
			it.exhausted = true
			return false, err
		}

		pos, ok := findPosAfterSeq(blk, it.resumeKey, it.seq, true, it.op)
		if !ok || key.Compare(blk.Key(pos), it.last) > 0 {
			h.Unlock()
			it.t.mgr.Put(h)
			it.t.rootMu.RUnlock()
			if !key.Less(it.resumeKey, nextKey) {
				break
			}
			it.resumeKey = nextKey
			continue
		}

		it.h, it.blk, it.pos = h, blk, pos
		it.holdingLeaf = true
		it.t.rootMu.RUnlock()
		return true, nil
	}

	it.exhausted = true
	return false, nil
}

// Key, Value, and Seq expose the current item. Valid only after Next
// returns true.
func (it *Iterator) Key() key.Key   { return it.blk.Key(it.pos) }
func (it *Iterator) Value() []byte  { return it.blk.Value(it.pos) }
func (it *Iterator) Seq() uint64    { return it.blk.ItemSeq(it.pos) }

// Release unpins any leaf the iterator still holds. Safe to call even
// after exhaustion.
func (it *Iterator) Release() {
	it.releaseLeaf()
	it.exhausted = true
}

// Hole implements spec §4.3's hole: scan [first, last] in key order and
// report the least key not present, or ErrNoSpace if every key in the
// range is present.
func (t *Tree) Hole(first, last key.Key) (key.Key, error) {
	it := t.NewIterator(first, last)
	hole := first
	for {
		ok, err := it.Next()
		if err != nil {
			it.Release()
			return key.Key{}, err
		}
		if !ok {
			break
		}
		k := it.Key()
		if key.Less(hole, k) {
			it.Release()
			return hole, nil
		}
		nk, has := key.Successor(k)
		if !has {
			it.Release()
			return key.Key{}, ErrNoSpace
		}
		hole = nk
	}
	if key.Compare(hole, last) <= 0 {
		return hole, nil
	}
	return key.Key{}, ErrNoSpace
}
