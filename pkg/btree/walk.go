package btree

import (
	"errors"
	"fmt"

	"github.com/plume/sbtree/pkg/key"
	"github.com/plume/sbtree/pkg/sblock"
	"github.com/plume/sbtree/pkg/store"
)

// opKind is the walker's operation tag (spec §4.2). dirty() reports which
// ones fetch and lock blocks in writable form.
type opKind int

const (
	opLookup opKind = iota
	opInsert
	opDelete
	opDirty
	opNext
	opNextSeq
)

func (o opKind) dirty() bool {
	return o == opInsert || o == opDelete || o == opDirty
}

// wrapIO maps a store-layer error onto the btree error taxonomy.
func wrapIO(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

// fetch acquires a block by reference, dirty (writable, possibly CoW) or
// shared, per spec §4.2 step 1. On a dirty fetch that relocates the block
// (CoW), *ref is updated in place by the manager.
func (t *Tree) fetch(ref *store.Ref, dirty bool) (store.Handle, error) {
	if dirty {
		h, err := t.mgr.DirtyRef(ref, t.dirtySeq)
		if err != nil {
			return nil, wrapIO(err)
		}
		return h, nil
	}
	h, err := t.mgr.ReadRef(*ref)
	if err != nil {
		return nil, wrapIO(err)
	}
	return h, nil
}

// findPosAfterSeq implements spec §4.2's find_pos_after_seq: start at
// find_pos, then (under NEXT_SEQ only) skip forward past slots whose
// referenced seq is stale. isLeaf selects whether staleness is judged by
// the item's own seq (leaf) or its child ref's seq (internal node).
func findPosAfterSeq(blk *sblock.Block, k key.Key, seq uint64, isLeaf bool, op opKind) (int, bool) {
	pos, _ := blk.FindPos(k)
	n := blk.NrItems()
	for pos < n {
		if op == opNextSeq {
			var itemSeq uint64
			if isLeaf {
				itemSeq = blk.ItemSeq(pos)
			} else {
				itemSeq = decodeRef(blk.Value(pos)).Seq
			}
			if itemSeq < seq {
				pos++
				continue
			}
		}
		return pos, true
	}
	return pos, false
}

// doWalk implements the single-pass top-down descent of spec §4.2. It
// assumes the caller already holds the tree's root lock in the mode
// appropriate to op. On success it returns the located leaf's handle
// (locked) and block; the caller determines the in-leaf position itself
// (FindPos for point operations, findPosAfterSeq for iteration).
func (t *Tree) doWalk(k key.Key, nextKeyOut *key.Key, valLen int, seq uint64, op opKind) (store.Handle, *sblock.Block, error) {
	dirty := op.dirty()

	if t.height == 0 {
		if op == opInsert {
			h, err := t.mgr.AllocDirty(seq)
			if err != nil {
				return nil, nil, wrapIO(err)
			}
			blk := sblock.New(h.Bytes(), h.Ref().Blkno, seq)
			t.height = 1
			t.root = h.Ref()
			h.Lock()
			return h, blk, nil
		}
		return nil, nil, ErrNotFound
	}

	if op == opNextSeq && t.root.Seq < seq {
		return nil, nil, ErrNotFound
	}

	origHeight := t.height
	level := t.height - 1 // leaves are level 0; the root sits at height-1
	ref := t.root

	var parentH store.Handle
	var parentBlk *sblock.Block
	var parentPos int

	releaseParent := func() {
		if parentH != nil {
			parentH.Unlock()
			t.mgr.Put(parentH)
		}
	}

	for {
		childRef := ref
		h, err := t.fetch(&childRef, dirty)
		if err != nil {
			releaseParent()
			return nil, nil, err
		}
		blk := sblock.Load(h.Bytes())
		if dirty {
			blk.SetSeq(seq)
		}

		if childRef != ref {
			if parentBlk != nil {
				encodeRef(childRef, parentBlk.Value(parentPos))
			} else {
				t.root = childRef
			}
		}
		ref = childRef

		splitValLen := valLen
		if level > 0 {
			splitValLen = refValLen
		}

		if op == opInsert {
			newH, newBlk, newParentH, newParentBlk, newParentPos, grew, serr := t.trySplit(parentH, parentBlk, parentPos, h, blk, splitValLen, seq, k)
			if serr != nil {
				releaseParent()
				return nil, nil, serr
			}
			if grew {
				parentH, parentBlk, parentPos = newParentH, newParentBlk, newParentPos
			}
			h, blk = newH, newBlk
			ref = h.Ref()
		}

		if op == opDelete && parentBlk != nil {
			parentIsRoot := level == origHeight-2
			newH, newBlk, merr := t.tryMerge(parentH, parentBlk, parentPos, h, blk, seq, parentIsRoot)
			if merr != nil {
				releaseParent()
				return nil, nil, merr
			}
			h, blk = newH, newBlk
			ref = h.Ref()
		}

		h.Lock()

		if level == 0 {
			releaseParent()
			return h, blk, nil
		}

		pos, ok := findPosAfterSeq(blk, k, seq, false, op)
		if !ok {
			h.Unlock()
			t.mgr.Put(h)
			releaseParent()
			if op == opNextSeq {
				return nil, nil, ErrNotFound
			}
			return nil, nil, ErrIntegrity
		}
		if nextKeyOut != nil {
			if nk, ok := key.Successor(blk.Key(pos)); ok {
				*nextKeyOut = nk
			} else {
				*nextKeyOut = key.MaxKey()
			}
		}
		childRef2 := decodeRef(blk.Value(pos))

		releaseParent()
		parentH, parentBlk, parentPos = h, blk, pos
		ref = childRef2
		level--
	}
}
