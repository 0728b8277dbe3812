package btree

import (
	"fmt"

	"github.com/plume/sbtree/pkg/key"
	"github.com/plume/sbtree/pkg/sblock"
	"github.com/plume/sbtree/pkg/store"
)

// growTree allocates a new parent above the current root (right), installs
// a single parent item referencing it with the maximum-key sentinel (spec
// §4.2's try_split root-growth case), and bumps the tree height. Called
// only when the block about to be split has no parent, i.e. it is the
// current root.
func (t *Tree) growTree(rightH store.Handle, seq uint64) (store.Handle, *sblock.Block, error) {
	newH, err := t.mgr.AllocDirty(seq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	newBlk := sblock.New(newH.Bytes(), newH.Ref().Blkno, seq)

	valBuf, err := newBlk.CreateItem(0, key.MaxKey(), refValLen)
	if err != nil {
		t.mgr.Free(newH.Ref().Blkno)
		t.mgr.Put(newH)
		return nil, nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	encodeRef(rightH.Ref(), valBuf)

	t.height++
	t.root = newH.Ref()
	newH.Lock()
	return newH, newBlk, nil
}

// trySplit implements spec §4.2's try_split: ensure the fetched block
// (right) has room for an item of valLen bytes before descending into it,
// compacting or splitting as needed. It returns the block the caller
// should actually descend into (left or right), plus the (possibly newly
// grown) parent context the walker should adopt.
func (t *Tree) trySplit(
	parentH store.Handle, parentBlk *sblock.Block, parentPos int,
	rightH store.Handle, rightBlk *sblock.Block,
	valLen int, seq uint64, k key.Key,
) (store.Handle, *sblock.Block, store.Handle, *sblock.Block, int, bool, error) {
	need := sblock.AllValBytes(valLen)

	if rightBlk.ContigFree() >= need {
		return rightH, rightBlk, parentH, parentBlk, parentPos, false, nil
	}
	if rightBlk.ReclaimableFree() >= need {
		rightBlk.CompactItems()
		return rightH, rightBlk, parentH, parentBlk, parentPos, false, nil
	}

	leftH, err := t.mgr.AllocDirty(seq)
	if err != nil {
		return nil, nil, nil, nil, 0, false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	leftBlk := sblock.New(leftH.Bytes(), leftH.Ref().Blkno, seq)

	grew := false
	if parentBlk == nil {
		newParentH, newParentBlk, gerr := t.growTree(rightH, seq)
		if gerr != nil {
			t.mgr.Free(leftH.Ref().Blkno)
			t.mgr.Put(leftH)
			return nil, nil, nil, nil, 0, false, gerr
		}
		parentH, parentBlk, parentPos = newParentH, newParentBlk, 0
		grew = true
	}

	sblock.MoveItems(leftBlk, rightBlk, false, rightBlk.UsedTotal()/2)

	valBuf, cerr := parentBlk.CreateItem(parentPos, leftBlk.GreatestKey(), refValLen)
	if cerr != nil {
		parentBlk.CompactItems()
		valBuf, cerr = parentBlk.CreateItem(parentPos, leftBlk.GreatestKey(), refValLen)
		if cerr != nil {
			t.mgr.Free(leftH.Ref().Blkno)
			t.mgr.Put(leftH)
			return nil, nil, nil, nil, 0, false, fmt.Errorf("%w: %v", ErrNoSpace, cerr)
		}
	}
	encodeRef(leftH.Ref(), valBuf)

	if key.Compare(k, leftBlk.GreatestKey()) <= 0 {
		t.mgr.Put(rightH)
		return leftH, leftBlk, parentH, parentBlk, parentPos, grew, nil
	}

	if rightBlk.ContigFree() < need && rightBlk.ReclaimableFree() >= need {
		rightBlk.CompactItems()
	}
	t.mgr.Put(leftH)
	return rightH, rightBlk, parentH, parentBlk, parentPos + 1, grew, nil
}
