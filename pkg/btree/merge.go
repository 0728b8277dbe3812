package btree

import (
	"fmt"

	"github.com/plume/sbtree/pkg/sblock"
	"github.com/plume/sbtree/pkg/store"
)

// tryMerge implements spec §4.2's try_merge: if bt (the block fetched this
// descent step) is sparse, fold in a sibling's items before descending
// further, fixing up the parent's separator keys and collapsing the
// parent (and the tree root, when applicable) when a sibling drains
// completely.
func (t *Tree) tryMerge(
	parentH store.Handle, parentBlk *sblock.Block, parentPos int,
	btH store.Handle, btBlk *sblock.Block,
	seq uint64, parentIsRoot bool,
) (store.Handle, *sblock.Block, error) {
	if btBlk.ReclaimableFree() <= t.freeLimit {
		return btH, btBlk, nil
	}

	var sibPos int
	var moveRight bool // true iff the sibling sits to bt's left
	switch {
	case parentPos > 0:
		sibPos = parentPos - 1
		moveRight = true
	case parentPos+1 < parentBlk.NrItems():
		sibPos = parentPos + 1
		moveRight = false
	default:
		// bt is the parent's only child; nothing to merge with.
		return btH, btBlk, nil
	}

	sibRef := decodeRef(parentBlk.Value(sibPos))
	sibH, err := t.mgr.DirtyRef(&sibRef, seq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	encodeRef(sibRef, parentBlk.Value(sibPos))
	sibBlk := sblock.Load(sibH.Bytes())

	toMove := btBlk.ReclaimableFree() - t.freeLimit
	if sibBlk.UsedTotal() <= toMove {
		toMove = sibBlk.UsedTotal()
	}

	if btBlk.ContigFree() < toMove {
		btBlk.CompactItems()
	}
	sblock.MoveItems(btBlk, sibBlk, moveRight, toMove)

	drained := sibBlk.IsEmpty()

	if !moveRight {
		// Sibling was to the right; bt absorbed its lowest items,
		// raising bt's greatest key.
		parentBlk.SetKey(parentPos, btBlk.GreatestKey())
	}

	if drained {
		t.mgr.Free(sibH.Ref().Blkno)
		t.mgr.Put(sibH)
		parentBlk.DeleteItem(sibPos)
		if sibPos < parentPos {
			parentPos--
		}
	} else {
		t.mgr.Put(sibH)
		if moveRight {
			// Sibling was to the left and lost its highest items.
			parentBlk.SetKey(sibPos, sibBlk.GreatestKey())
		}
	}

	if parentIsRoot && parentBlk.NrItems() == 1 {
		t.height--
		t.root = btH.Ref()
		t.mgr.Free(parentH.Ref().Blkno)
	}

	return btH, btBlk, nil
}
