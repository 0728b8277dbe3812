// Package btree implements the persistent, copy-on-write-friendly B-tree
// described in spec §3/§4: fixed-size keys (pkg/key) mapped to
// variable-length values packed into fixed-size blocks (pkg/sblock),
// addressed through an external block manager (pkg/store.Manager).
package btree

import (
	"sync"

	"github.com/plume/sbtree/pkg/sblock"
	"github.com/plume/sbtree/pkg/store"
)

// freeLimitDivisor sets the default FreeLimit to 1/8 of the block size.
const freeLimitDivisor = 8

// Options carries the one tunable spec.md calls out explicitly (§4.2, §9):
// the merge threshold below which try_merge leaves a block alone.
type Options struct {
	// FreeLimit is the byte threshold try_merge compares reclaimable_free
	// against. Zero selects BlockSize()/freeLimitDivisor. Spec §9 requires
	// this be strictly less than half the block's payload capacity
	// (BlockSize()-sblock.HeaderSize); a value that violates this is
	// clamped down rather than accepted, since an oversized limit makes
	// try_merge a permanent no-op and the tree can never shrink.
	FreeLimit int
}

// Tree owns exactly the two fields spec §1 assigns to the "superblock"
// collaborator it treats as external: the root record (height, block
// reference) and the current dirty sequence number. It is not a
// transaction manager — callers drive BeginDirtySeq once per transaction
// before any mutating call, mirroring how a real superblock/transaction
// layer would stamp the dirty seq before handing control to the tree.
type Tree struct {
	mgr store.Manager

	rootMu sync.RWMutex
	height int
	root   store.Ref

	freeLimit int
	dirtySeq  uint64
}

// New creates a Tree over an empty or pre-populated block manager. Callers
// that reopen an existing tree must restore height/root themselves via
// SetRoot before use.
func New(mgr store.Manager, opts Options) *Tree {
	payload := mgr.BlockSize() - sblock.HeaderSize
	maxLimit := payload/2 - 1

	limit := opts.FreeLimit
	if limit <= 0 {
		limit = mgr.BlockSize() / freeLimitDivisor
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return &Tree{mgr: mgr, freeLimit: limit}
}

// BeginDirtySeq stamps the sequence number that subsequent mutating calls
// (Insert/Delete/Update/Dirty) will write into every block and item they
// touch, until the next call. Set once per transaction by the external
// transaction layer.
func (t *Tree) BeginDirtySeq(seq uint64) {
	t.rootMu.Lock()
	t.dirtySeq = seq
	t.rootMu.Unlock()
}

// Height reports the current tree height (0 means empty).
func (t *Tree) Height() int {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.height
}

// Root reports the current root block reference. Meaningless when
// Height() == 0.
func (t *Tree) Root() store.Ref {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.root
}

// SetRoot restores a previously persisted root record, e.g. when reopening
// a tree backed by a store.FileStore. It is the caller's responsibility to
// ensure no operation is in flight.
func (t *Tree) SetRoot(height int, root store.Ref) {
	t.rootMu.Lock()
	t.height = height
	t.root = root
	t.rootMu.Unlock()
}
