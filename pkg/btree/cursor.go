package btree

import (
	"github.com/plume/sbtree/pkg/key"
	"github.com/plume/sbtree/pkg/sblock"
	"github.com/plume/sbtree/pkg/store"
)

// Cursor holds a pinned, locked leaf and a position within it, exposing
// the item's key/seq/value in place (spec §4.3/§9 "Cursor"). It is
// returned by Lookup, Insert, and Update; callers must call Release
// exactly once.
//
// A write cursor (from Insert/Update) keeps the tree's root lock
// held exclusively until Release, per spec §5's "a write cursor implies
// the root lock is held exclusively for the transaction's duration
// relative to tree structure" — here scoped to the single call that
// produced the cursor, since full multi-operation transaction pinning is
// the external transaction layer's job (spec §1).
type Cursor struct {
	t        *Tree
	h        store.Handle
	blk      *sblock.Block
	pos      int
	write    bool
	rootHeld bool
	released bool
}

// Key returns the key at the cursor's position.
func (c *Cursor) Key() key.Key { return c.blk.Key(c.pos) }

// Seq returns the per-item sequence number at the cursor's position.
func (c *Cursor) Seq() uint64 { return c.blk.ItemSeq(c.pos) }

// Value returns a live slice over the value bytes at the cursor's
// position. It aliases the block's backing array; do not retain it past
// Release.
func (c *Cursor) Value() []byte { return c.blk.Value(c.pos) }

// Writable reports whether the cursor was acquired for mutation (Insert,
// Update) as opposed to read-only lookup.
func (c *Cursor) Writable() bool { return c.write }

// Release unlocks and unpins the referenced block (and, for write
// cursors, the root lock acquired for this operation), then clears the
// cursor. Safe to call at most once.
func (c *Cursor) Release() {
	if c.released {
		return
	}
	c.released = true
	c.h.Unlock()
	c.t.mgr.Put(c.h)
	if c.rootHeld {
		if c.write {
			c.t.rootMu.Unlock()
		} else {
			c.t.rootMu.RUnlock()
		}
	}
}
