// Package store defines the block manager contract that spec §1 treats as
// an external collaborator of the B-tree core — allocation, reading a
// block by reference, dirtying (possibly copy-on-write) a block by
// reference, freeing a block number, and pinning/releasing a handle — and
// ships two reference implementations so pkg/btree is actually exercised
// end to end: Memory (process-memory, for tests) and FileStore (a single
// mmap'd file, for the demo CLI).
package store

import "errors"

// ErrNotFound is returned by ReadRef/DirtyRef when the referenced block
// does not exist in the manager (e.g. a stale or corrupt reference).
var ErrNotFound = errors.New("store: block not found")

// ErrIO tags failures originating from the underlying storage medium
// (mmap, file I/O, checksum mismatch). pkg/btree reports them as its own
// btree.ErrIO, keeping this error's text in the message; they are
// spec.md §7's "io" error kind.
var ErrIO = errors.New("store: i/o error")

// Ref is the (blkno, seq) block reference of spec §3: it both addresses a
// block and records the seq observed when the reference was last written,
// enabling sequence-based subtree pruning during iteration.
type Ref struct {
	Blkno uint64
	Seq   uint64
}

// IsZero reports whether r is the unset reference (an empty subtree/tree).
func (r Ref) IsZero() bool { return r.Blkno == 0 && r.Seq == 0 }

// Handle is a pinned, exclusively-lockable view of one block's bytes. A
// handle has exactly one owner at a time during descent (spec §9); the
// walker transfers ownership to the cursor it returns, which releases the
// handle via Manager.Put.
type Handle interface {
	// Bytes returns the block's raw storage, exactly Manager's BlockSize
	// long. It aliases the manager's memory; writes are visible
	// immediately and are not guaranteed durable until a later sync.
	Bytes() []byte
	// Ref returns the handle's current block reference.
	Ref() Ref
	// Lock/Unlock implement the per-block exclusive lock of spec §5.
	// Per-block sharing is not required: a block lock is held only
	// briefly while the walker descends through it.
	Lock()
	Unlock()
}

// Manager is the block manager contract of spec §1/§6. pkg/btree depends
// only on this interface, never on a concrete implementation.
type Manager interface {
	// BlockSize returns the fixed block size every Handle.Bytes() slice
	// is exactly sized to.
	BlockSize() int
	// AllocDirty allocates a new block, already dirty (writable) and
	// stamped with seq, ready for New() initialization by the caller.
	AllocDirty(seq uint64) (Handle, error)
	// ReadRef fetches a block by reference in shared (read-only) form.
	ReadRef(ref Ref) (Handle, error)
	// DirtyRef fetches a block by reference in exclusive (writable) form,
	// stamped with seq. If the referenced block is clean, the manager
	// may copy-on-write it to a new block number; on return, *ref is
	// updated in place to the (possibly new) block's current reference,
	// which the caller (the walker) must write back into the parent
	// item before unlocking the parent.
	DirtyRef(ref *Ref, seq uint64) (Handle, error)
	// Free returns blkno to the allocator. Must succeed for any block
	// number the current transaction has dirtied.
	Free(blkno uint64) error
	// Put releases a handle acquired from AllocDirty/ReadRef/DirtyRef.
	Put(h Handle)
}
