package store

import "sync"

// Memory is a process-memory Manager: no persistence, and no copy-on-write
// (DirtyRef hands back the block's single backing slice). It is the manager used by
// the bulk of pkg/btree's tests, where durability is irrelevant and a
// real file would only slow tests down.
type Memory struct {
	mu        sync.Mutex
	blockSize int
	next      uint64
	blocks    map[uint64][]byte
	// dirtySeq records each block's current reference seq: the seq it was
	// allocated at, restamped by every DirtyRef. memHandle.Ref reports it.
	dirtySeq map[uint64]uint64
	free     []uint64
}

// NewMemory creates an empty in-memory block manager with the given fixed
// block size. Block number 0 is reserved (never allocated) so that a zero
// Ref unambiguously means "no block".
func NewMemory(blockSize int) *Memory {
	return &Memory{
		blockSize: blockSize,
		next:      1,
		blocks:    make(map[uint64][]byte),
		dirtySeq:  make(map[uint64]uint64),
	}
}

func (m *Memory) BlockSize() int { return m.blockSize }

type memHandle struct {
	mu   sync.Mutex
	m    *Memory
	blk  uint64
	data []byte
}

func (h *memHandle) Bytes() []byte { return h.data }
func (h *memHandle) Ref() Ref {
	h.m.mu.Lock()
	seq := h.m.dirtySeq[h.blk]
	h.m.mu.Unlock()
	return Ref{Blkno: h.blk, Seq: seq}
}
func (h *memHandle) Lock()   { h.mu.Lock() }
func (h *memHandle) Unlock() { h.mu.Unlock() }

func (m *Memory) AllocDirty(seq uint64) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var blkno uint64
	if n := len(m.free); n > 0 {
		blkno = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		blkno = m.next
		m.next++
	}
	data := make([]byte, m.blockSize)
	m.blocks[blkno] = data
	m.dirtySeq[blkno] = seq
	return &memHandle{m: m, blk: blkno, data: data}, nil
}

func (m *Memory) ReadRef(ref Ref) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blocks[ref.Blkno]
	if !ok {
		return nil, ErrNotFound
	}
	return &memHandle{m: m, blk: ref.Blkno, data: data}, nil
}

// DirtyRef returns the block in writable form. Since this reference
// implementation always mutates a block's single backing slice in place
// (there is only ever one reader of process memory), no clone is needed;
// it simply restamps the block's tracked seq and hands back the same
// bytes. A real, multi-snapshot block manager would clone here instead.
func (m *Memory) DirtyRef(ref *Ref, seq uint64) (Handle, error) {
	m.mu.Lock()
	data, ok := m.blocks[ref.Blkno]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	m.dirtySeq[ref.Blkno] = seq
	m.mu.Unlock()

	ref.Seq = seq
	return &memHandle{m: m, blk: ref.Blkno, data: data}, nil
}

func (m *Memory) Free(blkno uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[blkno]; !ok {
		return ErrNotFound
	}
	delete(m.blocks, blkno)
	delete(m.dirtySeq, blkno)
	m.free = append(m.free, blkno)
	return nil
}

func (m *Memory) Put(h Handle) {}
