// Package sblock implements the intra-block layout and maintenance
// primitives described in spec §3/§4.1: a self-describing, fixed-size block
// holding a dense, key-sorted offset array and a packed region of
// (key, seq, value) items growing from the back of the block toward the
// front. Nothing here knows about the tree shape above a single block;
// that's pkg/btree's job.
package sblock

import (
	"encoding/binary"
	"errors"

	"github.com/plume/sbtree/pkg/key"
)

// ErrNoSpace is returned by CreateItem when the block lacks contiguous free
// space for the new item, even after the caller is expected to have tried
// compaction first.
var ErrNoSpace = errors.New("sblock: no contiguous space for item")

const (
	// HeaderSize is the fixed portion of the block header, before the
	// variable-length item offset array: blkno(8) + seq(8) + nr_items(2)
	// + free_end(2) + free_reclaim(2).
	HeaderSize = 22

	offBlkno       = 0
	offSeq         = 8
	offNrItems     = 16
	offFreeEnd     = 18
	offFreeReclaim = 20
	offItemOffs    = 22

	offsetSlotSize = 2

	// itemHeaderSize is key + seq(8) + val_len(2) for each stored item.
	itemHeaderSize = key.Size + 8 + 2
)

// ValBytes is sizeof(item_header) + v, the bytes an item with a v-byte value
// occupies in the item region.
func ValBytes(v int) int { return itemHeaderSize + v }

// AllValBytes is the bytes an item with a v-byte value costs in total,
// including its offset-array slot.
func AllValBytes(v int) int { return offsetSlotSize + ValBytes(v) }

// Block wraps a fixed-size, block-manager-owned byte slice and presents the
// item layout described in spec §3/§6. It does not own the slice's
// lifetime; the block manager does.
type Block struct {
	data []byte
}

// New initializes an empty block (nr_items=0) of the given blkno/seq inside
// data, which must be exactly the block manager's block size.
func New(data []byte, blkno, seq uint64) *Block {
	b := &Block{data: data}
	binary.LittleEndian.PutUint64(data[offBlkno:], blkno)
	binary.LittleEndian.PutUint64(data[offSeq:], seq)
	binary.LittleEndian.PutUint16(data[offNrItems:], 0)
	binary.LittleEndian.PutUint16(data[offFreeEnd:], uint16(len(data)))
	binary.LittleEndian.PutUint16(data[offFreeReclaim:], 0)
	return b
}

// Load wraps already-initialized block bytes (e.g. read back from storage).
func Load(data []byte) *Block { return &Block{data: data} }

// Bytes returns the raw backing slice.
func (b *Block) Bytes() []byte { return b.data }

// Size returns the block's fixed size (BLOCK_SIZE).
func (b *Block) Size() int { return len(b.data) }

// Blkno returns the block number stamped in the header.
func (b *Block) Blkno() uint64 { return binary.LittleEndian.Uint64(b.data[offBlkno:]) }

// Seq returns the block's last-modified sequence number.
func (b *Block) Seq() uint64 { return binary.LittleEndian.Uint64(b.data[offSeq:]) }

// SetSeq stamps the block's sequence number. Called by the walker on every
// block it fetches in dirty form, so items created in it afterwards carry
// the current dirty seq.
func (b *Block) SetSeq(seq uint64) { binary.LittleEndian.PutUint64(b.data[offSeq:], seq) }

// SetBlkno restamps the block number. Used by the block manager after a
// copy-on-write clone, before the block is handed back to the walker.
func (b *Block) SetBlkno(blkno uint64) { binary.LittleEndian.PutUint64(b.data[offBlkno:], blkno) }

// NrItems returns the number of items currently stored.
func (b *Block) NrItems() int { return int(binary.LittleEndian.Uint16(b.data[offNrItems:])) }

func (b *Block) setNrItems(n int) {
	binary.LittleEndian.PutUint16(b.data[offNrItems:], uint16(n))
}

// FreeEnd is the byte offset where the item region currently begins
// (growing downward from the block's end).
func (b *Block) FreeEnd() int { return int(binary.LittleEndian.Uint16(b.data[offFreeEnd:])) }

func (b *Block) setFreeEnd(off int) {
	binary.LittleEndian.PutUint16(b.data[offFreeEnd:], uint16(off))
}

// FreeReclaim is the bytes of internal fragmentation recoverable by
// CompactItems.
func (b *Block) FreeReclaim() int {
	return int(binary.LittleEndian.Uint16(b.data[offFreeReclaim:]))
}

func (b *Block) setFreeReclaim(n int) {
	binary.LittleEndian.PutUint16(b.data[offFreeReclaim:], uint16(n))
}

// ContigFree is the contiguous free space available without compaction.
func (b *Block) ContigFree() int {
	return b.FreeEnd() - (HeaderSize + b.NrItems()*offsetSlotSize)
}

// ReclaimableFree is the free space that would be available after
// compaction: ContigFree plus FreeReclaim.
func (b *Block) ReclaimableFree() int {
	return b.ContigFree() + b.FreeReclaim()
}

// UsedTotal is the bytes actually occupied by live item data, per spec §3:
// BLOCK_SIZE - header_size - reclaimable_free.
func (b *Block) UsedTotal() int {
	return len(b.data) - HeaderSize - b.ReclaimableFree()
}

func (b *Block) itemOffset(pos int) int {
	return int(binary.LittleEndian.Uint16(b.data[offItemOffs+pos*offsetSlotSize:]))
}

func (b *Block) setItemOffset(pos, off int) {
	binary.LittleEndian.PutUint16(b.data[offItemOffs+pos*offsetSlotSize:], uint16(off))
}

// Key returns the key stored at item position pos.
func (b *Block) Key(pos int) key.Key {
	off := b.itemOffset(pos)
	return key.Decode(b.data[off : off+key.Size])
}

// SetKey overwrites the key stored at position pos in place. Key size is
// fixed, so this never touches item length or the offset array; callers
// (try_merge's parent-key fixups, spec §4.2) are responsible for ensuring
// the new key preserves item_offs's sorted order.
func (b *Block) SetKey(pos int, k key.Key) {
	off := b.itemOffset(pos)
	key.Encode(k, b.data[off:off+key.Size])
}

// ItemSeq returns the per-item sequence number at position pos.
func (b *Block) ItemSeq(pos int) uint64 {
	off := b.itemOffset(pos) + key.Size
	return binary.LittleEndian.Uint64(b.data[off:])
}

// SetItemSeq bumps the per-item sequence number at position pos. Used by
// update() to mark an already-present item as modified at the current
// dirty seq without moving or resizing it, and by MoveItems to carry an
// item's seq over to its new block.
func (b *Block) SetItemSeq(pos int, seq uint64) {
	off := b.itemOffset(pos) + key.Size
	binary.LittleEndian.PutUint64(b.data[off:], seq)
}

// ValLen returns the value length at position pos.
func (b *Block) ValLen(pos int) int {
	off := b.itemOffset(pos) + key.Size + 8
	return int(binary.LittleEndian.Uint16(b.data[off:]))
}

func (b *Block) valLenAtOffset(off int) int {
	return int(binary.LittleEndian.Uint16(b.data[off+key.Size+8:]))
}

// Value returns a live slice over the value bytes at position pos. Per
// spec §4.3/cursor semantics, the returned slice aliases the block's
// backing array; callers (the cursor) must not retain it past release.
func (b *Block) Value(pos int) []byte {
	off := b.itemOffset(pos)
	valOff := off + itemHeaderSize
	valLen := b.ValLen(pos)
	return b.data[valOff : valOff+valLen]
}

// itemBytes is the on-disk size (header+value) of the item at array
// position pos.
func (b *Block) itemBytes(pos int) int { return ValBytes(b.ValLen(pos)) }

// GreatestKey returns the key of the rightmost item, i.e. the key a parent
// item referencing this block must carry (spec invariant 4).
func (b *Block) GreatestKey() key.Key {
	return b.Key(b.NrItems() - 1)
}

// IsEmpty reports whether the block currently holds no items.
func (b *Block) IsEmpty() bool { return b.NrItems() == 0 }

// FindPos performs the binary search of spec §4.1: it returns the position
// at which k equals or would be inserted, and cmp == 0 iff that position's
// key equals k (pos may equal NrItems() when k exceeds every stored key;
// callers must check pos < NrItems() before dereferencing).
func (b *Block) FindPos(k key.Key) (pos int, cmp int) {
	lo, hi := 0, b.NrItems()
	for lo < hi {
		mid := (lo + hi) / 2
		if key.Compare(b.Key(mid), k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < b.NrItems() {
		return lo, key.Compare(k, b.Key(lo))
	}
	return lo, -1
}

// CreateItem inserts a new item header at position pos for a value of
// valLen bytes, stamping the item's seq to the block's current seq, and
// returns the (uninitialized) value slice for the caller to fill.
// Precondition: ContigFree() >= AllValBytes(valLen).
func (b *Block) CreateItem(pos int, k key.Key, valLen int) ([]byte, error) {
	need := AllValBytes(valLen)
	if b.ContigFree() < need {
		return nil, ErrNoSpace
	}

	n := b.NrItems()
	// Shift the tail of item_offs right by one slot to make room at pos.
	for i := n; i > pos; i-- {
		b.setItemOffset(i, b.itemOffset(i-1))
	}

	newFreeEnd := b.FreeEnd() - ValBytes(valLen)
	b.setFreeEnd(newFreeEnd)
	b.setItemOffset(pos, newFreeEnd)
	b.setNrItems(n + 1)

	key.Encode(k, b.data[newFreeEnd:newFreeEnd+key.Size])
	binary.LittleEndian.PutUint64(b.data[newFreeEnd+key.Size:], b.Seq())
	binary.LittleEndian.PutUint16(b.data[newFreeEnd+key.Size+8:], uint16(valLen))

	valOff := newFreeEnd + itemHeaderSize
	return b.data[valOff : valOff+valLen], nil
}

// DeleteItem removes the item at position pos, zero-filling its bytes so
// stale data never lingers on disk, and accounts the reclaimed span in
// free_reclaim.
func (b *Block) DeleteItem(pos int) {
	off := b.itemOffset(pos)
	sz := b.itemBytes(pos)

	for i := range b.data[off : off+sz] {
		b.data[off+i] = 0
	}
	b.setFreeReclaim(b.FreeReclaim() + sz)

	n := b.NrItems()
	for i := pos; i < n-1; i++ {
		b.setItemOffset(i, b.itemOffset(i+1))
	}
	b.setNrItems(n - 1)
}

// CompactItems reclaims fragmentation by repacking items against the back
// of the block (spec §4.1). It is destructive to in-block item addresses:
// it must never run while a cursor references an item in this block.
func (b *Block) CompactItems() {
	n := b.NrItems()
	type slot struct {
		pos int
		off int
	}
	slots := make([]slot, n)
	for i := 0; i < n; i++ {
		slots[i] = slot{pos: i, off: b.itemOffset(i)}
	}
	// Sort by offset descending: process the item nearest the block's
	// end first, packing each subsequent (lower-offset) item directly
	// below it.
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j-1].off < slots[j].off; j-- {
			slots[j-1], slots[j] = slots[j], slots[j-1]
		}
	}

	oldFreeEnd := b.FreeEnd()
	end := len(b.data)
	for _, s := range slots {
		valLen := b.valLenAtOffset(s.off)
		sz := ValBytes(valLen)
		end -= sz
		if s.off != end {
			copy(b.data[end:end+sz], b.data[s.off:s.off+sz])
		}
		b.setItemOffset(s.pos, end)
	}
	if end > oldFreeEnd {
		for i := oldFreeEnd; i < end; i++ {
			b.data[i] = 0
		}
	}
	b.setFreeEnd(end)
	b.setFreeReclaim(0)
}

// MoveItems migrates items between sibling blocks per spec §4.1, without
// touching either block's key-sort discipline. If moveRight, items are
// taken from src's tail and inserted at dst's head; otherwise they are
// taken from src's head and appended to dst's tail. Migration stops once
// budget bytes (counting each item's full offset+header+value cost) have
// moved, or src empties.
func MoveItems(dst, src *Block, moveRight bool, budget int) {
	for budget > 0 && src.NrItems() > 0 {
		var srcPos, dstPos int
		if moveRight {
			srcPos = src.NrItems() - 1
			dstPos = 0
		} else {
			srcPos = 0
			dstPos = dst.NrItems()
		}

		k := src.Key(srcPos)
		valLen := src.ValLen(srcPos)
		cost := AllValBytes(valLen)

		if dst.ContigFree() < AllValBytes(valLen) {
			dst.CompactItems()
		}
		dstVal, err := dst.CreateItem(dstPos, k, valLen)
		if err != nil {
			// Destination genuinely cannot fit this item even after
			// compaction; stop migrating rather than corrupt state.
			return
		}
		copy(dstVal, src.Value(srcPos))
		dst.SetItemSeq(dstPos, src.ItemSeq(srcPos))

		src.DeleteItem(srcPos)
		budget -= cost
	}
}
