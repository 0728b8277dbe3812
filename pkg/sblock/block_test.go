package sblock

import (
	"bytes"
	"testing"

	"github.com/plume/sbtree/pkg/key"
)

func k(objectID uint64, offset uint64) key.Key {
	return key.Key{ObjectID: objectID, ItemType: 1, Offset: offset}
}

func TestCreateFindValue(t *testing.T) {
	data := make([]byte, 256)
	b := New(data, 1, 1)

	for i, ob := range []uint64{10, 30, 20} {
		pos, cmp := b.FindPos(k(ob, 0))
		if cmp == 0 {
			t.Fatalf("unexpected existing key at iteration %d", i)
		}
		val, err := b.CreateItem(pos, k(ob, 0), 4)
		if err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		copy(val, []byte{byte(ob), 0, 0, 0})
	}

	if b.NrItems() != 3 {
		t.Fatalf("expected 3 items, got %d", b.NrItems())
	}
	// Item offsets must be in strictly key-sorted order (invariant 1).
	for i := 1; i < b.NrItems(); i++ {
		if key.Compare(b.Key(i-1), b.Key(i)) >= 0 {
			t.Fatalf("item_offs not key-sorted at %d", i)
		}
	}

	pos, cmp := b.FindPos(k(20, 0))
	if cmp != 0 {
		t.Fatalf("expected to find key 20, cmp=%d", cmp)
	}
	if got := b.Value(pos)[0]; got != 20 {
		t.Fatalf("expected value byte 20, got %d", got)
	}
}

func TestDeleteZeroesAndAccounts(t *testing.T) {
	data := make([]byte, 256)
	b := New(data, 1, 1)
	pos, _ := b.FindPos(k(5, 0))
	val, _ := b.CreateItem(pos, k(5, 0), 8)
	copy(val, bytes.Repeat([]byte{0xFF}, 8))

	reclaimBefore := b.FreeReclaim()
	itemSize := ValBytes(8)
	itemOff := b.FreeEnd()
	b.DeleteItem(0)

	if b.NrItems() != 0 {
		t.Fatalf("expected 0 items after delete")
	}
	if !bytes.Equal(data[itemOff:itemOff+itemSize], make([]byte, itemSize)) {
		t.Fatalf("deleted item bytes not zeroed: %v", data[itemOff:itemOff+itemSize])
	}
	if b.FreeReclaim() != reclaimBefore+itemSize {
		t.Fatalf("free_reclaim not updated: got %d want %d", b.FreeReclaim(), reclaimBefore+itemSize)
	}
}

func TestCompactReclaimsContigFree(t *testing.T) {
	data := make([]byte, 512)
	b := New(data, 1, 1)

	var positions []int
	for i, ob := range []uint64{1, 2, 3, 4} {
		pos, _ := b.FindPos(k(ob, 0))
		val, err := b.CreateItem(pos, k(ob, 0), 16)
		if err != nil {
			t.Fatalf("CreateItem %d: %v", i, err)
		}
		copy(val, bytes.Repeat([]byte{byte(ob)}, 16))
		positions = append(positions, pos)
	}
	_ = positions

	// Delete the second item, fragmenting the block.
	b.DeleteItem(1)
	reclaimable := b.ReclaimableFree()
	if b.FreeReclaim() == 0 {
		t.Fatalf("expected fragmentation after delete")
	}

	b.CompactItems()
	if b.FreeReclaim() != 0 {
		t.Fatalf("expected free_reclaim == 0 after compact, got %d", b.FreeReclaim())
	}
	if b.ContigFree() != reclaimable {
		t.Fatalf("expected contig_free == pre-compact reclaimable_free: got %d want %d", b.ContigFree(), reclaimable)
	}

	// Surviving items' data must be intact after compaction.
	for _, ob := range []uint64{1, 3, 4} {
		pos, cmp := b.FindPos(k(ob, 0))
		if cmp != 0 {
			t.Fatalf("key %d missing after compaction", ob)
		}
		v := b.Value(pos)
		for _, bb := range v {
			if bb != byte(ob) {
				t.Fatalf("value corrupted for key %d: %v", ob, v)
			}
		}
	}
}

func TestSpaceAccountingInvariant(t *testing.T) {
	data := make([]byte, 512)
	b := New(data, 1, 1)
	for _, ob := range []uint64{1, 2, 3} {
		pos, _ := b.FindPos(k(ob, 0))
		if _, err := b.CreateItem(pos, k(ob, 0), 10); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
	}
	b.DeleteItem(0)

	sum := b.ContigFree() + b.FreeReclaim() + b.UsedTotal() + HeaderSize
	if sum != len(data) {
		t.Fatalf("space accounting violated: contig=%d reclaim=%d used=%d header=%d sum=%d want=%d",
			b.ContigFree(), b.FreeReclaim(), b.UsedTotal(), HeaderSize, sum, len(data))
	}
}

func TestMoveItemsLeft(t *testing.T) {
	left := New(make([]byte, 512), 1, 1)
	right := New(make([]byte, 512), 2, 1)

	for _, ob := range []uint64{10, 20, 30, 40} {
		pos, _ := right.FindPos(k(ob, 0))
		val, err := right.CreateItem(pos, k(ob, 0), 4)
		if err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		copy(val, []byte{byte(ob), 0, 0, 0})
	}

	MoveItems(left, right, false, AllValBytes(4)*2)

	if left.NrItems() != 2 {
		t.Fatalf("expected 2 items moved into left, got %d", left.NrItems())
	}
	if right.NrItems() != 2 {
		t.Fatalf("expected 2 items left in right, got %d", right.NrItems())
	}
	// Left must hold the two lowest keys (10, 20); right keeps (30, 40).
	if left.Key(0).ObjectID != 10 || left.Key(1).ObjectID != 20 {
		t.Fatalf("left holds wrong keys: %+v %+v", left.Key(0), left.Key(1))
	}
	if right.Key(0).ObjectID != 30 || right.Key(1).ObjectID != 40 {
		t.Fatalf("right holds wrong keys: %+v %+v", right.Key(0), right.Key(1))
	}
}
