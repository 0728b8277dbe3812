package btree

import (
	"fmt"
	"testing"
)

// TestIteratorVisitsKeysInOrder covers spec §8 scenario 5's range-iteration
// half: NewIterator must yield every key in [first, last] in ascending
// order, re-entering the walker across leaf boundaries.
func TestIteratorVisitsKeysInOrder(t *testing.T) {
	bt := newTestTree(512)

	const n = 150
	for i := 0; i < n; i++ {
		insertStr(t, bt, keyN(i), fmt.Sprintf("v%03d", i))
	}

	it := bt.NewIterator(keyN(0), keyN(n-1))
	defer it.Release()

	prev := -1
	count := 0
	for {
		ok, err := it.Next()
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		if !ok {
			break
		}
		got := int(it.Key().ObjectID)
		if got <= prev {
			t.Fatalf("keys out of order: %d after %d", got, prev)
		}
		want := fmt.Sprintf("v%03d", got)
		if string(it.Value()) != want {
			t.Fatalf("key %d: got value %q want %q", got, it.Value(), want)
		}
		prev = got
		count++
	}
	if count != n {
		t.Fatalf("expected %d items, visited %d", n, count)
	}
}

// TestIteratorHonorsRangeBounds ensures first/last narrows the visited set.
func TestIteratorHonorsRangeBounds(t *testing.T) {
	bt := newTestTree(512)
	for i := 0; i < 50; i++ {
		insertStr(t, bt, keyN(i), "v")
	}

	it := bt.NewIterator(keyN(10), keyN(19))
	defer it.Release()

	count := 0
	for {
		ok, err := it.Next()
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		if !ok {
			break
		}
		got := int(it.Key().ObjectID)
		if got < 10 || got > 19 {
			t.Fatalf("key %d outside requested range [10,19]", got)
		}
		count++
	}
	if count != 10 {
		t.Fatalf("expected 10 items in range, got %d", count)
	}
}

// TestSinceIteratorFiltersBySeq covers spec §8 scenario 5's since() half:
// only items whose seq is at or above the requested sequence are visited,
// relying on subtree pruning via parent ref seqs.
func TestSinceIteratorFiltersBySeq(t *testing.T) {
	bt := newTestTree(512)

	bt.BeginDirtySeq(1)
	for i := 0; i < 40; i++ {
		c, err := bt.Insert(keyN(i), 1)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		c.Value()[0] = 'a'
		c.Release()
	}

	bt.BeginDirtySeq(2)
	for i := 20; i < 30; i++ {
		if err := bt.Dirty(keyN(i)); err != nil {
			t.Fatalf("dirty %d: %v", i, err)
		}
		c, err := bt.Update(keyN(i))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		c.Value()[0] = 'b'
		c.Release()
	}

	it := bt.SinceIterator(keyN(0), keyN(39), 2)
	defer it.Release()

	seen := map[int]bool{}
	for {
		ok, err := it.Next()
		if err != nil {
			t.Fatalf("since iterator error: %v", err)
		}
		if !ok {
			break
		}
		k := int(it.Key().ObjectID)
		if k < 20 || k >= 30 {
			t.Fatalf("unexpected key %d surfaced by since(2)", k)
		}
		if it.Seq() < 2 {
			t.Fatalf("key %d has stale seq %d", k, it.Seq())
		}
		seen[k] = true
	}
	for i := 20; i < 30; i++ {
		if !seen[i] {
			t.Fatalf("expected updated key %d to be visited", i)
		}
	}
}

// TestHoleFindsFirstMissingKey covers spec §8 scenario 6: Hole reports the
// least key in [first, last] that is not present.
func TestHoleFindsFirstMissingKey(t *testing.T) {
	bt := newTestTree(512)
	for i := 0; i < 20; i++ {
		if i == 7 {
			continue
		}
		insertStr(t, bt, adjKey(i), "v")
	}

	hole, err := bt.Hole(adjKey(0), adjKey(19))
	if err != nil {
		t.Fatalf("hole: %v", err)
	}
	if hole != adjKey(7) {
		t.Fatalf("expected hole at key 7, got %+v", hole)
	}
}

// TestHoleFullRangeReturnsErrNoSpace covers the case where every key in
// the requested range is already present.
func TestHoleFullRangeReturnsErrNoSpace(t *testing.T) {
	bt := newTestTree(512)
	for i := 0; i < 10; i++ {
		insertStr(t, bt, adjKey(i), "v")
	}

	_, err := bt.Hole(adjKey(0), adjKey(9))
	if err != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

// TestHoleOnEmptyRangeReturnsFirst covers the trivial case: nothing
// inserted in [first, last] at all.
func TestHoleOnEmptyRangeReturnsFirst(t *testing.T) {
	bt := newTestTree(512)
	insertStr(t, bt, keyN(100), "v")

	hole, err := bt.Hole(keyN(0), keyN(10))
	if err != nil {
		t.Fatalf("hole: %v", err)
	}
	if hole != keyN(0) {
		t.Fatalf("expected hole at key 0, got %+v", hole)
	}
}

func TestCursorWritableReflectsOrigin(t *testing.T) {
	bt := newTestTree(512)
	insertStr(t, bt, keyN(1), "v")

	rc, err := bt.Lookup(keyN(1))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rc.Writable() {
		t.Fatalf("lookup cursor should not be writable")
	}
	rc.Release()

	bt.BeginDirtySeq(2)
	wc, err := bt.Insert(keyN(2), 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !wc.Writable() {
		t.Fatalf("insert cursor should be writable")
	}
	wc.Release()
	wc.Release() // Release must be idempotent
}
