package key

import "testing"

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		a, b Key
		want int
	}{
		{Key{1, 0, 0}, Key{2, 0, 0}, -1},
		{Key{2, 0, 0}, Key{1, 0, 0}, 1},
		{Key{1, 1, 0}, Key{1, 2, 0}, -1},
		{Key{1, 1, 5}, Key{1, 1, 6}, -1},
		{Key{1, 1, 5}, Key{1, 1, 5}, 0},
	}
	for _, c := range cases {
		got := Compare(c.a, c.b)
		if (got < 0) != (c.want < 0) || (got > 0) != (c.want > 0) || (got == 0) != (c.want == 0) {
			t.Errorf("Compare(%+v, %+v) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSuccessorCarries(t *testing.T) {
	k, ok := Successor(Key{1, 1, ^uint64(0)})
	if !ok || k != (Key{1, 2, 0}) {
		t.Fatalf("expected carry into ItemType, got %+v ok=%v", k, ok)
	}

	k, ok = Successor(Key{1, ^uint8(0), ^uint64(0)})
	if !ok || k != (Key{2, 0, 0}) {
		t.Fatalf("expected carry into ObjectID, got %+v ok=%v", k, ok)
	}

	_, ok = Successor(MaxKey())
	if ok {
		t.Fatalf("MaxKey should have no successor")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	k := Key{ObjectID: 0x0102030405060708, ItemType: 0x42, Offset: 0x1112131415161718}
	buf := make([]byte, Size)
	Encode(k, buf)
	got := Decode(buf)
	if got != k {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, k)
	}
}

func TestMaxKeySortsLast(t *testing.T) {
	if !Less(Key{ObjectID: ^uint64(0) - 1}, MaxKey()) {
		t.Fatal("MaxKey should sort after any ordinary key")
	}
}
