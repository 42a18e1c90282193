package page

import "testing"

func TestBTBucketSerializeRoundTrip(t *testing.T) {
	bt, err := NewBTBucket(4096, Variable, 0, true)
	if err != nil {
		t.Fatalf("NewBTBucket: %v", err)
	}
	bt.SetSelf(Pointer{FileNo: 1, Offset: 100})
	if err := bt.SetSibling(Pointer{FileNo: 1, Offset: 200}); err != nil {
		t.Fatalf("SetSibling: %v", err)
	}
	bt.Alloc([]byte("alpha"), []byte("1"))
	bt.Alloc([]byte("beta"), []byte("2"))

	raw := bt.Serialize()
	if len(raw) != 4096 {
		t.Fatalf("serialized length = %d, want 4096", len(raw))
	}

	got, err := LoadBTBucket(raw, Variable, 0)
	if err != nil {
		t.Fatalf("LoadBTBucket: %v", err)
	}
	if !got.IsLeaf() {
		t.Errorf("expected leaf")
	}
	sib, err := got.Sibling()
	if err != nil || sib != (Pointer{FileNo: 1, Offset: 200}) {
		t.Errorf("sibling = %+v, err=%v", sib, err)
	}
	v, err := got.Find([]byte("beta"))
	if err != nil || string(v) != "2" {
		t.Errorf("Find(beta) = %v, %v", v, err)
	}
}

func TestBTBucketChecksumDetectsCorruption(t *testing.T) {
	bt, _ := NewBTBucket(2048, Variable, 0, true)
	bt.Alloc([]byte("k"), []byte("v"))
	raw := bt.Serialize()
	raw[0] ^= 0xff

	if _, err := LoadBTBucket(raw, Variable, 0); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestBTBucketRightmostSentinel(t *testing.T) {
	bt, _ := NewBTBucket(2048, Variable, 0, true)
	self := Pointer{FileNo: 3, Offset: 9000}
	bt.SetSelf(self)
	bt.SetSibling(self)

	if !bt.IsRightmost() {
		t.Fatalf("expected IsRightmost() true when sibling equals self")
	}

	bt.SetSibling(Pointer{FileNo: 3, Offset: 9999})
	if bt.IsRightmost() {
		t.Fatalf("expected IsRightmost() false for a real forward pointer")
	}
}

func TestBTBucketPrefixRoundTrip(t *testing.T) {
	bt, _ := NewBTBucket(4096, Variable, 0, true)
	bt.SetPrefix([]byte("hello"))

	raw := bt.Serialize()
	got, err := LoadBTBucket(raw, Variable, 0)
	if err != nil {
		t.Fatalf("LoadBTBucket: %v", err)
	}
	if string(got.Prefix()) != "hello" {
		t.Fatalf("Prefix() = %q, want %q", got.Prefix(), "hello")
	}
}

func TestBTBucketPrefixTruncatesToMaxLen(t *testing.T) {
	bt, _ := NewBTBucket(4096, Variable, 0, true)
	long := make([]byte, maxPrefixLen+10)
	for i := range long {
		long[i] = 'a'
	}
	bt.SetPrefix(long)
	if len(bt.Prefix()) != maxPrefixLen {
		t.Fatalf("len(Prefix()) = %d, want %d", len(bt.Prefix()), maxPrefixLen)
	}
}

func TestCommonPrefix(t *testing.T) {
	cases := []struct {
		keys [][]byte
		want string
	}{
		{[][]byte{[]byte("apple"), []byte("application")}, "appl"},
		{[][]byte{[]byte("apple")}, "apple"},
		{[][]byte{[]byte("apple"), []byte("banana")}, ""},
		{nil, ""},
	}
	for _, c := range cases {
		got := CommonPrefix(c.keys)
		if string(got) != c.want {
			t.Errorf("CommonPrefix(%q) = %q, want %q", c.keys, got, c.want)
		}
	}
}

func TestBTBucketInternalRejectsSibling(t *testing.T) {
	bt, _ := NewBTBucket(2048, Variable, 0, false)
	if err := bt.SetSibling(Pointer{FileNo: 1, Offset: 1}); err == nil {
		t.Fatalf("expected error setting sibling on internal node")
	}
	if _, err := bt.Sibling(); err == nil {
		t.Fatalf("expected error reading sibling on internal node")
	}
}
