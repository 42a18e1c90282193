package query

import (
	"math/rand"
	"testing"
)

func TestDocSetArrayPath(t *testing.T) {
	s := NewDocSet()
	s.Add(5)
	s.Add(1)
	s.Add(9)
	if !s.Contains(5) || !s.Contains(1) || !s.Contains(9) {
		t.Fatalf("expected all added docnos present")
	}
	if s.Contains(2) {
		t.Fatalf("did not expect 2 to be present")
	}
	if s.Cardinality() != 3 {
		t.Errorf("cardinality = %d, want 3", s.Cardinality())
	}
	s.Add(5) // duplicate
	if s.Cardinality() != 3 {
		t.Errorf("duplicate add changed cardinality to %d", s.Cardinality())
	}
}

func TestDocSetConvertsToBitmapAndStaysConsistent(t *testing.T) {
	s := NewDocSet()
	r := rand.New(rand.NewSource(1))
	want := map[uint64]bool{}
	for i := 0; i < arrayToBitmapThreshold+500; i++ {
		d := uint64(r.Intn(1_000_000))
		s.Add(d)
		want[d] = true
	}
	if s.words == nil {
		t.Fatalf("expected conversion to bitmap container after crossing threshold")
	}
	if s.Cardinality() != len(want) {
		t.Errorf("cardinality = %d, want %d", s.Cardinality(), len(want))
	}
	for d := range want {
		if !s.Contains(d) {
			t.Errorf("missing docno %d after conversion", d)
		}
	}
	if s.Contains(999_999_999) {
		t.Errorf("unexpected docno present")
	}
}
