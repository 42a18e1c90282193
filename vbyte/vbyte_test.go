package vbyte

import (
	"testing"
)

func TestRoundTripBoundaries(t *testing.T) {
	cases := []struct {
		n      uint64
		length int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{1<<28 - 1, 4},
		{1 << 28, 5},
		{1<<32 - 1, 5},
	}

	for _, c := range cases {
		buf := make([]byte, 10)
		n := Write(buf, c.n)
		if n != c.length {
			t.Errorf("Write(%d): got length %d, want %d", c.n, n, c.length)
		}
		if got := Len(c.n); got != c.length {
			t.Errorf("Len(%d): got %d, want %d", c.n, got, c.length)
		}
		got, consumed, err := Read(buf[:n])
		if err != nil {
			t.Fatalf("Read(%d): unexpected error %v", c.n, err)
		}
		if consumed != n {
			t.Errorf("Read(%d): consumed %d, want %d", c.n, consumed, n)
		}
		if got != c.n {
			t.Errorf("Read(%d): got %d", c.n, got)
		}
	}
}

func TestLenMonotonicNonDecreasing(t *testing.T) {
	prev := Len(0)
	for n := uint64(1); n < 1<<20; n += 997 {
		l := Len(n)
		if l < prev {
			t.Fatalf("Len(%d)=%d shorter than previous Len=%d", n, l, prev)
		}
		prev = l
	}
}

func TestShortBuffer(t *testing.T) {
	buf := make([]byte, 1)
	if n := Write(buf, 1<<20); n != 0 {
		t.Errorf("expected 0 bytes written for short buffer, got %d", n)
	}
}

func TestTruncated(t *testing.T) {
	buf := []byte{0x80, 0x80}
	_, _, err := Read(buf)
	if err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReadWidthOverflow(t *testing.T) {
	buf := Append(nil, 1<<20)
	_, _, err := ReadWidth(buf, 16)
	if err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	// Exactly fitting in the width must succeed.
	buf2 := Append(nil, (1<<16)-1)
	n, _, err := ReadWidth(buf2, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != (1<<16)-1 {
		t.Errorf("got %d", n)
	}
}

func TestScan(t *testing.T) {
	var buf []byte
	values := []uint64{1, 300, 70000, 0, 127, 128}
	for _, v := range values {
		buf = Append(buf, v)
	}

	scanned, consumed := Scan(buf, len(values))
	if scanned != len(values) {
		t.Fatalf("scanned %d, want %d", scanned, len(values))
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d, want %d", consumed, len(buf))
	}

	// Scanning fewer than available stops early with a shorter byte count.
	scanned2, consumed2 := Scan(buf, 2)
	if scanned2 != 2 {
		t.Fatalf("scanned %d, want 2", scanned2)
	}
	want := Len(values[0]) + Len(values[1])
	if consumed2 != want {
		t.Fatalf("consumed %d, want %d", consumed2, want)
	}
}

func TestScanTruncatedTail(t *testing.T) {
	buf := Append(nil, 42)
	buf = append(buf, 0x80) // dangling continuation byte, no terminator
	scanned, _ := Scan(buf, 2)
	if scanned != 1 {
		t.Fatalf("scanned %d, want 1 (truncated second integer not counted)", scanned)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<32 - 1}
	buf := ArrayWrite(nil, values)
	got, consumed, err := ArrayRead(buf, len(values))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d, want %d", consumed, len(buf))
	}
	if len(got) != len(values) {
		t.Fatalf("got %d values, want %d", len(got), len(values))
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], values[i])
		}
	}
}

func TestArrayReadExhausted(t *testing.T) {
	buf := ArrayWrite(nil, []uint64{1, 2})
	_, _, err := ArrayRead(buf, 3)
	if err == nil {
		t.Fatal("expected error reading past end of array")
	}
}
