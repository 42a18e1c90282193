package postings

import "testing"

func TestEncodeDecodeInline(t *testing.T) {
	e := Entry{
		AttrKind:  0,
		VType:     VTypeDocwp,
		Size:      4,
		Docs:      10,
		Occurs:    42,
		LastDocno: 99,
		Location:  Location{Tag: LocationInline, Payload: []byte{1, 2, 3, 4}},
	}
	buf, err := Encode(nil, e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if got.VType != VTypeDocwp || got.Docs != 10 || got.Occurs != 42 || got.LastDocno != 99 {
		t.Errorf("got %+v", got)
	}
	if string(got.Location.Payload) != string(e.Location.Payload) {
		t.Errorf("payload mismatch: %v", got.Location.Payload)
	}
}

func TestEncodeDecodeFile(t *testing.T) {
	e := Entry{
		VType:     VTypeDoc,
		Size:      1024,
		Docs:      500,
		Occurs:    1500,
		LastDocno: 4999,
		Location:  Location{Tag: LocationFile, Capacity: 2048, FileNo: 3, Offset: 65536},
	}
	buf, err := Encode(nil, e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if got.Location.Tag != LocationFile || got.Location.Capacity != 2048 || got.Location.FileNo != 3 || got.Location.Offset != 65536 {
		t.Errorf("got %+v", got.Location)
	}
}

func TestEncodeRejectsPayloadSizeMismatch(t *testing.T) {
	e := Entry{
		Size:     5,
		Location: Location{Tag: LocationInline, Payload: []byte{1, 2}},
	}
	if _, err := Encode(nil, e); err == nil {
		t.Fatalf("expected error for mismatched inline payload size")
	}
}

func TestMultipleEntriesConcatenated(t *testing.T) {
	e1 := Entry{VType: VTypeDoc, Size: 2, Location: Location{Tag: LocationInline, Payload: []byte{1, 2}}}
	e2 := Entry{VType: VTypeImpact, Size: 3, Location: Location{Tag: LocationInline, Payload: []byte{3, 4, 5}}}

	buf, err := Encode(nil, e1)
	if err != nil {
		t.Fatal(err)
	}
	buf, err = Encode(buf, e2)
	if err != nil {
		t.Fatal(err)
	}

	got1, n1, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	got2, n2, err := Decode(buf[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if n1+n2 != len(buf) {
		t.Errorf("did not consume full buffer: %d+%d != %d", n1, n2, len(buf))
	}
	if got1.VType != VTypeDoc || got2.VType != VTypeImpact {
		t.Errorf("got %+v %+v", got1, got2)
	}
}
