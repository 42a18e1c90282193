package index

import (
	"testing"

	"github.com/gmargari/ixengine/page"
)

func TestStorageParamsRoundTripIsExactly20Bytes(t *testing.T) {
	sp := StorageParams{
		PageSize:       4096,
		MaxTermLen:     256,
		MaxFileSize:    1 << 30,
		VocabLeafSize:  512,
		FileLSize:      1 << 20,
		BTLeafStrategy: 1,
		BTNodeStrategy: 2,
		BigEndian:      1,
	}
	encoded := sp.Encode(nil)
	if len(encoded) != 20 {
		t.Fatalf("Encode() length = %d, want 20", len(encoded))
	}
	got, err := DecodeStorageParams(encoded)
	if err != nil {
		t.Fatalf("DecodeStorageParams: %v", err)
	}
	if got != sp {
		t.Fatalf("round trip = %+v, want %+v", got, sp)
	}
}

func TestDecodeStorageParamsShortBuffer(t *testing.T) {
	if _, err := DecodeStorageParams([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding a short buffer")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Magic:   Magic,
		Version: FormatVersion,
		StorageParams: StorageParams{
			PageSize:    4096,
			MaxFileSize: 1 << 30,
		},
		IndexStats: IndexStats{
			TotalDocs:   1000,
			TotalTerms:  5000,
			TotalOccurs: 200000,
			AvgDocLen:   187.5,
		},
		Root:            page.Pointer{FileNo: 3, Offset: 4096},
		VectorsCount:    5000,
		VocabFilesCount: 2,
	}

	encoded := h.Encode()
	got, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip = %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	h := Header{Magic: 0xdeadbeef, Version: FormatVersion}
	encoded := h.Encode()
	if _, err := DecodeHeader(encoded); err == nil {
		t.Fatalf("expected error decoding a bad magic number")
	}
}

func TestDecodeHeaderRejectsTruncated(t *testing.T) {
	h := Header{Magic: Magic, Version: FormatVersion}
	encoded := h.Encode()
	if _, err := DecodeHeader(encoded[:10]); err == nil {
		t.Fatalf("expected error decoding a truncated header")
	}
}
