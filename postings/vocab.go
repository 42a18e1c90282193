package postings

import (
	"fmt"

	"github.com/gmargari/ixengine/vbyte"
)

// VType identifies a posting vector's layout, per spec.md §3.
type VType uint64

const (
	VTypeDoc    VType = 0 // <d-gap, f_dt>, ordered by docno
	VTypeDocwp  VType = 1 // <d-gap, f_dt, offset-gaps...>, ordered by docno
	VTypeImpact VType = 2 // <blocksize, impact-score, (d-gap, f_dt)*>, ordered by impact
)

// LocationTag distinguishes where a vocabulary entry's payload bytes live.
type LocationTag uint64

const (
	LocationInline LocationTag = 0
	LocationFile   LocationTag = 1
)

// Location is a vocabulary entry's payload location: either the bytes are inlined
// directly in the vocabulary leaf (Inline), or they live in an index.N list file
// at (FileNo, Offset) within an allocated Capacity bytes (File).
type Location struct {
	Tag      LocationTag
	Payload  []byte // valid when Tag == LocationInline; length equals Entry.Size
	Capacity uint64 // valid when Tag == LocationFile
	FileNo   uint32 // valid when Tag == LocationFile
	Offset   uint64 // valid when Tag == LocationFile
}

// Entry is a single term's vocabulary record (spec.md §3/§6). A term may have
// multiple Entries (one per VType it has a vector for); they are concatenated
// within the B+-tree leaf payload for that term.
type Entry struct {
	AttrKind  uint64
	VType     VType
	Size      uint64 // byte length of the posting vector this entry describes
	Docs      uint64
	Occurs    uint64
	LastDocno uint64
	Location  Location
}

// Encode appends e's vbyte-encoded wire form to dst and returns the grown slice.
func Encode(dst []byte, e Entry) ([]byte, error) {
	dst = vbyte.Append(dst, e.AttrKind)
	dst = vbyte.Append(dst, uint64(e.VType))
	dst = vbyte.Append(dst, e.Size)
	dst = vbyte.Append(dst, e.Docs)
	dst = vbyte.Append(dst, e.Occurs)
	dst = vbyte.Append(dst, e.LastDocno)
	dst = vbyte.Append(dst, uint64(e.Location.Tag))

	switch e.Location.Tag {
	case LocationInline:
		if uint64(len(e.Location.Payload)) != e.Size {
			return nil, fmt.Errorf("postings: inline payload length %d does not match Size %d", len(e.Location.Payload), e.Size)
		}
		dst = append(dst, e.Location.Payload...)
	case LocationFile:
		dst = vbyte.Append(dst, e.Location.Capacity)
		dst = vbyte.Append(dst, uint64(e.Location.FileNo))
		dst = vbyte.Append(dst, e.Location.Offset)
	default:
		return nil, fmt.Errorf("postings: unknown location tag %d", e.Location.Tag)
	}
	return dst, nil
}

// Decode parses a single Entry from the front of src, returning the number of
// bytes consumed.
func Decode(src []byte) (Entry, int, error) {
	var e Entry
	pos := 0

	read := func(name string) (uint64, error) {
		v, n, err := vbyte.Read(src[pos:])
		if err != nil {
			return 0, fmt.Errorf("postings: decoding %s: %w", name, err)
		}
		pos += n
		return v, nil
	}

	attrKind, err := read("attr_kind")
	if err != nil {
		return Entry{}, 0, err
	}
	e.AttrKind = attrKind

	vtype, err := read("vtype")
	if err != nil {
		return Entry{}, 0, err
	}
	e.VType = VType(vtype)

	size, err := read("size")
	if err != nil {
		return Entry{}, 0, err
	}
	e.Size = size

	docs, err := read("docs")
	if err != nil {
		return Entry{}, 0, err
	}
	e.Docs = docs

	occurs, err := read("occurs")
	if err != nil {
		return Entry{}, 0, err
	}
	e.Occurs = occurs

	lastDocno, err := read("last_docno")
	if err != nil {
		return Entry{}, 0, err
	}
	e.LastDocno = lastDocno

	locTag, err := read("location_tag")
	if err != nil {
		return Entry{}, 0, err
	}
	e.Location.Tag = LocationTag(locTag)

	switch e.Location.Tag {
	case LocationInline:
		if pos+int(e.Size) > len(src) {
			return Entry{}, 0, fmt.Errorf("postings: truncated inline payload")
		}
		e.Location.Payload = append([]byte(nil), src[pos:pos+int(e.Size)]...)
		pos += int(e.Size)
	case LocationFile:
		cap, err := read("capacity")
		if err != nil {
			return Entry{}, 0, err
		}
		e.Location.Capacity = cap
		fileNo, err := read("fileno")
		if err != nil {
			return Entry{}, 0, err
		}
		e.Location.FileNo = uint32(fileNo)
		offset, err := read("offset")
		if err != nil {
			return Entry{}, 0, err
		}
		e.Location.Offset = offset
	default:
		return Entry{}, 0, fmt.Errorf("postings: unknown location tag %d", e.Location.Tag)
	}

	return e, pos, nil
}
