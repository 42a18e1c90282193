package page

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// btTrailer accounts for the fields BTBucket stamps into the tail of the
// underlying Bucket's backing page, beyond the plain Bucket directory/data area:
// a shared-prefix area (spec.md §3/§4.3's "common-prefix area"), a one-byte
// leaf/internal flag, an 8-byte sibling fileno, an 8-byte sibling offset and an
// 8-byte xxhash64 checksum of everything preceding it.
const (
	// maxPrefixLen bounds the shared-prefix area to a fixed reserved size so
	// NewBTBucket can size the inner Bucket before any key has been inserted;
	// a common prefix longer than this is simply truncated (still a valid,
	// if non-maximal, common prefix of every key in the bucket).
	maxPrefixLen  = 32
	prefixLenSize = 1
	prefixArea    = prefixLenSize + maxPrefixLen
	flagSize      = 1
	siblingSize   = 8 + 8 // fileno + offset, big-endian
	checksumSize  = 8
	btTrailer     = prefixArea + flagSize + siblingSize + checksumSize
)

// Pointer identifies a page on disk by file number and byte offset.
type Pointer struct {
	FileNo uint32
	Offset uint64
}

// NoSibling is the zero Pointer, meaning "no sibling" for an internal BTBucket or an
// as-yet-unset sibling slot.
var NoSibling = Pointer{}

// BTBucket wraps a Bucket with the metadata a threaded-leaf B+-tree needs: whether
// this node is a leaf or internal, a leaf's right-sibling pointer (internal nodes
// never use this field), the shared prefix common to every key currently stored in
// the bucket (spec.md §4.3's prefix-B-tree area — advisory metadata a writer
// derives from its keys, not a key-compression scheme the underlying Bucket itself
// needs to know about), and a checksum guarding the whole page against silent
// corruption (closing the integrity gap the teacher's segment format never filled).
type BTBucket struct {
	*Bucket
	isLeaf  bool
	sibling Pointer
	prefix  []byte
	self    Pointer // this bucket's own on-disk address, used only to detect the
	// rightmost-leaf self-sibling sentinel; never dereferenced as a jump target.
}

// NewBTBucket allocates an empty leaf or internal node of the given capacity and
// strategy. capacity must leave room for both the Bucket's own header/directory
// overhead and the BTBucket trailer.
func NewBTBucket(capacity int, strategy Strategy, fixedValueSize int, isLeaf bool) (*BTBucket, error) {
	if capacity <= btTrailer {
		return nil, fmt.Errorf("page: capacity %d too small for BTBucket trailer", capacity)
	}
	inner, err := NewBucket(capacity-btTrailer, strategy, fixedValueSize)
	if err != nil {
		return nil, err
	}
	bt := &BTBucket{Bucket: inner, isLeaf: isLeaf}
	return bt, nil
}

// IsLeaf reports whether this node is a leaf (vs. an internal routing node).
func (bt *BTBucket) IsLeaf() bool { return bt.isLeaf }

// SetSelf records this bucket's own disk address, used only to recognise the
// rightmost-leaf sentinel in IsRightmost.
func (bt *BTBucket) SetSelf(p Pointer) { bt.self = p }

// Sibling returns the leaf's right-sibling pointer. Calling it on an internal node
// is a programming error (internal nodes carry no sibling thread).
func (bt *BTBucket) Sibling() (Pointer, error) {
	if !bt.isLeaf {
		return Pointer{}, fmt.Errorf("page: internal nodes have no sibling pointer")
	}
	return bt.sibling, nil
}

// SetSibling sets the leaf's right-sibling pointer.
func (bt *BTBucket) SetSibling(p Pointer) error {
	if !bt.isLeaf {
		return fmt.Errorf("page: cannot set sibling on an internal node")
	}
	bt.sibling = p
	return nil
}

// Prefix returns the bucket's currently recorded shared-prefix bytes.
func (bt *BTBucket) Prefix() []byte { return bt.prefix }

// SetPrefix records p as the shared prefix common to every key currently held by
// the bucket, truncating to maxPrefixLen. Callers (BulkBuilder, on leaf/internal
// finalization) are responsible for deriving p as an actual common prefix of the
// bucket's keys — SetPrefix itself does not verify this.
func (bt *BTBucket) SetPrefix(p []byte) {
	if len(p) > maxPrefixLen {
		p = p[:maxPrefixLen]
	}
	bt.prefix = append([]byte(nil), p...)
}

// CommonPrefix returns the longest common byte prefix of keys, or nil if keys is
// empty. Used by writers to derive the value to pass to SetPrefix.
func CommonPrefix(keys [][]byte) []byte {
	if len(keys) == 0 {
		return nil
	}
	prefix := keys[0]
	for _, k := range keys[1:] {
		n := len(prefix)
		if len(k) < n {
			n = len(k)
		}
		i := 0
		for i < n && prefix[i] == k[i] {
			i++
		}
		prefix = prefix[:i]
		if len(prefix) == 0 {
			break
		}
	}
	return prefix
}

// IsRightmost reports whether this leaf is the rightmost leaf in the tree: the
// rightmost leaf's sibling pointer is a sentinel set to the leaf's own address
// rather than a real forward pointer, and callers must check this before following
// Sibling() to avoid looping forever on the last leaf.
func (bt *BTBucket) IsRightmost() bool {
	return bt.isLeaf && bt.sibling == bt.self
}

// Serialize writes the trailer (shared-prefix area, flag, sibling, checksum) into
// the tail of the page and returns the full byte slice (Bucket area + trailer),
// ready to write to disk. The checksum covers every byte preceding it.
func (bt *BTBucket) Serialize() []byte {
	page := bt.Bucket.Bytes()
	full := make([]byte, len(page)+btTrailer)
	copy(full, page)

	off := len(page)
	full[off] = byte(len(bt.prefix))
	off += prefixLenSize
	copy(full[off:off+maxPrefixLen], bt.prefix)
	off += maxPrefixLen

	if bt.isLeaf {
		full[off] = 1
	} else {
		full[off] = 0
	}
	off += flagSize
	binary.BigEndian.PutUint64(full[off:off+8], uint64(bt.sibling.FileNo))
	off += 8
	binary.BigEndian.PutUint64(full[off:off+8], bt.sibling.Offset)
	off += 8

	sum := xxhash.Sum64(full[:off])
	binary.BigEndian.PutUint64(full[off:off+8], sum)
	return full
}

// LoadBTBucket reconstructs a BTBucket from a full on-disk page, verifying its
// checksum. strategy/fixedValueSize describe the Bucket area's record layout and
// must match what the page was written with (carried externally, e.g. in the
// vocabulary's tree-level metadata, since the page itself stores no strategy tag).
func LoadBTBucket(full []byte, strategy Strategy, fixedValueSize int) (*BTBucket, error) {
	if len(full) <= btTrailer {
		return nil, fmt.Errorf("page: page too small to contain a BTBucket trailer")
	}
	dataEnd := len(full) - btTrailer
	off := dataEnd

	wantSum := xxhash.Sum64(full[:off+prefixArea+flagSize+siblingSize])
	gotSum := binary.BigEndian.Uint64(full[off+prefixArea+flagSize+siblingSize : off+prefixArea+flagSize+siblingSize+checksumSize])
	if wantSum != gotSum {
		return nil, fmt.Errorf("page: checksum mismatch (page corrupted)")
	}

	prefixLen := int(full[off])
	off += prefixLenSize
	prefix := append([]byte(nil), full[off:off+prefixLen]...)
	off += maxPrefixLen

	isLeaf := full[off] == 1
	off += flagSize
	fileNo := binary.BigEndian.Uint64(full[off : off+8])
	off += 8
	offset := binary.BigEndian.Uint64(full[off : off+8])

	inner := Load(full[:dataEnd], strategy, fixedValueSize)
	bt := &BTBucket{
		Bucket:  inner,
		isLeaf:  isLeaf,
		sibling: Pointer{FileNo: uint32(fileNo), Offset: offset},
		prefix:  prefix,
	}
	return bt, nil
}
