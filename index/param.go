// Package index ties vbyte, page, btree, postings, merge, query, docmap, and
// fd together behind the Index handle's entry points: Create/Open (write or
// read the param header), AddDocument plus Flush (build and merge), and
// Search/SearchGroups.
package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/gmargari/ixengine/page"
)

// Magic identifies the param file format.
const Magic uint32 = 0x49584e47 // "IXNG"

// FormatVersion is the current param/vocab/index on-disk format version.
const FormatVersion uint16 = 1

// StorageParams is spec.md §6's packed, fixed 20-byte, big-endian
// configuration record: "pagesize:u32, max_termlen:u16, max_filesize:u32,
// vocab_lsize:u16, file_lsize:u32, btleaf_strategy:u8, btnode_strategy:u8,
// bigendian:u8".
type StorageParams struct {
	PageSize       uint32
	MaxTermLen     uint16
	MaxFileSize    uint32
	VocabLeafSize  uint16
	FileLSize      uint32
	BTLeafStrategy uint8
	BTNodeStrategy uint8
	BigEndian      uint8
}

// storageParamsSize is the summed width of the named fields; the encoded
// record is one byte longer (20) because of a trailing pad byte.
const storageParamsSize = 4 + 2 + 4 + 2 + 4 + 1 + 1 + 1 // = 19

// Encode appends sp's packed big-endian representation to dst. spec.md says
// the record is "20 bytes exactly"; the named fields sum to 19, so a single
// reserved zero pad byte makes up the difference.
func (sp StorageParams) Encode(dst []byte) []byte {
	var buf [storageParamsSize + 1]byte
	binary.BigEndian.PutUint32(buf[0:4], sp.PageSize)
	binary.BigEndian.PutUint16(buf[4:6], sp.MaxTermLen)
	binary.BigEndian.PutUint32(buf[6:10], sp.MaxFileSize)
	binary.BigEndian.PutUint16(buf[10:12], sp.VocabLeafSize)
	binary.BigEndian.PutUint32(buf[12:16], sp.FileLSize)
	buf[16] = sp.BTLeafStrategy
	buf[17] = sp.BTNodeStrategy
	buf[18] = sp.BigEndian
	buf[19] = 0
	return append(dst, buf[:]...)
}

// DecodeStorageParams reads the 20-byte packed record from the front of src.
func DecodeStorageParams(src []byte) (StorageParams, error) {
	if len(src) < storageParamsSize+1 {
		return StorageParams{}, fmt.Errorf("index: storage_params short read: need %d, have %d", storageParamsSize+1, len(src))
	}
	return StorageParams{
		PageSize:       binary.BigEndian.Uint32(src[0:4]),
		MaxTermLen:     binary.BigEndian.Uint16(src[4:6]),
		MaxFileSize:    binary.BigEndian.Uint32(src[6:10]),
		VocabLeafSize:  binary.BigEndian.Uint16(src[10:12]),
		FileLSize:      binary.BigEndian.Uint32(src[12:16]),
		BTLeafStrategy: src[16],
		BTNodeStrategy: src[17],
		BigEndian:      src[18],
	}, nil
}

// IndexStats carries collection-wide statistics the query evaluator needs
// for scoring (avgdl, N) without having to scan the whole vocabulary.
type IndexStats struct {
	TotalDocs   uint64
	TotalTerms  uint64
	TotalOccurs uint64
	AvgDocLen   float64
}

func (s IndexStats) encode(dst []byte) []byte {
	var buf [8 + 8 + 8 + 8]byte
	binary.BigEndian.PutUint64(buf[0:8], s.TotalDocs)
	binary.BigEndian.PutUint64(buf[8:16], s.TotalTerms)
	binary.BigEndian.PutUint64(buf[16:24], s.TotalOccurs)
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(s.AvgDocLen))
	return append(dst, buf[:]...)
}

func decodeIndexStats(src []byte) (IndexStats, error) {
	if len(src) < 32 {
		return IndexStats{}, fmt.Errorf("index: index_stats short read: need 32, have %d", len(src))
	}
	return IndexStats{
		TotalDocs:   binary.BigEndian.Uint64(src[0:8]),
		TotalTerms:  binary.BigEndian.Uint64(src[8:16]),
		TotalOccurs: binary.BigEndian.Uint64(src[16:24]),
		AvgDocLen:   math.Float64frombits(binary.BigEndian.Uint64(src[24:32])),
	}, nil
}

// Header is the single param-file page spec.md §6 describes: `{magic,
// version, storage_params, index_stats, root_fileno, root_offset,
// vectors_count, vocab_files_count}`, plus the vocab/list write-cursor
// positions a subsequent Flush must resume appending at (spec.md §4.5/§7:
// new output never overwrites a still-live old file) — not part of spec.md's
// named param fields, but required state for any multi-cycle Merger driver.
type Header struct {
	Magic           uint32
	Version         uint16
	StorageParams   StorageParams
	IndexStats      IndexStats
	Root            page.Pointer // root_fileno, root_offset
	VectorsCount    uint64
	VocabFilesCount uint32
	NextVocab       page.Pointer // where the next Flush's vocabulary builder resumes
	NextList        page.Pointer // where the next Flush's list writer resumes
}

// Encode serializes h into the param page's on-disk bytes.
func (h Header) Encode() []byte {
	buf := make([]byte, 0, 4+2+32+32+4+8+8+4+12+12)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], h.Magic)
	buf = append(buf, tmp[:]...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], h.Version)
	buf = append(buf, tmp2[:]...)
	buf = h.StorageParams.Encode(buf)
	buf = h.IndexStats.encode(buf)
	binary.BigEndian.PutUint32(tmp[:], h.Root.FileNo)
	buf = append(buf, tmp[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], h.Root.Offset)
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint64(tmp8[:], h.VectorsCount)
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.VocabFilesCount)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.NextVocab.FileNo)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp8[:], h.NextVocab.Offset)
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.NextList.FileNo)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp8[:], h.NextList.Offset)
	buf = append(buf, tmp8[:]...)
	return buf
}

// DecodeHeader parses a param page's bytes back into a Header, rejecting
// anything not carrying the expected magic number.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < 6 {
		return Header{}, io.ErrUnexpectedEOF
	}
	var h Header
	h.Magic = binary.BigEndian.Uint32(src[0:4])
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("index: bad param magic %#x, want %#x", h.Magic, Magic)
	}
	h.Version = binary.BigEndian.Uint16(src[4:6])
	pos := 6

	sp, err := DecodeStorageParams(src[pos:])
	if err != nil {
		return Header{}, err
	}
	h.StorageParams = sp
	pos += storageParamsSize + 1

	stats, err := decodeIndexStats(src[pos:])
	if err != nil {
		return Header{}, err
	}
	h.IndexStats = stats
	pos += 32

	if len(src[pos:]) < 4+8+8+4 {
		return Header{}, io.ErrUnexpectedEOF
	}
	h.Root.FileNo = binary.BigEndian.Uint32(src[pos : pos+4])
	pos += 4
	h.Root.Offset = binary.BigEndian.Uint64(src[pos : pos+8])
	pos += 8
	h.VectorsCount = binary.BigEndian.Uint64(src[pos : pos+8])
	pos += 8
	h.VocabFilesCount = binary.BigEndian.Uint32(src[pos : pos+4])
	pos += 4

	if len(src[pos:]) < 4+8+4+8 {
		return Header{}, io.ErrUnexpectedEOF
	}
	h.NextVocab.FileNo = binary.BigEndian.Uint32(src[pos : pos+4])
	pos += 4
	h.NextVocab.Offset = binary.BigEndian.Uint64(src[pos : pos+8])
	pos += 8
	h.NextList.FileNo = binary.BigEndian.Uint32(src[pos : pos+4])
	pos += 4
	h.NextList.Offset = binary.BigEndian.Uint64(src[pos : pos+8])

	return h, nil
}
