// Package query implements the QueryEvaluator, ListSource, ScoringFunction
// family, and phrase/AND resolver of spec.md §4.6-4.8: it builds a query plan
// over vocabulary lookups, orders conjuncts by selectivity, and runs the
// OR/THRESHOLD/AND accumulator-pressure phases under a pluggable scoring
// function to produce a ranked, paginated result set.
package query

import "github.com/gmargari/ixengine/vbyte"

// ListSource is spec.md §4.6's "uniform lazy-sequence abstraction" over a
// docwp posting list, whichever of "list in memory", "list in a disk range",
// or "list produced by a phrase resolver" backs it.
type ListSource interface {
	// Next decodes and returns the next (docno, f_dt, offsets) record in
	// ascending-docno order, or ok=false once the source is exhausted.
	Next() (docno uint64, fdt int, offsets []uint64, ok bool, err error)
	// Remaining estimates how many records remain undecoded; used by the
	// THRESHOLD phase's rethresh sampling. Need not be exact.
	Remaining() int
}

// MemListSource decodes a docwp vector already resident in RAM.
type MemListSource struct {
	data      []byte
	pos       int
	lastDocno int64
	total     int
	decoded   int
}

// NewMemListSource wraps a docwp-encoded vector. totalDocs is the vector's
// known doc count (Entry.Docs), used only to estimate Remaining.
func NewMemListSource(data []byte, totalDocs int) *MemListSource {
	return &MemListSource{data: data, lastDocno: -1, total: totalDocs}
}

// Next implements ListSource.
func (s *MemListSource) Next() (uint64, int, []uint64, bool, error) {
	if s.pos >= len(s.data) {
		return 0, 0, nil, false, nil
	}
	dgap, n, err := vbyte.Read(s.data[s.pos:])
	if err != nil {
		return 0, 0, nil, false, err
	}
	s.pos += n
	docno := s.lastDocno + int64(dgap) + 1

	fdtVal, n, err := vbyte.Read(s.data[s.pos:])
	if err != nil {
		return 0, 0, nil, false, err
	}
	s.pos += n
	fdt := int(fdtVal)

	gaps, consumed, err := vbyte.ArrayRead(s.data[s.pos:], fdt)
	if err != nil {
		return 0, 0, nil, false, err
	}
	s.pos += consumed

	offsets := make([]uint64, fdt)
	prev := int64(-1)
	for i, g := range gaps {
		v := prev + int64(g) + 1
		offsets[i] = uint64(v)
		prev = v
	}

	s.lastDocno = docno
	s.decoded++
	return uint64(docno), fdt, offsets, true, nil
}

// Remaining implements ListSource.
func (s *MemListSource) Remaining() int {
	r := s.total - s.decoded
	if r < 0 {
		return 0
	}
	return r
}

// DiskReader reads size bytes at (fileno, offset) from an index's list files.
type DiskReader func(fileno uint32, offset, size uint64) ([]byte, error)

// DiskListSource reads a docwp vector's bytes once from disk through a
// DiskReader, then decodes it exactly like MemListSource.
//
// Simplification: a full windowed/buffered disk source (reading ahead in
// fixed-size chunks as spec.md's "buffered disk sources" implies) would avoid
// materializing a whole list at once; here the entire extent is read eagerly
// since list sizes are already bounded by the vocabulary entry they came from.
// Incremental windowing is a follow-on if a list's size budget is raised.
type DiskListSource struct {
	*MemListSource
}

// NewDiskListSource reads size bytes at (fileno, offset) via read and wraps
// them as a ListSource.
func NewDiskListSource(read DiskReader, fileno uint32, offset, size uint64, totalDocs int) (*DiskListSource, error) {
	data, err := read(fileno, offset, size)
	if err != nil {
		return nil, err
	}
	return &DiskListSource{MemListSource: NewMemListSource(data, totalDocs)}, nil
}
