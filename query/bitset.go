package query

import "sort"

// arrayToBitmapThreshold is the cardinality at which DocSet converts its
// backing array container to a word-bitmap container, adapted from the
// teacher's storage.ContainerConversionThreshold (storage/roaring.go) — the
// same array-vs-bitmap tradeoff, generalized from a fixed 16-bit universe to
// an arbitrary docno range, since a query evaluator's accumulator set spans
// the whole collection rather than one 65536-wide roaring container.
const arrayToBitmapThreshold = 4096

// DocSet is a growable set of docnos used by AccumulatorSet to answer
// "does an accumulator exist for this docno" faster than an O(n) linked-list
// scan once the accumulator count grows large. It starts as a sorted array
// (cheap for the small accumulator sets typical of early OR-phase processing)
// and converts to a map of 64-bit word bitmasks once cardinality crosses
// arrayToBitmapThreshold.
type DocSet struct {
	array []uint64
	words map[uint64]uint64 // docno/64 -> bitmask; non-nil once converted
	count int
}

// NewDocSet returns an empty DocSet.
func NewDocSet() *DocSet {
	return &DocSet{}
}

// Contains reports whether docno has been added.
func (s *DocSet) Contains(docno uint64) bool {
	if s.words != nil {
		w, ok := s.words[docno/64]
		return ok && w&(1<<(docno%64)) != 0
	}
	idx := sort.Search(len(s.array), func(i int) bool { return s.array[i] >= docno })
	return idx < len(s.array) && s.array[idx] == docno
}

// Add inserts docno, converting to the bitmap container if this crosses the
// conversion threshold. Adding an already-present docno is a no-op.
func (s *DocSet) Add(docno uint64) {
	if s.Contains(docno) {
		return
	}
	if s.words != nil {
		s.words[docno/64] |= 1 << (docno % 64)
		s.count++
		return
	}
	idx := sort.Search(len(s.array), func(i int) bool { return s.array[i] >= docno })
	s.array = append(s.array, 0)
	copy(s.array[idx+1:], s.array[idx:])
	s.array[idx] = docno
	s.count++
	if len(s.array) > arrayToBitmapThreshold {
		s.convertToBitmap()
	}
}

func (s *DocSet) convertToBitmap() {
	s.words = make(map[uint64]uint64, len(s.array)/32+1)
	for _, d := range s.array {
		s.words[d/64] |= 1 << (d % 64)
	}
	s.array = nil
}

// Cardinality returns the number of distinct docnos added.
func (s *DocSet) Cardinality() int { return s.count }
