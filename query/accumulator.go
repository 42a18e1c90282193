package query

// Accumulator is one candidate result document's running score, spec.md
// §4.6's "accumulator" — created the first time any conjunct's OR phase
// touches a docno, then updated by every subsequent conjunct that also
// touches it.
type Accumulator struct {
	Docno  uint64
	Weight float64

	next *Accumulator
}

// AccumulatorSet is the sorted-by-docno singly linked list of live
// accumulators spec.md §4.6 describes ("find-or-insert into a sorted list"),
// with a DocSet membership index so Find need not walk the whole list once
// the accumulator count is large.
type AccumulatorSet struct {
	head, tail *Accumulator
	count      int
	seen       *DocSet
}

// NewAccumulatorSet returns an empty set.
func NewAccumulatorSet() *AccumulatorSet {
	return &AccumulatorSet{seen: NewDocSet()}
}

// Count returns the number of live accumulators.
func (s *AccumulatorSet) Count() int { return s.count }

// Find returns the accumulator for docno, or nil if none exists.
func (s *AccumulatorSet) Find(docno uint64) *Accumulator {
	if !s.seen.Contains(docno) {
		return nil
	}
	for a := s.head; a != nil; a = a.next {
		if a.Docno == docno {
			return a
		}
		if a.Docno > docno {
			break
		}
	}
	return nil
}

// InsertInOrder creates a new accumulator for docno with the given initial
// weight and splices it into the list in ascending-docno order. Callers must
// only call this when Find(docno) has already returned nil.
func (s *AccumulatorSet) InsertInOrder(docno uint64, weight float64) *Accumulator {
	acc := &Accumulator{Docno: docno, Weight: weight}
	s.seen.Add(docno)
	s.count++

	if s.head == nil || docno < s.head.Docno {
		acc.next = s.head
		s.head = acc
		if s.tail == nil {
			s.tail = acc
		}
		return acc
	}

	prev := s.head
	for prev.next != nil && prev.next.Docno < docno {
		prev = prev.next
	}
	acc.next = prev.next
	prev.next = acc
	if acc.next == nil {
		s.tail = acc
	}
	return acc
}

// PruneBelow removes every accumulator whose Weight is strictly below vt, as
// the THRESHOLD phase's rethresh step does when v_t rises (spec.md §4.6).
//
// seen is left with possibly-stale true entries for pruned docnos; this is
// harmless since Find's list scan is still authoritative for membership —
// seen only short-circuits the definitely-absent case.
func (s *AccumulatorSet) PruneBelow(vt float64) {
	var newHead, newTail *Accumulator
	kept := 0
	for a := s.head; a != nil; {
		next := a.next
		if a.Weight >= vt {
			a.next = nil
			if newHead == nil {
				newHead = a
			} else {
				newTail.next = a
			}
			newTail = a
			kept++
		}
		a = next
	}
	s.head, s.tail, s.count = newHead, newTail, kept
}

// Each visits every live accumulator in ascending-docno order.
func (s *AccumulatorSet) Each(fn func(*Accumulator)) {
	for a := s.head; a != nil; a = a.next {
		fn(a)
	}
}
