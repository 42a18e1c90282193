package query

import (
	"github.com/gmargari/ixengine/vbyte"
)

// ConjunctType selects how Resolve's cursors are matched: PHRASE requires
// adjacent-position matches across every cursor at the same docno; AND
// requires only that the docno itself is shared.
type ConjunctType int

const (
	Word ConjunctType = iota
	Phrase
	And
)

// Cursor is spec.md §4.7's per-conjunct-term cursor: a ListSource plus a
// position bias so that, within one document, a phrase match shows up as
// equal biased "term" values across every cursor.
type Cursor struct {
	src    ListSource
	bias   int64
	docno  uint64
	term   int64 // biased position of the occurrence currently at the front
	fdt    int   // f_dt of the current doc, as read from its record
	offs   []uint64
	offIdx int
	done   bool
}

// newCursor wraps src with the given bias (n-1-i for term i of n) and primes
// it with its first record.
func newCursor(src ListSource, bias int) (*Cursor, error) {
	c := &Cursor{src: src, bias: int64(bias)}
	if err := c.advanceDoc(); err != nil {
		return nil, err
	}
	return c, nil
}

// advanceDoc pulls the next document's record from src into the cursor.
func (c *Cursor) advanceDoc() error {
	docno, fdt, offs, ok, err := c.src.Next()
	if err != nil {
		return err
	}
	if !ok {
		c.done = true
		return nil
	}
	c.docno = docno
	c.fdt = fdt
	c.offs = offs
	c.offIdx = 0
	c.term = int64(offs[0]) + c.bias
	return nil
}

// advanceTerm moves to this cursor's next occurrence within the current
// document, or to the next document if the current one is exhausted.
func (c *Cursor) advanceTerm() error {
	c.offIdx++
	if c.offIdx >= len(c.offs) {
		return c.advanceDoc()
	}
	c.term = int64(c.offs[c.offIdx]) + c.bias
	return nil
}

// ResolveSources wraps each of sources as a Cursor (bias n-1-i for term i of
// n, per spec.md §4.7) and resolves them via Resolve — the entry point a
// caller holding ListSources for a phrase or AND query's terms (rather than
// already-built Cursors, an unexported type) should use.
func ResolveSources(sources []ListSource, mode ConjunctType) (vec []byte, ft uint64, bigFt uint64, err error) {
	cursors := make([]*Cursor, len(sources))
	for i, src := range sources {
		c, err := newCursor(src, len(sources)-1-i)
		if err != nil {
			return nil, 0, 0, err
		}
		cursors[i] = c
	}
	return Resolve(cursors, mode)
}

// Resolve implements spec.md §4.7's phrase/AND matcher loop over cursors,
// producing a synthetic in-memory docwp vector with zero-gap offsets (actual
// positions are irrelevant downstream — only that a record exists per match)
// plus aggregate {f_t, F_t} stats for the synthesized conjunct.
func Resolve(cursors []*Cursor, mode ConjunctType) (vec []byte, ft uint64, bigFt uint64, err error) {
	lastDocno := int64(-1)

	for {
		// A match needs every cursor present at the same docno; once any one
		// cursor is exhausted, no further document can possibly satisfy that,
		// so there is nothing left to find.
		if anyDone(cursors) {
			break
		}

		highDocno, highTerm := highWatermark(cursors)

		if mode == Phrase && allMatch(cursors, highDocno, highTerm) {
			// Count repeats: keep advancing every cursor by one term as long
			// as they all still land on the same (docno, term) pair, so one
			// record per document carries the document's full phrase f_dt
			// instead of one record per occurrence.
			fdt := 0
			for {
				fdt++
				for _, c := range cursors {
					if err := c.advanceTerm(); err != nil {
						return nil, 0, 0, err
					}
				}
				if anyDone(cursors) {
					break
				}
				nextDocno, nextTerm := highWatermark(cursors)
				if nextDocno != highDocno || !allMatch(cursors, nextDocno, nextTerm) {
					break
				}
			}
			vec = appendRecord(vec, highDocno, fdt, &lastDocno)
			ft++
			bigFt += uint64(fdt)
			continue
		}

		if mode == And && allDocsEqual(cursors, highDocno) {
			fdt := minFdt(cursors)
			vec = appendRecord(vec, highDocno, fdt, &lastDocno)
			ft++
			bigFt += uint64(fdt)
			for _, c := range cursors {
				if err := c.advanceDoc(); err != nil {
					return nil, 0, 0, err
				}
			}
			continue
		}

		// No match at the high-water mark: advance every cursor that is
		// behind it, by one term in both AND and PHRASE mode; a cursor behind
		// on docno reaches later documents via advanceTerm's doc-rollover.
		for _, c := range cursors {
			if c.done {
				continue
			}
			if c.docno < highDocno || (c.docno == highDocno && c.term < highTerm) {
				if err := c.advanceTerm(); err != nil {
					return nil, 0, 0, err
				}
			}
		}
	}

	return vec, ft, bigFt, nil
}

// anyDone reports whether any cursor is exhausted. A match needs every
// cursor simultaneously present at the same docno, so one exhausted cursor
// means no further match is possible regardless of the others.
func anyDone(cursors []*Cursor) bool {
	for _, c := range cursors {
		if c.done {
			return true
		}
	}
	return false
}

// highWatermark finds the highest (docno, term) pair across all live cursors,
// docno taking priority.
func highWatermark(cursors []*Cursor) (docno uint64, term int64) {
	first := true
	for _, c := range cursors {
		if c.done {
			continue
		}
		if first || c.docno > docno || (c.docno == docno && c.term > term) {
			docno, term = c.docno, c.term
			first = false
		}
	}
	return docno, term
}

func allMatch(cursors []*Cursor, docno uint64, term int64) bool {
	for _, c := range cursors {
		if c.done || c.docno != docno || c.term != term {
			return false
		}
	}
	return true
}

func allDocsEqual(cursors []*Cursor, docno uint64) bool {
	for _, c := range cursors {
		if c.done || c.docno != docno {
			return false
		}
	}
	return true
}

func minFdt(cursors []*Cursor) int {
	m := -1
	for _, c := range cursors {
		if m < 0 || c.fdt < m {
			m = c.fdt
		}
	}
	return m
}

// appendRecord appends one synthetic docwp record (d-gap, fdt, a single
// zero-valued position gap per occurrence) to vec, updating lastDocno.
func appendRecord(vec []byte, docno uint64, fdt int, lastDocno *int64) []byte {
	dgap := uint64(int64(docno) - *lastDocno - 1)
	vec = vbyte.Append(vec, dgap)
	vec = vbyte.Append(vec, uint64(fdt))
	for i := 0; i < fdt; i++ {
		vec = vbyte.Append(vec, 0)
	}
	*lastDocno = int64(docno)
	return vec
}
