// Package postings implements the in-RAM postings accumulator (spec.md §4.4) that
// turns a stream of (docno, term, position) triples into one growing
// variable-byte-encoded docwp vector per distinct term, plus the on-disk
// vocabulary-record codec (spec.md §3/§6) used to describe where and how a term's
// list is ultimately stored. The accumulator is the exclusive owner of its
// in-memory state (spec.md §3 Ownership) — a single builder drives it; it is never
// shared across goroutines.
package postings

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gmargari/ixengine/stem"
	"github.com/gmargari/ixengine/vbyte"
)

var (
	// ErrDocOutOfOrder is returned by AddDoc when docno does not strictly exceed
	// every previously-seen docno (or isn't 0 for the very first document).
	ErrDocOutOfOrder = errors.New("postings: docno out of order")
	// ErrNoOpenDoc is returned by AddWord/UpdateDoc when no AddDoc is currently open.
	ErrNoOpenDoc = errors.New("postings: no document is currently open")
	// ErrDocAlreadyOpen is returned by AddDoc when the previous document was never
	// closed with UpdateDoc.
	ErrDocAlreadyOpen = errors.New("postings: previous document was not closed with UpdateDoc")
	// ErrOutOfMemory is returned by AddWord when honouring the growth would exceed
	// the accumulator's memory budget. The call has no effect — nothing is mutated
	// before the budget check, so no rollback is needed.
	ErrOutOfMemory = errors.New("postings: memory budget exhausted")
)

// node is one term's accumulated state: its growing docwp vector plus the
// bookkeeping needed to patch the current document's count field in place.
type node struct {
	term   []byte
	vec    []byte
	docs   uint64
	occurs uint64

	lastDocno int64 // -1 = term not yet seen in any document

	// Per-current-document state, valid only while inUpdateList is true.
	inUpdateList     bool
	countFieldStart  int   // byte offset in vec of this doc's f_dt field
	offsetsInCurrDoc int   // f_dt so far this doc
	lastOffsetInDoc  int64 // -1 = no position recorded yet this doc
	updateNext       *node
}

// Accumulator is a hash table from term to a per-term node, matching spec.md
// §4.4's node layout, plus the per-document "update list" used to patch up each
// touched term's count field once the document is known to be complete.
type Accumulator struct {
	nodes  map[string]*node
	filter stem.Normalizer

	currentDocno int64
	docOpen      bool
	updateHead   *node

	maxMemory  int64 // 0 = unbounded
	usedMemory int64
}

// New creates an empty accumulator. filter is applied to every term at AddWord
// time (stemming + stoplisting); pass stem.Passthrough{} for none. maxMemory <= 0
// means no budget is enforced.
func New(filter stem.Normalizer, maxMemory int64) *Accumulator {
	if filter == nil {
		filter = stem.Passthrough{}
	}
	return &Accumulator{
		nodes:        map[string]*node{},
		filter:       filter,
		currentDocno: -1,
		maxMemory:    maxMemory,
	}
}

// AddDoc begins a new document. docno must be 0 for the very first document and
// must strictly exceed every previously added docno thereafter.
func (a *Accumulator) AddDoc(docno uint64) error {
	if a.docOpen {
		return ErrDocAlreadyOpen
	}
	d := int64(docno)
	if a.currentDocno < 0 {
		if d != 0 {
			return fmt.Errorf("%w: first docno must be 0, got %d", ErrDocOutOfOrder, docno)
		}
	} else if d <= a.currentDocno {
		return fmt.Errorf("%w: %d is not greater than previous %d", ErrDocOutOfOrder, docno, a.currentDocno)
	}
	a.currentDocno = d
	a.docOpen = true
	a.updateHead = nil
	return nil
}

// AddWord records one occurrence of term at position (a zero-based offset within
// the current document) in the document opened by the most recent AddDoc. If the
// normaliser drops the term (a stopword), the call is a silent no-op.
func (a *Accumulator) AddWord(term []byte, position uint64) error {
	if !a.docOpen {
		return ErrNoOpenDoc
	}
	norm, drop := a.filter.Normalize(term)
	if drop {
		return nil
	}

	key := string(norm)
	n, exists := a.nodes[key]
	firstOccurrenceInDoc := !exists || !n.inUpdateList

	if !exists {
		n = &node{term: append([]byte(nil), norm...), lastDocno: -1, lastOffsetInDoc: -1}
	}

	if firstOccurrenceInDoc {
		var dgapTrue int64
		if n.lastDocno < 0 {
			dgapTrue = a.currentDocno + 1
		} else {
			dgapTrue = a.currentDocno - n.lastDocno
		}
		encodedDgap := uint64(dgapTrue - 1)
		posGap := position // lastOffsetInDoc sentinel -1 makes the uniform gap-minus-one formula collapse to position itself

		growBytes := vbyte.Len(encodedDgap) + vbyte.Len(1) + vbyte.Len(posGap)
		if err := a.reserve(growBytes); err != nil {
			return err
		}

		n.vec = vbyte.Append(n.vec, encodedDgap)
		n.countFieldStart = len(n.vec)
		n.vec = vbyte.Append(n.vec, 1)
		n.vec = vbyte.Append(n.vec, posGap)

		n.offsetsInCurrDoc = 1
		n.lastOffsetInDoc = int64(position)
		n.lastDocno = a.currentDocno
		n.docs++
		n.occurs++
		n.inUpdateList = true
		n.updateNext = a.updateHead
		a.updateHead = n
		a.nodes[key] = n
		return nil
	}

	gap := int64(position) - n.lastOffsetInDoc - 1
	if gap < 0 {
		return fmt.Errorf("postings: position %d is not strictly increasing within the document", position)
	}
	growBytes := vbyte.Len(uint64(gap))
	if err := a.reserve(growBytes); err != nil {
		return err
	}
	n.vec = vbyte.Append(n.vec, uint64(gap))
	n.offsetsInCurrDoc++
	n.lastOffsetInDoc = int64(position)
	n.occurs++
	return nil
}

func (a *Accumulator) reserve(bytes int) error {
	if a.maxMemory > 0 && a.usedMemory+int64(bytes) > a.maxMemory {
		return ErrOutOfMemory
	}
	a.usedMemory += int64(bytes)
	return nil
}

// DocStats is the result of closing a document with UpdateDoc.
type DocStats struct {
	Terms         int     // total term occurrences (sum of f_dt across distinct terms touched)
	DistinctTerms int     // number of distinct terms touched this document
	Weight        float64 // cosine document weight: sqrt(sum (1+ln f_dt)^2)
}

// UpdateDoc closes the document opened by AddDoc: patches every touched term's
// count field to its final f_dt (growing the vector in place if the count's
// vbyte width increased), computes the document's cosine weight, and resets all
// per-document state.
func (a *Accumulator) UpdateDoc() (DocStats, error) {
	if !a.docOpen {
		return DocStats{}, ErrNoOpenDoc
	}

	var stats DocStats
	var sumSq float64
	for n := a.updateHead; n != nil; n = n.updateNext {
		stats.DistinctTerms++
		fdt := n.offsetsInCurrDoc
		stats.Terms += fdt
		if fdt > 1 {
			if err := patchCountField(n, fdt); err != nil {
				return DocStats{}, err
			}
		}
		sumSq += math.Pow(1+math.Log(float64(fdt)), 2)
		n.inUpdateList = false
		n.offsetsInCurrDoc = 0
		n.lastOffsetInDoc = -1
	}
	stats.Weight = math.Sqrt(sumSq)

	a.updateHead = nil
	a.docOpen = false
	return stats, nil
}

// patchCountField rewrites n's current-document f_dt field (originally written as
// the single byte encoding of 1) to its true value. f_dt only grows within a
// document, so the vbyte width of the field only grows or stays the same — it
// never needs to shrink.
func patchCountField(n *node, fdt int) error {
	const oldWidth = 1 // the placeholder "1" written at first occurrence always encodes to exactly one byte
	newWidth := vbyte.Len(uint64(fdt))
	if newWidth < oldWidth {
		return fmt.Errorf("postings: internal error: count field shrank")
	}
	if newWidth == oldWidth {
		vbyte.Write(n.vec[n.countFieldStart:n.countFieldStart+oldWidth], uint64(fdt))
		return nil
	}

	growth := newWidth - oldWidth
	tailStart := n.countFieldStart + oldWidth
	oldLen := len(n.vec)
	n.vec = append(n.vec, make([]byte, growth)...)
	copy(n.vec[tailStart+growth:], n.vec[tailStart:oldLen])
	vbyte.Write(n.vec[n.countFieldStart:n.countFieldStart+newWidth], uint64(fdt))
	return nil
}

// DumpEntry is one term's flat intermediate record as written by Dump — not yet a
// vocabulary leaf payload (that wrapping, with its INLINE/FILE location tag, is
// applied later by the merger once the vector's final on-disk placement is known).
type DumpEntry struct {
	Term      []byte
	Docs      uint64
	Occurs    uint64
	LastDocno uint64
	Vec       []byte
}

// Dump sorts every accumulated term lexicographically and appends its flat record
// `<term_len, term, docs, occurs, last_docno, vec_len, vec_bytes>` (all integer
// fields vbyte-encoded) to dst, returning the grown slice. Terms are only ever
// present in the accumulator if AddWord's Normalizer did not drop them, so no
// separate stoplist pass is needed here — dropping at insertion time is strictly
// more memory-efficient than accumulating and discarding at dump time, and
// produces an identical dumped stream. The accumulator's in-RAM state is cleared
// after a successful dump.
func (a *Accumulator) Dump(dst []byte) ([]byte, error) {
	if a.docOpen {
		return nil, ErrDocAlreadyOpen
	}

	terms := make([]string, 0, len(a.nodes))
	for k := range a.nodes {
		terms = append(terms, k)
	}
	sort.Strings(terms)

	for _, k := range terms {
		n := a.nodes[k]
		dst = vbyte.Append(dst, uint64(len(n.term)))
		dst = append(dst, n.term...)
		dst = vbyte.Append(dst, n.docs)
		dst = vbyte.Append(dst, n.occurs)
		dst = vbyte.Append(dst, uint64(n.lastDocno))
		dst = vbyte.Append(dst, uint64(len(n.vec)))
		dst = append(dst, n.vec...)
	}

	a.nodes = map[string]*node{}
	a.usedMemory = 0
	return dst, nil
}

// DumpEntries is like Dump but returns the decoded records directly, for callers
// (tests, the merger) that want structured access rather than the raw byte stream.
func (a *Accumulator) DumpEntries() []DumpEntry {
	terms := make([]string, 0, len(a.nodes))
	for k := range a.nodes {
		terms = append(terms, k)
	}
	sort.Strings(terms)

	out := make([]DumpEntry, 0, len(terms))
	for _, k := range terms {
		n := a.nodes[k]
		out = append(out, DumpEntry{
			Term:      append([]byte(nil), n.term...),
			Docs:      n.docs,
			Occurs:    n.occurs,
			LastDocno: uint64(n.lastDocno),
			Vec:       append([]byte(nil), n.vec...),
		})
	}
	a.nodes = map[string]*node{}
	a.usedMemory = 0
	return out
}

// DecodeDump parses a byte stream produced by Dump back into its flat records.
func DecodeDump(src []byte) ([]DumpEntry, error) {
	var out []DumpEntry
	pos := 0
	for pos < len(src) {
		termLen, n, err := vbyte.Read(src[pos:])
		if err != nil {
			return nil, fmt.Errorf("postings: decoding term_len: %w", err)
		}
		pos += n
		if pos+int(termLen) > len(src) {
			return nil, fmt.Errorf("postings: truncated term bytes")
		}
		term := src[pos : pos+int(termLen)]
		pos += int(termLen)

		docs, n, err := vbyte.Read(src[pos:])
		if err != nil {
			return nil, fmt.Errorf("postings: decoding docs: %w", err)
		}
		pos += n
		occurs, n, err := vbyte.Read(src[pos:])
		if err != nil {
			return nil, fmt.Errorf("postings: decoding occurs: %w", err)
		}
		pos += n
		lastDocno, n, err := vbyte.Read(src[pos:])
		if err != nil {
			return nil, fmt.Errorf("postings: decoding last_docno: %w", err)
		}
		pos += n
		vecLen, n, err := vbyte.Read(src[pos:])
		if err != nil {
			return nil, fmt.Errorf("postings: decoding vec_len: %w", err)
		}
		pos += n
		if pos+int(vecLen) > len(src) {
			return nil, fmt.Errorf("postings: truncated vec bytes")
		}
		vec := src[pos : pos+int(vecLen)]
		pos += int(vecLen)

		out = append(out, DumpEntry{
			Term:      append([]byte(nil), term...),
			Docs:      docs,
			Occurs:    occurs,
			LastDocno: lastDocno,
			Vec:       append([]byte(nil), vec...),
		})
	}
	return out, nil
}

// sortedTerms reports whether entries are lexicographically sorted by Term,
// strictly increasing (a post-condition Dump and DecodeDump both rely on).
func sortedTerms(entries []DumpEntry) bool {
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].Term, entries[i].Term) >= 0 {
			return false
		}
	}
	return true
}
