// Package merge implements the Merger of spec.md §4.5: it joins the old
// vocabulary plus its list files with an in-RAM sorted postings dump into a new
// vocabulary B+-tree and new list files, three-way comparing terms as it goes.
//
// Simplification (recorded in DESIGN.md): btree.BulkBuilder/BulkReader expose a
// suspension-point protocol so a caller can interleave their page I/O with other
// work. A merge has no such other work to interleave — it is one self-contained
// batch operation that "aborts the active build/merge" as a unit on failure
// (spec.md §7) — so Merger drives those two state machines to completion inline
// against a synchronous IO interface instead of exposing a second layer of
// suspension points of its own.
package merge

import (
	"bytes"
	"fmt"
	"math"

	"github.com/gmargari/ixengine/btree"
	"github.com/gmargari/ixengine/freespace"
	"github.com/gmargari/ixengine/page"
	"github.com/gmargari/ixengine/postings"
	"github.com/gmargari/ixengine/vbyte"
)

// IO is the blocking storage interface a merge drives. Implementations own the
// actual file handles; Merger only ever asks for a page/range to read or for a
// file to exist before the first write that targets it.
type IO interface {
	ReadVocabPage(fileno uint32, offset uint64) ([]byte, error)
	WriteVocabPage(fileno uint32, offset uint64, data []byte) error
	EnsureVocabFile(fileno uint32) error

	ReadList(fileno uint32, offset, size uint64) ([]byte, error)
	WriteList(fileno uint32, offset uint64, data []byte) error
	EnsureListFile(fileno uint32) error
}

// Config configures a merge's output geometry; it mirrors btree.Config plus the
// separate cursor a merge also advances across the output list files.
type Config struct {
	PageSize            int
	MaxFileSize         uint64
	VocabStrategy       page.Strategy
	VocabFixedValueSize int
	StartVocabFileNo    uint32
	StartVocabOffset    uint64
	StartListFileNo     uint32
	StartListOffset     uint64
}

// OldVocab names the previous vocabulary's root, or HasOld=false on the very
// first build when there is no previous vocabulary to merge against.
type OldVocab struct {
	Root   btree.Pointer
	HasOld bool
}

// Result is what a completed merge produced. EndVocab*/EndList* are the write
// cursor positions immediately after the merge's last page/bytes — callers
// driving repeated merges against the same file families must feed these back
// as the next call's Config.StartVocab*/StartList* so each merge's new output
// continues appending after the previous one's, rather than overwriting it
// (spec.md §4.5/§7's "new files are written independently, old stays intact
// until commit").
type Result struct {
	Root           btree.Pointer
	EndVocabFileNo uint32
	EndVocabOffset uint64
	EndListFileNo  uint32
	EndListOffset  uint64
}

// Run drives a full merge to completion: it joins oldVocab (if any) with
// newEntries — already sorted lexicographically by term, e.g. straight from
// postings.Accumulator.DumpEntries — and writes a new vocabulary B+-tree plus
// new list bytes through io. Impact-type vectors found in the old vocabulary are
// dropped per spec.md §4.5 step 4; this engine's accumulator never produces them,
// so only a prior merge's impact-rebuild pass could have written one.
func Run(cfg Config, oldVocab OldVocab, newEntries []postings.DumpEntry, io IO) (Result, error) {
	builder, err := btree.NewBulkBuilder(btree.Config{
		PageSize:           cfg.PageSize,
		MaxFileSize:        cfg.MaxFileSize,
		LeafStrategy:       cfg.VocabStrategy,
		LeafFixedValueSize: cfg.VocabFixedValueSize,
		StartFileNo:        cfg.StartVocabFileNo,
		StartOffset:        cfg.StartVocabOffset,
	})
	if err != nil {
		return Result{}, err
	}

	m := &merger{
		cfg:             cfg,
		io:              io,
		builder:         builder,
		newEntries:      newEntries,
		listFileNo:      cfg.StartListFileNo,
		listOffset:      cfg.StartListOffset,
		listFileEnsured: map[uint32]bool{},
	}

	// effectiveMaxFileSize stands in for "unbounded" (cfg.MaxFileSize == 0,
	// meaning never roll over) in terms freespace.Map can accept — it requires
	// a positive bound.
	effectiveMaxFileSize := cfg.MaxFileSize
	if effectiveMaxFileSize == 0 {
		effectiveMaxFileSize = math.MaxUint64
	}
	freemap, err := freespace.New(freespace.Config{
		MaxFileSize: effectiveMaxFileSize,
		Policy:      freespace.FirstFit,
		NewFile:     m.allocNewListFile,
	})
	if err != nil {
		return Result{}, err
	}
	freemap.AddFile(cfg.StartListFileNo, cfg.StartListOffset)
	m.freemap = freemap

	if oldVocab.HasOld {
		m.reader = btree.NewBulkReader(btree.ReaderConfig{
			LeafStrategy:       cfg.VocabStrategy,
			LeafFixedValueSize: cfg.VocabFixedValueSize,
		}, oldVocab.Root)
	}

	if err := m.fetchOld(); err != nil {
		return Result{}, err
	}

	for m.oldHas || m.newIdx < len(m.newEntries) {
		cmp := m.compareKeys()
		switch {
		case cmp < 0:
			if err := m.copyOldThrough(); err != nil {
				return Result{}, err
			}
			if err := m.fetchOld(); err != nil {
				return Result{}, err
			}
		case cmp == 0:
			if err := m.joinOldAndNew(); err != nil {
				return Result{}, err
			}
			m.newIdx++
			if err := m.fetchOld(); err != nil {
				return Result{}, err
			}
		default:
			if err := m.emitNewOnly(); err != nil {
				return Result{}, err
			}
			m.newIdx++
		}
	}

	root, err := m.finishBuilder()
	if err != nil {
		return Result{}, err
	}
	vocabCursor := m.builder.Cursor()
	return Result{
		Root:           root,
		EndVocabFileNo: vocabCursor.FileNo,
		EndVocabOffset: vocabCursor.Offset,
		EndListFileNo:  m.listFileNo,
		EndListOffset:  m.listOffset,
	}, nil
}

type merger struct {
	cfg Config
	io  IO

	reader  *btree.BulkReader
	builder *btree.BulkBuilder

	newEntries []postings.DumpEntry
	newIdx     int

	oldHas  bool
	oldKey  []byte
	oldList postings.Entry

	listFileNo      uint32
	listOffset      uint64
	listFileEnsured map[uint32]bool
	freemap         *freespace.Map
}

// compareKeys compares the current old term key against the current new term,
// with an exhausted side always losing (so the other side drains to completion).
func (m *merger) compareKeys() int {
	switch {
	case !m.oldHas:
		return 1
	case m.newIdx >= len(m.newEntries):
		return -1
	default:
		return bytes.Compare(m.oldKey, m.newEntries[m.newIdx].Term)
	}
}

// fetchOld advances the old-vocabulary pointer to the next term that still has a
// surviving (non-impact) list, driving the underlying BulkReader's own
// suspension points against m.io as it goes. A term whose only vocabulary entry
// was impact-type vanishes silently, per spec.md §4.5 step 4.
func (m *merger) fetchOld() error {
	if m.reader == nil {
		m.oldHas = false
		return nil
	}
	for {
		step := m.reader.Next()
		switch step.Kind {
		case btree.StepRead:
			data, err := m.io.ReadVocabPage(step.Read.FileNo, step.Read.Offset)
			if err != nil {
				return fmt.Errorf("merge: reading old vocab page: %w", err)
			}
			if err := m.reader.Feed(data); err != nil {
				return err
			}
		case btree.StepItem:
			key := append([]byte(nil), step.Key...)
			entries, err := decodeVocabPayload(step.Value)
			if err != nil {
				return err
			}
			m.reader.Advance()
			survivor, ok := firstNonImpact(entries)
			if !ok {
				continue
			}
			if survivor.Location.Tag != postings.LocationFile {
				// Every surviving old-vocabulary entry was itself written by a
				// previous Merger run, which always emits FILE locations (spec.md
				// §4.5 steps 3-5 all describe "a new FILE location pointing into
				// the output"); an INLINE survivor here means the old vocabulary
				// was not produced by this package.
				return fmt.Errorf("merge: old vocabulary entry for %q is INLINE, not FILE", key)
			}
			m.oldKey = key
			m.oldList = survivor
			m.oldHas = true
			return nil
		case btree.StepDone:
			m.oldHas = false
			return nil
		case btree.StepErr:
			return step.Err
		default:
			return fmt.Errorf("merge: unexpected old-vocab step %v", step.Kind)
		}
	}
}

// copyOldThrough handles the old < new case: the old list's bytes pass through
// unchanged into the new list file, under a new vocabulary entry with the same
// counts but a FILE location pointing into the output (spec.md §4.5 step 3).
func (m *merger) copyOldThrough() error {
	data, err := m.io.ReadList(m.oldList.Location.FileNo, m.oldList.Location.Offset, m.oldList.Size)
	if err != nil {
		return fmt.Errorf("merge: reading old list for copy-through: %w", err)
	}
	loc, err := m.writeListBytes(data)
	if err != nil {
		return err
	}
	return m.insertVocab(m.oldKey, postings.Entry{
		VType:     m.oldList.VType,
		Size:      uint64(len(data)),
		Docs:      m.oldList.Docs,
		Occurs:    m.oldList.Occurs,
		LastDocno: m.oldList.LastDocno,
		Location:  loc,
	})
}

// joinOldAndNew handles the old == new case: the old list's bytes are copied
// through, then the new in-memory list is appended with its first d-gap
// re-encoded to continue from old.last_docno instead of the accumulator's
// virtual "no previous document" sentinel.
func (m *merger) joinOldAndNew() error {
	newEntry := m.newEntries[m.newIdx]
	oldData, err := m.io.ReadList(m.oldList.Location.FileNo, m.oldList.Location.Offset, m.oldList.Size)
	if err != nil {
		return fmt.Errorf("merge: reading old list for join: %w", err)
	}
	rebased, err := rebaseFirstDgap(newEntry.Vec, m.oldList.LastDocno)
	if err != nil {
		return err
	}

	joined := make([]byte, 0, len(oldData)+len(rebased))
	joined = append(joined, oldData...)
	joined = append(joined, rebased...)

	loc, err := m.writeListBytes(joined)
	if err != nil {
		return err
	}
	return m.insertVocab(m.oldKey, postings.Entry{
		VType:     m.oldList.VType,
		Size:      uint64(len(joined)),
		Docs:      m.oldList.Docs + newEntry.Docs,
		Occurs:    m.oldList.Occurs + newEntry.Occurs,
		LastDocno: newEntry.LastDocno,
		Location:  loc,
	})
}

// emitNewOnly handles the old > new case (including old vocabulary exhausted):
// the in-memory list is written out as-is, since its first d-gap is already
// correct relative to "no previous document".
func (m *merger) emitNewOnly() error {
	newEntry := m.newEntries[m.newIdx]
	loc, err := m.writeListBytes(newEntry.Vec)
	if err != nil {
		return err
	}
	return m.insertVocab(newEntry.Term, postings.Entry{
		VType:     postings.VTypeDocwp,
		Size:      uint64(len(newEntry.Vec)),
		Docs:      newEntry.Docs,
		Occurs:    newEntry.Occurs,
		LastDocno: newEntry.LastDocno,
		Location:  loc,
	})
}

// rebaseFirstDgap decodes vec's first d-gap field — which, by construction of
// postings.Accumulator's uniform sentinel, equals the list's first absolute
// docno — and re-encodes it as a gap from oldLastDocno instead.
func rebaseFirstDgap(vec []byte, oldLastDocno uint64) ([]byte, error) {
	firstDocno, n, err := vbyte.Read(vec)
	if err != nil {
		return nil, fmt.Errorf("merge: decoding new list's first d-gap: %w", err)
	}
	if firstDocno <= oldLastDocno {
		return nil, fmt.Errorf("merge: new list's first docno %d does not exceed old list's last docno %d", firstDocno, oldLastDocno)
	}
	rebasedGap := firstDocno - oldLastDocno - 1
	out := vbyte.Append(nil, rebasedGap)
	out = append(out, vec[n:]...)
	return out, nil
}

// writeListBytes allocates size bytes for data via m.freemap (spec.md §4.9's
// FreespaceMap), rolling over to a fresh file through allocNewListFile when
// the current file's tail can't fit the request, and writes data there.
func (m *merger) writeListBytes(data []byte) (postings.Location, error) {
	size := uint64(len(data))
	ext, err := m.freemap.Malloc(size)
	if err != nil {
		return postings.Location{}, fmt.Errorf("merge: allocating list bytes: %w", err)
	}
	if !m.listFileEnsured[ext.FileNo] {
		if err := m.io.EnsureListFile(ext.FileNo); err != nil {
			return postings.Location{}, fmt.Errorf("merge: ensuring list file %d: %w", ext.FileNo, err)
		}
		m.listFileEnsured[ext.FileNo] = true
	}
	if err := m.io.WriteList(ext.FileNo, ext.Offset, data); err != nil {
		return postings.Location{}, fmt.Errorf("merge: writing list bytes: %w", err)
	}
	m.listFileNo = ext.FileNo
	m.listOffset = ext.Offset + ext.Size
	return postings.Location{Tag: postings.LocationFile, Capacity: ext.Size, FileNo: ext.FileNo, Offset: ext.Offset}, nil
}

// allocNewListFile is freespace.Map's NewFileFunc for this merge's list
// output: it wastes whatever tail remained free in the file being rolled
// off (so the map never backfills a hole behind the current append
// frontier — see DESIGN.md's freespace Open Question entry on why this
// merge never reclaims across rollovers) and ensures the next file exists.
func (m *merger) allocNewListFile() (uint32, error) {
	for _, e := range m.freemap.SortedExtents() {
		if e.FileNo == m.listFileNo && e.Size > 0 {
			if _, err := m.freemap.Malloc(e.Size); err != nil {
				return 0, fmt.Errorf("merge: wasting list file %d's rollover remainder: %w", m.listFileNo, err)
			}
			break
		}
	}
	next := m.listFileNo + 1
	if err := m.io.EnsureListFile(next); err != nil {
		return 0, fmt.Errorf("merge: ensuring list file %d: %w", next, err)
	}
	m.listFileEnsured[next] = true
	return next, nil
}

// insertVocab encodes entry and inserts it under term into the new vocabulary,
// draining the builder's own suspension points against m.io.
func (m *merger) insertVocab(term []byte, entry postings.Entry) error {
	value, err := postings.Encode(nil, entry)
	if err != nil {
		return fmt.Errorf("merge: encoding vocabulary entry for %q: %w", term, err)
	}
	return m.driveBuilder(m.builder.Insert(term, value))
}

func (m *merger) driveBuilder(step btree.Step) error {
	for {
		switch step.Kind {
		case btree.StepOK, btree.StepFinish:
			return nil
		case btree.StepWrite:
			if err := m.io.WriteVocabPage(step.Write.FileNo, step.Write.Offset, step.Write.Data); err != nil {
				return fmt.Errorf("merge: writing vocab page: %w", err)
			}
			step = m.builder.Continue()
		case btree.StepFlush:
			if err := m.io.EnsureVocabFile(step.Write.FileNo); err != nil {
				return fmt.Errorf("merge: ensuring vocab file %d: %w", step.Write.FileNo, err)
			}
			step = m.builder.Continue()
		case btree.StepErr:
			return step.Err
		default:
			return fmt.Errorf("merge: unexpected builder step %v", step.Kind)
		}
	}
}

func (m *merger) finishBuilder() (btree.Pointer, error) {
	step := m.builder.Finish()
	for {
		switch step.Kind {
		case btree.StepWrite:
			if err := m.io.WriteVocabPage(step.Write.FileNo, step.Write.Offset, step.Write.Data); err != nil {
				return btree.Pointer{}, fmt.Errorf("merge: writing vocab page: %w", err)
			}
			step = m.builder.Continue()
		case btree.StepFlush:
			if err := m.io.EnsureVocabFile(step.Write.FileNo); err != nil {
				return btree.Pointer{}, fmt.Errorf("merge: ensuring vocab file %d: %w", step.Write.FileNo, err)
			}
			step = m.builder.Continue()
		case btree.StepFinish:
			return step.Root, nil
		case btree.StepErr:
			return btree.Pointer{}, step.Err
		default:
			return btree.Pointer{}, fmt.Errorf("merge: unexpected finish step %v", step.Kind)
		}
	}
}

func decodeVocabPayload(payload []byte) ([]postings.Entry, error) {
	var out []postings.Entry
	pos := 0
	for pos < len(payload) {
		e, n, err := postings.Decode(payload[pos:])
		if err != nil {
			return nil, fmt.Errorf("merge: decoding old vocabulary payload: %w", err)
		}
		out = append(out, e)
		pos += n
	}
	return out, nil
}

func firstNonImpact(entries []postings.Entry) (postings.Entry, bool) {
	for _, e := range entries {
		if e.VType != postings.VTypeImpact {
			return e, true
		}
	}
	return postings.Entry{}, false
}
