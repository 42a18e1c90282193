package btree

import (
	"fmt"

	"github.com/gmargari/ixengine/page"
)

// Config describes the fixed page geometry a BulkBuilder (and its matching
// BulkReader) operates over — a single tree's pagesize, file-rollover boundary and
// per-level storage strategy never change mid-build.
type Config struct {
	PageSize     int
	MaxFileSize  uint64
	LeafStrategy page.Strategy
	// LeafFixedValueSize is only consulted when LeafStrategy == page.Fixed.
	LeafFixedValueSize int
	// StartFileNo/StartOffset let a builder resume appending after an existing
	// file family instead of always starting at file 0, offset 0 (e.g. a merge
	// writing a fresh vocabulary alongside still-open old files).
	StartFileNo uint32
	StartOffset uint64
}

type levelState struct {
	bucket *page.BTBucket
	ptr    Pointer
}

// BulkBuilder streams a sorted (key, value) insertion sequence into a B+-tree,
// holding at most one in-progress bucket per level in memory at any time (spec.md
// §4.3). Internal node entries are fixed-size child pointers; leaves use the
// configured strategy.
type BulkBuilder struct {
	cfg Config

	levels []*levelState // index 0 = leaf level

	curFileNo uint32
	curOffset uint64

	pending    []WriteRequest
	needFlush  bool
	flushFile  uint32
	lastKey    []byte
	haveLast   bool
	finished   bool
	root       Pointer
	haveRoot   bool
	err        error
}

// NewBulkBuilder creates a builder that will begin appending pages at
// (cfg.StartFileNo, cfg.StartOffset).
func NewBulkBuilder(cfg Config) (*BulkBuilder, error) {
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("btree: PageSize must be positive")
	}
	return &BulkBuilder{
		cfg:       cfg,
		curFileNo: cfg.StartFileNo,
		curOffset: cfg.StartOffset,
	}, nil
}

// reservePointer predicts the (fileno, offset) the next page at this builder's
// write cursor will occupy, rolling over to a new file if the page would cross
// MaxFileSize. It reports whether a FLUSH (new-file) step must be surfaced to the
// caller before that pointer's page is actually written.
func (bb *BulkBuilder) reservePointer() (Pointer, bool) {
	flush := false
	if bb.cfg.MaxFileSize > 0 && bb.curOffset+uint64(bb.cfg.PageSize) > bb.cfg.MaxFileSize {
		bb.curFileNo++
		bb.curOffset = 0
		flush = true
	}
	p := Pointer{FileNo: bb.curFileNo, Offset: bb.curOffset}
	bb.curOffset += uint64(bb.cfg.PageSize)
	return p, flush
}

func (bb *BulkBuilder) newLeaf() (*levelState, bool, error) {
	b, err := page.NewBTBucket(bb.cfg.PageSize, bb.cfg.LeafStrategy, bb.cfg.LeafFixedValueSize, true)
	if err != nil {
		return nil, false, err
	}
	ptr, flush := bb.reservePointer()
	b.SetSelf(ptr)
	return &levelState{bucket: b, ptr: ptr}, flush, nil
}

func (bb *BulkBuilder) newInternal() (*levelState, bool, error) {
	b, err := page.NewBTBucket(bb.cfg.PageSize, page.Fixed, pointerSize, false)
	if err != nil {
		return nil, false, err
	}
	ptr, flush := bb.reservePointer()
	return &levelState{bucket: b, ptr: ptr}, flush, nil
}

// setPrefix derives ls's shared-prefix area from its own first and last key
// (sufficient since a bucket's keys are strictly increasing, so every key lies
// between them and shares at least their common prefix) and records it before
// the bucket is serialized.
func setPrefix(ls *levelState) error {
	n := ls.bucket.Count()
	if n == 0 {
		return nil
	}
	first, _, err := ls.bucket.TermAt(0)
	if err != nil {
		return err
	}
	last, _, err := ls.bucket.TermAt(n - 1)
	if err != nil {
		return err
	}
	ls.bucket.SetPrefix(page.CommonPrefix([][]byte{first, last}))
	return nil
}

func (bb *BulkBuilder) queueWrite(ls *levelState) error {
	if err := setPrefix(ls); err != nil {
		return err
	}
	bb.pending = append(bb.pending, WriteRequest{
		FileNo: ls.ptr.FileNo,
		Offset: ls.ptr.Offset,
		Data:   ls.bucket.Serialize(),
	})
	return nil
}

// placeInParent inserts (key, ptr) — the boundary key and location of a
// just-finalized bucket at level — into the bucket at level+1, creating that level
// lazily and recursing upward (finalizing level+1 in turn) if it is itself full.
func (bb *BulkBuilder) placeInParent(level int, key []byte, ptr Pointer) error {
	for len(bb.levels) <= level+1 {
		bb.levels = append(bb.levels, nil)
	}
	parent := bb.levels[level+1]
	if parent == nil {
		ls, flush, err := bb.newInternal()
		if err != nil {
			return err
		}
		if flush {
			bb.needFlush = true
			bb.flushFile = ls.ptr.FileNo
		}
		bb.levels[level+1] = ls
		parent = ls
	}

	if _, toobig, err := parent.bucket.Alloc(key, encodePointer(ptr)); err == nil {
		return nil
	} else if toobig {
		return fmt.Errorf("btree: separator key too large for an internal page: %w", err)
	}

	// Parent is full: finalize it (write it out, place its own boundary key in the
	// grandparent) and start a fresh parent bucket to receive this entry.
	firstKey, _, err := parent.bucket.TermAt(0)
	if err != nil {
		return err
	}
	firstKey = append([]byte(nil), firstKey...)
	finalizedPtr := parent.ptr
	if err := bb.queueWrite(parent); err != nil {
		return err
	}
	if err := bb.placeInParent(level+1, firstKey, finalizedPtr); err != nil {
		return err
	}

	ls, flush, err := bb.newInternal()
	if err != nil {
		return err
	}
	if flush {
		bb.needFlush = true
		bb.flushFile = ls.ptr.FileNo
	}
	bb.levels[level+1] = ls
	if _, toobig, err := ls.bucket.Alloc(key, encodePointer(ptr)); err != nil {
		if toobig {
			return fmt.Errorf("btree: separator key too large for an internal page: %w", err)
		}
		return err
	}
	return nil
}

// rolloverLeaf finalizes the current (full) leaf, threading its sibling to the
// location the next leaf will occupy, then starts that next leaf.
func (bb *BulkBuilder) rolloverLeaf() error {
	old := bb.levels[0]
	firstKey, _, err := old.bucket.TermAt(0)
	if err != nil {
		return err
	}
	firstKey = append([]byte(nil), firstKey...)

	next, flush, err := bb.newLeaf()
	if err != nil {
		return err
	}
	if err := old.bucket.SetSibling(next.ptr); err != nil {
		return err
	}
	if err := bb.queueWrite(old); err != nil {
		return err
	}
	if flush {
		bb.needFlush = true
		bb.flushFile = next.ptr.FileNo
	}

	if err := bb.placeInParent(0, firstKey, old.ptr); err != nil {
		return err
	}
	bb.levels[0] = next
	return nil
}

// Insert adds the next (key, value) pair, which must sort strictly after every
// previously inserted key. It returns a Step describing what the caller must do
// next: drain any StepWrite/StepFlush via Continue, or proceed once StepOK.
func (bb *BulkBuilder) Insert(key, value []byte) Step {
	if bb.err != nil {
		return Step{Kind: StepErr, Err: bb.err}
	}
	if bb.finished {
		return bb.fail(fmt.Errorf("btree: Insert called after Finish"))
	}
	if bb.haveLast && compareKeys(key, bb.lastKey) <= 0 {
		return bb.fail(ErrOutOfOrder)
	}

	if len(bb.levels) == 0 || bb.levels[0] == nil {
		ls, flush, err := bb.newLeaf()
		if err != nil {
			return bb.fail(err)
		}
		if len(bb.levels) == 0 {
			bb.levels = append(bb.levels, ls)
		} else {
			bb.levels[0] = ls
		}
		if flush {
			bb.needFlush = true
			bb.flushFile = ls.ptr.FileNo
		}
	}

	if _, toobig, err := bb.levels[0].bucket.Alloc(key, value); err != nil {
		if toobig {
			return bb.fail(fmt.Errorf("%w: %v", ErrTooBig, err))
		}
		if err := bb.rolloverLeaf(); err != nil {
			return bb.fail(err)
		}
		if _, toobig, err := bb.levels[0].bucket.Alloc(key, value); err != nil {
			if toobig {
				return bb.fail(fmt.Errorf("%w: %v", ErrTooBig, err))
			}
			return bb.fail(fmt.Errorf("btree: fresh leaf rejected insert: %w", err))
		}
	}

	bb.lastKey = append(bb.lastKey[:0], key...)
	bb.haveLast = true
	return bb.drainOrOK()
}

// Continue re-drives the builder after the caller has handled a StepWrite or
// StepFlush, draining any further queued writes before returning StepOK.
func (bb *BulkBuilder) Continue() Step {
	if bb.err != nil {
		return Step{Kind: StepErr, Err: bb.err}
	}
	return bb.drainOrOK()
}

func (bb *BulkBuilder) drainOrOK() Step {
	if bb.needFlush {
		bb.needFlush = false
		return Step{Kind: StepFlush, Write: WriteRequest{FileNo: bb.flushFile}}
	}
	if len(bb.pending) > 0 {
		wr := bb.pending[0]
		bb.pending = bb.pending[1:]
		return Step{Kind: StepWrite, Write: wr}
	}
	if bb.finished {
		return Step{Kind: StepFinish, Root: bb.root}
	}
	return Step{Kind: StepOK}
}

// Finish flushes every remaining in-memory bucket from the leaf level up, threads
// the last leaf's sibling to itself (the rightmost-leaf sentinel), and determines
// the tree's root. The caller must drain the resulting StepWrite/StepFlush steps
// via Continue exactly as during Insert; the final drive yields StepFinish.
func (bb *BulkBuilder) Finish() Step {
	if bb.err != nil {
		return Step{Kind: StepErr, Err: bb.err}
	}
	if bb.finished {
		return bb.drainOrOK()
	}
	if len(bb.levels) == 0 || bb.levels[0] == nil {
		return bb.fail(fmt.Errorf("btree: Finish called with no data inserted"))
	}

	for level := 0; level < len(bb.levels); level++ {
		ls := bb.levels[level]
		if ls == nil {
			continue
		}
		if level == 0 {
			if err := ls.bucket.SetSibling(ls.ptr); err != nil {
				return bb.fail(err)
			}
		}
		firstKey, _, err := ls.bucket.TermAt(0)
		if err != nil {
			return bb.fail(err)
		}
		firstKey = append([]byte(nil), firstKey...)
		if err := bb.queueWrite(ls); err != nil {
			return bb.fail(err)
		}
		bb.levels[level] = nil

		if level+1 < len(bb.levels) && bb.levels[level+1] != nil {
			if err := bb.placeInParent(level, firstKey, ls.ptr); err != nil {
				return bb.fail(err)
			}
			continue
		}
		// Nothing above: this bucket is the root.
		bb.root = ls.ptr
		bb.haveRoot = true
		break
	}

	if !bb.haveRoot {
		return bb.fail(fmt.Errorf("btree: Finish failed to determine a root"))
	}
	bb.finished = true
	return bb.drainOrOK()
}

// Cursor returns the (file, offset) a subsequent page this builder writes would
// land at — the position a later builder instance must resume at (via
// Config.StartFileNo/StartOffset) to keep appending after this one's output
// rather than overwriting it.
func (bb *BulkBuilder) Cursor() Pointer {
	return Pointer{FileNo: bb.curFileNo, Offset: bb.curOffset}
}

func (bb *BulkBuilder) fail(err error) Step {
	bb.err = err
	return Step{Kind: StepErr, Err: err}
}

func compareKeys(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
