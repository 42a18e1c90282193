package btree

import (
	"fmt"

	"github.com/gmargari/ixengine/page"
)

// ReaderConfig mirrors the geometry the tree was built with; a BulkReader must be
// given the same strategy/value-size the matching BulkBuilder used.
type ReaderConfig struct {
	LeafStrategy       page.Strategy
	LeafFixedValueSize int
}

type fetchPurpose int

const (
	purposeDescend fetchPurpose = iota
	purposeSibling
)

// BulkReader walks a previously built B+-tree's leaves left-to-right, yielding
// (key, value) pairs in lexicographic order. Because the page cache is external,
// it uses a request-for-bytes protocol identical in shape to the builder's: Next
// returns StepRead when it needs a page, the caller supplies it via Feed, and Next
// is called again to resume.
type BulkReader struct {
	cfg ReaderConfig

	pendingRead *ReadRequest
	purpose     fetchPurpose

	curLeaf *page.BTBucket
	curIdx  int
	started bool
	done    bool
	err     error
}

// NewBulkReader starts a reader positioned to descend from root on the first Next call.
func NewBulkReader(cfg ReaderConfig, root Pointer) *BulkReader {
	r := &BulkReader{cfg: cfg}
	r.pendingRead = &ReadRequest{FileNo: root.FileNo, Offset: root.Offset}
	r.purpose = purposeDescend
	return r
}

// Next returns the reader's next step: StepRead (supply bytes via Feed), StepItem
// (call Advance to move past it), StepDone, or StepErr.
func (r *BulkReader) Next() Step {
	if r.err != nil {
		return Step{Kind: StepErr, Err: r.err}
	}
	if r.pendingRead != nil {
		return Step{Kind: StepRead, Read: *r.pendingRead}
	}
	if r.done {
		return Step{Kind: StepDone}
	}
	if r.curLeaf == nil {
		return r.fail(fmt.Errorf("btree: reader has no current leaf and no pending read"))
	}
	if r.curIdx < r.curLeaf.Count() {
		key, val, err := r.curLeaf.TermAt(r.curIdx)
		if err != nil {
			return r.fail(err)
		}
		return Step{Kind: StepItem, Key: key, Value: val}
	}
	if r.curLeaf.IsRightmost() {
		r.done = true
		return Step{Kind: StepDone}
	}
	sib, err := r.curLeaf.Sibling()
	if err != nil {
		return r.fail(err)
	}
	r.pendingRead = &ReadRequest{FileNo: sib.FileNo, Offset: sib.Offset}
	r.purpose = purposeSibling
	return Step{Kind: StepRead, Read: *r.pendingRead}
}

// Advance moves past the item most recently returned by Next (which must have
// been StepItem).
func (r *BulkReader) Advance() {
	r.curIdx++
}

// Feed supplies the page bytes requested by the most recent StepRead and resumes
// traversal: if the page is internal, the reader descends into its leftmost child
// (issuing another StepRead); if it is a leaf, it becomes the current leaf.
func (r *BulkReader) Feed(data []byte) error {
	if r.pendingRead == nil {
		return fmt.Errorf("btree: Feed called with no pending read")
	}
	b, err := page.LoadBTBucket(data, r.cfg.LeafStrategy, r.cfg.LeafFixedValueSize)
	if err != nil {
		r.err = err
		return err
	}
	b.SetSelf(Pointer{FileNo: r.pendingRead.FileNo, Offset: r.pendingRead.Offset})

	switch r.purpose {
	case purposeSibling:
		r.pendingRead = nil
		r.curLeaf = b
		r.curIdx = 0
		return nil
	case purposeDescend:
		if b.IsLeaf() {
			r.pendingRead = nil
			r.curLeaf = b
			r.curIdx = 0
			return nil
		}
		// Internal node: descend into the leftmost child pointer.
		if b.Count() == 0 {
			err := fmt.Errorf("btree: internal node with no entries")
			r.err = err
			return err
		}
		_, val, err := b.TermAt(0)
		if err != nil {
			r.err = err
			return err
		}
		child := decodePointer(val)
		r.pendingRead = &ReadRequest{FileNo: child.FileNo, Offset: child.Offset}
		return nil
	default:
		return fmt.Errorf("btree: unknown fetch purpose")
	}
}

func (r *BulkReader) fail(err error) Step {
	r.err = err
	return Step{Kind: StepErr, Err: err}
}
