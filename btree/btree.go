// Package btree implements the streaming bulk-build and bulk-read state machines
// for the B+-tree vocabulary structure described in spec.md §4.3: BulkBuilder
// consumes a sorted (key, payload) insertion stream and emits a tree whose leaves
// are singly linked left-to-right; BulkReader walks that tree back out in
// lexicographic order. Both decouple themselves from any I/O strategy by returning
// control to the caller whenever a page must be read or written (the "suspension
// point" pattern spec.md §5 calls for), instead of performing I/O themselves.
package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gmargari/ixengine/page"
)

// Pointer is re-exported from page for callers that only import btree.
type Pointer = page.Pointer

// pointerSize is the encoded width of an internal node's child pointer value:
// a 4-byte fileno and an 8-byte offset (the leaf page trailer's sibling slot
// stores the fileno in 8 bytes instead).
const pointerSize = 12

func encodePointer(p Pointer) []byte {
	b := make([]byte, pointerSize)
	binary.BigEndian.PutUint32(b[0:4], p.FileNo)
	binary.BigEndian.PutUint64(b[4:12], p.Offset)
	return b
}

func decodePointer(b []byte) Pointer {
	return Pointer{
		FileNo: binary.BigEndian.Uint32(b[0:4]),
		Offset: binary.BigEndian.Uint64(b[4:12]),
	}
}

// StepKind identifies the terminal state a builder or reader step returned in.
type StepKind int

const (
	// StepOK means the last call completed; the caller may drive the next one.
	StepOK StepKind = iota
	// StepWrite means the caller must persist Write.Data at (Write.FileNo, Write.Offset)
	// then call Continue to resume.
	StepWrite
	// StepFlush means the caller must ensure fileno Write.FileNo exists (e.g. create/open
	// it) before the next StepWrite targeting it, then call Continue to resume.
	StepFlush
	// StepFinish means the tree is complete; Root holds the new tree's root pointer.
	StepFinish
	// StepRead means the caller must supply the bytes at Read and call Feed to resume.
	StepRead
	// StepItem means a (Key, Value) pair is ready; call Advance to move past it.
	StepItem
	// StepDone means a BulkReader has yielded every record.
	StepDone
	// StepErr means the operation failed; Err holds the cause. The builder/reader
	// must not be driven further.
	StepErr
)

func (k StepKind) String() string {
	switch k {
	case StepOK:
		return "OK"
	case StepWrite:
		return "WRITE"
	case StepFlush:
		return "FLUSH"
	case StepFinish:
		return "FINISH"
	case StepRead:
		return "READ"
	case StepItem:
		return "ITEM"
	case StepDone:
		return "DONE"
	case StepErr:
		return "ERR"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// WriteRequest describes a page the builder needs persisted.
type WriteRequest struct {
	FileNo uint32
	Offset uint64
	Data   []byte
}

// ReadRequest describes a page the reader needs supplied.
type ReadRequest struct {
	FileNo uint32
	Offset uint64
}

// Step is the result of driving a BulkBuilder or BulkReader by one unit of work.
type Step struct {
	Kind  StepKind
	Write WriteRequest
	Read  ReadRequest
	Root  Pointer
	Key   []byte
	Value []byte
	Err   error
}

var (
	// ErrOutOfOrder is returned when an insert's key does not strictly exceed the
	// previous insert's key (spec.md §5: "inserts must arrive in strictly ascending
	// key order").
	ErrOutOfOrder = errors.New("btree: insert key out of order")
	// ErrTooBig is returned when a single (key, value) cannot fit in an otherwise
	// empty leaf page of the configured size.
	ErrTooBig = errors.New("btree: record too big to fit in a leaf page")
)
