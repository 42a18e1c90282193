// Package freespace implements the FreespaceMap allocator of spec.md §4.9: a
// {fileno, offset, size} allocator across a bounded family of max-sized files,
// with first/best/worst/close-fit placement strategies and append-budget
// overallocation to keep the free-list short. It has no direct analogue in the
// teacher (weaviate's segments are write-once files, never reclaimed); its shape
// is modeled on the merger's file-rollover description and the teacher's own
// `container/heap`-based selection pattern (engine.minBlockHeap).
package freespace

import (
	"container/heap"
	"fmt"
)

// Policy selects how Malloc chooses among free extents that are all large enough
// to satisfy a request.
type Policy int

const (
	// FirstFit returns the lowest-addressed (fileno, offset) sufficiently large
	// free extent, so freed holes are reused before a file's untouched tail.
	FirstFit Policy = iota
	// BestFit returns the smallest sufficiently large free extent (least waste).
	BestFit
	// WorstFit returns the largest free extent (leaves the biggest remainder).
	WorstFit
	// CloseFit bins extents by size and returns one from the smallest non-empty
	// bin that still fits, so extents within one bin width of each other count
	// as equally good (unlike BestFit's exact size comparison).
	CloseFit
)

// Extent identifies a byte range within one file of the managed family.
type Extent struct {
	FileNo uint32
	Offset uint64
	Size   uint64
}

// NewFileFunc is called when no existing file can service a request; it must
// return the fileno of a newly available, empty file.
type NewFileFunc func() (fileno uint32, err error)

// Map is a FreespaceMap over a bounded family of files, each at most MaxFileSize
// bytes. All free extents across all files are tracked together; Malloc may
// overallocate up to AppendBudget bytes beyond a request to absorb small future
// growth in place (spec.md §4.9's "append budget").
type Map struct {
	maxFileSize  uint64
	appendBudget uint64
	policy       Policy
	newFile      NewFileFunc

	free     []*Extent         // free-list, unordered; every policy scans it in full
	fileEnds map[uint32]uint64 // current append cursor (end of allocated region) per file
	binWidth uint64            // CloseFit bin granularity
}

// Config configures a new Map.
type Config struct {
	MaxFileSize  uint64
	AppendBudget uint64
	Policy       Policy
	NewFile      NewFileFunc
	// CloseFitBinWidth groups free extents into size bins of this width for the
	// CloseFit policy; ignored for other policies. Defaults to 256 if zero.
	CloseFitBinWidth uint64
}

// New creates an empty Map. The caller must supply at least one file via AddFile
// before the first Malloc, or rely on NewFile to allocate one on demand.
func New(cfg Config) (*Map, error) {
	if cfg.MaxFileSize == 0 {
		return nil, fmt.Errorf("freespace: MaxFileSize must be positive")
	}
	binWidth := cfg.CloseFitBinWidth
	if binWidth == 0 {
		binWidth = 256
	}
	return &Map{
		maxFileSize:  cfg.MaxFileSize,
		appendBudget: cfg.AppendBudget,
		policy:       cfg.Policy,
		newFile:      cfg.NewFile,
		fileEnds:     map[uint32]uint64{},
		binWidth:     binWidth,
	}, nil
}

// AddFile registers an existing file (e.g. one just created, or one being
// reopened) with the given current append cursor (0 for a brand new file).
func (m *Map) AddFile(fileno uint32, endOffset uint64) {
	m.fileEnds[fileno] = endOffset
	if endOffset < m.maxFileSize {
		m.free = append(m.free, &Extent{FileNo: fileno, Offset: endOffset, Size: m.maxFileSize - endOffset})
	}
}

// Free returns an extent to the map for reuse.
func (m *Map) Free(e Extent) {
	if e.Size == 0 {
		return
	}
	m.free = append(m.free, &Extent{FileNo: e.FileNo, Offset: e.Offset, Size: e.Size})
}

// Malloc allocates at least size bytes, returning the extent actually reserved
// (which may be up to AppendBudget bytes larger than requested, to absorb future
// in-place growth). If no existing free extent or file can service the request,
// NewFile is called to obtain a fresh file.
func (m *Map) Malloc(size uint64) (Extent, error) {
	if size == 0 {
		return Extent{}, fmt.Errorf("freespace: cannot allocate zero bytes")
	}
	want := size + m.appendBudget
	if want > m.maxFileSize {
		want = size // the budget can't be honoured in a file this small; fall back to the bare request
	}

	if idx := m.selectExtent(want, size); idx >= 0 {
		return m.takeFrom(idx, size, want), nil
	}

	if m.newFile == nil {
		return Extent{}, fmt.Errorf("freespace: no free extent of at least %d bytes and no NewFile callback configured", size)
	}
	fileno, err := m.newFile()
	if err != nil {
		return Extent{}, fmt.Errorf("freespace: allocating new file: %w", err)
	}
	m.AddFile(fileno, 0)
	idx := m.selectExtent(want, size)
	if idx < 0 {
		return Extent{}, fmt.Errorf("freespace: new file too small for a %d-byte request", size)
	}
	return m.takeFrom(idx, size, want), nil
}

// selectExtent returns the index in m.free of the extent Malloc should use for a
// request of `want` bytes (falling back to the minimum `size` if nothing fits
// `want`), or -1 if nothing fits even `size`.
func (m *Map) selectExtent(want, size uint64) int {
	if idx := m.selectExtentOfAtLeast(want); idx >= 0 {
		return idx
	}
	return m.selectExtentOfAtLeast(size)
}

func (m *Map) selectExtentOfAtLeast(need uint64) int {
	switch m.policy {
	case BestFit:
		best := -1
		for i, e := range m.free {
			if e.Size >= need && (best == -1 || e.Size < m.free[best].Size) {
				best = i
			}
		}
		return best
	case WorstFit:
		worst := -1
		for i, e := range m.free {
			if e.Size >= need && (worst == -1 || e.Size > m.free[worst].Size) {
				worst = i
			}
		}
		return worst
	case CloseFit:
		return m.selectCloseFit(need)
	default: // FirstFit
		first := -1
		for i, e := range m.free {
			if e.Size < need {
				continue
			}
			if first == -1 || e.FileNo < m.free[first].FileNo ||
				(e.FileNo == m.free[first].FileNo && e.Offset < m.free[first].Offset) {
				first = i
			}
		}
		return first
	}
}

// selectCloseFit bins free extents by size (bin = Size / binWidth) and returns
// one from the lowest bin whose extents are still large enough, approximating
// BestFit at bin granularity. It scans every free extent.
func (m *Map) selectCloseFit(need uint64) int {
	type bucket struct {
		bin int
		idx int
	}
	var candidates []bucket
	for i, e := range m.free {
		if e.Size >= need {
			candidates = append(candidates, bucket{bin: int(e.Size / m.binWidth), idx: i})
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.bin < best.bin {
			best = c
		}
	}
	return best.idx
}

func (m *Map) takeFrom(idx int, size, reserved uint64) Extent {
	e := m.free[idx]
	got := Extent{FileNo: e.FileNo, Offset: e.Offset, Size: reserved}
	if reserved >= e.Size {
		got.Size = e.Size
		m.free = append(m.free[:idx], m.free[idx+1:]...)
	} else {
		e.Offset += reserved
		e.Size -= reserved
	}
	if end := got.Offset + got.Size; end > m.fileEnds[got.FileNo] {
		m.fileEnds[got.FileNo] = end
	}
	_ = size
	return got
}

// Realloc grows or shrinks an already-allocated extent. Growing in place only
// succeeds if the immediately following bytes in the same file are free and
// large enough; otherwise the caller must Malloc a fresh extent, copy, and Free
// the old one (Realloc does not do this itself, since the copy is the caller's
// concern).
func (m *Map) Realloc(e Extent, newSize uint64) (Extent, bool) {
	if newSize <= e.Size {
		if newSize < e.Size {
			m.Free(Extent{FileNo: e.FileNo, Offset: e.Offset + newSize, Size: e.Size - newSize})
		}
		return Extent{FileNo: e.FileNo, Offset: e.Offset, Size: newSize}, true
	}
	growth := newSize - e.Size
	for i, f := range m.free {
		if f.FileNo == e.FileNo && f.Offset == e.Offset+e.Size && f.Size >= growth {
			m.takeFrom(i, growth, growth)
			return Extent{FileNo: e.FileNo, Offset: e.Offset, Size: newSize}, true
		}
	}
	return Extent{}, false
}

// Waste reports the total bytes of free space below each file's append
// cursor: space that has been allocated-then-freed and is not currently
// backing any live record. A file's never-allocated tail is not counted.
func (m *Map) Waste() uint64 {
	var total uint64
	for _, e := range m.free {
		if e.Offset < m.fileEnds[e.FileNo] {
			total += e.Size
		}
	}
	return total
}

// byOffset orders Extents for SortedExtents, following the teacher's use of
// container/heap (engine.minBlockHeap) to produce an ordered view over a working
// set without a full sort every call.
type byOffset []*Extent

func (b byOffset) Len() int           { return len(b) }
func (b byOffset) Less(i, j int) bool { return b[i].Offset < b[j].Offset }
func (b byOffset) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
func (b *byOffset) Push(x any)        { *b = append(*b, x.(*Extent)) }
func (b *byOffset) Pop() any {
	old := *b
	n := len(old)
	item := old[n-1]
	*b = old[:n-1]
	return item
}

var _ heap.Interface = (*byOffset)(nil)

// SortedExtents returns every currently-free extent ordered by (fileno, offset),
// for diagnostics and tests.
func (m *Map) SortedExtents() []Extent {
	byFile := map[uint32]*byOffset{}
	var filenos []uint32
	for _, e := range m.free {
		h, ok := byFile[e.FileNo]
		if !ok {
			h = &byOffset{}
			byFile[e.FileNo] = h
			filenos = append(filenos, e.FileNo)
		}
		heap.Push(h, e)
	}
	for i := 0; i < len(filenos); i++ {
		for j := i + 1; j < len(filenos); j++ {
			if filenos[j] < filenos[i] {
				filenos[i], filenos[j] = filenos[j], filenos[i]
			}
		}
	}

	var out []Extent
	for _, fileno := range filenos {
		h := byFile[fileno]
		for h.Len() > 0 {
			e := heap.Pop(h).(*Extent)
			out = append(out, *e)
		}
	}
	return out
}
