// Package fd implements the shared read-only file-descriptor pool spec.md §5
// describes: "the fd pool is the single shared mutable resource; pin and
// unpin must balance." Multiple independent read-only evaluators run in
// parallel against one index handle, sharing mapped file data through this
// pool rather than each opening their own *os.File per extent.
package fd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded, reference-counted cache of open *os.File handles keyed
// by file number, shared read-only across concurrent evaluators against one
// index directory.
type Pool struct {
	dir  string
	ext  string // file extension, e.g. "index" for index.N, "vocab" for vocab.N
	sema *semaphore.Weighted

	mu    sync.Mutex
	files map[uint32]*entry
}

type entry struct {
	f    *os.File
	refs int
}

// New returns a Pool over dir/ext.N files, allowing at most maxOpen
// concurrently open handles.
func New(dir, ext string, maxOpen int64) *Pool {
	return &Pool{
		dir:   dir,
		ext:   ext,
		sema:  semaphore.NewWeighted(maxOpen),
		files: make(map[uint32]*entry),
	}
}

// Pin opens (if not already open) and returns the *os.File for fileno,
// incrementing its reference count. The caller must call Unpin exactly once
// per successful Pin. Blocks on ctx if the pool is at capacity and fileno is
// not already open.
func (p *Pool) Pin(ctx context.Context, fileno uint32) (*os.File, error) {
	p.mu.Lock()
	if e, ok := p.files[fileno]; ok {
		e.refs++
		p.mu.Unlock()
		return e.f, nil
	}
	p.mu.Unlock()

	if err := p.sema.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fd: acquire: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another goroutine may have opened it while we waited on the semaphore.
	if e, ok := p.files[fileno]; ok {
		e.refs++
		p.sema.Release(1)
		return e.f, nil
	}

	path := filepath.Join(p.dir, fmt.Sprintf("%s.%d", p.ext, fileno))
	f, err := os.Open(path)
	if err != nil {
		p.sema.Release(1)
		return nil, fmt.Errorf("fd: open %s: %w", path, err)
	}
	p.files[fileno] = &entry{f: f, refs: 1}
	return f, nil
}

// Unpin releases one reference to fileno's handle, closing and releasing its
// semaphore slot once the reference count reaches zero.
func (p *Pool) Unpin(fileno uint32) error {
	p.mu.Lock()
	e, ok := p.files[fileno]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("fd: unpin of fileno %d that is not pinned", fileno)
	}
	e.refs--
	if e.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.files, fileno)
	p.mu.Unlock()

	p.sema.Release(1)
	return e.f.Close()
}

// Open reports how many distinct files are currently pinned.
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// CloseAll forcibly closes every pinned file regardless of refcount, for use
// during cancellation unwind (spec.md §7: "any operation returning an error
// code unwinds all state it created ... fd unpins").
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for fileno, e := range p.files {
		if err := e.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.sema.Release(1)
		delete(p.files, fileno)
	}
	return firstErr
}
