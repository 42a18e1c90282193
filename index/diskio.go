package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// diskIO implements merge.IO directly against plain *os.File handles, one per
// file number per family (vocab.N / index.N). spec.md §5's scheduling model
// dedicates a whole index handle to at most one builder/merger at a time, so
// there is no read-sharing to arbitrate here the way fd.Pool arbitrates it for
// concurrent evaluators — a merge simply owns the files it touches outright
// for the duration of the call.
type diskIO struct {
	dir      string
	pageSize int

	mu    sync.Mutex
	vocab map[uint32]*os.File
	lists map[uint32]*os.File
}

func newDiskIO(dir string, pageSize int) (*diskIO, error) {
	return &diskIO{
		dir:      dir,
		pageSize: pageSize,
		vocab:    map[uint32]*os.File{},
		lists:    map[uint32]*os.File{},
	}, nil
}

func (d *diskIO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, f := range d.vocab {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range d.lists {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *diskIO) path(ext string, fileno uint32) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s.%d", ext, fileno))
}

func (d *diskIO) openFor(family map[uint32]*os.File, ext string, fileno uint32, create bool) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := family[fileno]; ok {
		return f, nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(d.path(ext, fileno), flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("index: opening %s: %w", d.path(ext, fileno), err)
	}
	family[fileno] = f
	return f, nil
}

// ReadVocabPage satisfies merge.IO / btree's page-read protocol.
func (d *diskIO) ReadVocabPage(fileno uint32, offset uint64) ([]byte, error) {
	f, err := d.openFor(d.vocab, "vocab", fileno, false)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, d.pageSize)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("index: reading vocab page at %d: %w", offset, err)
	}
	return buf, nil
}

func (d *diskIO) WriteVocabPage(fileno uint32, offset uint64, data []byte) error {
	f, err := d.openFor(d.vocab, "vocab", fileno, true)
	if err != nil {
		return err
	}
	_, err = f.WriteAt(data, int64(offset))
	return err
}

func (d *diskIO) EnsureVocabFile(fileno uint32) error {
	_, err := d.openFor(d.vocab, "vocab", fileno, true)
	return err
}

func (d *diskIO) ReadList(fileno uint32, offset, size uint64) ([]byte, error) {
	f, err := d.openFor(d.lists, "index", fileno, false)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("index: reading list at %d,%d: %w", fileno, offset, err)
	}
	return buf, nil
}

func (d *diskIO) WriteList(fileno uint32, offset uint64, data []byte) error {
	f, err := d.openFor(d.lists, "index", fileno, true)
	if err != nil {
		return err
	}
	_, err = f.WriteAt(data, int64(offset))
	return err
}

func (d *diskIO) EnsureListFile(fileno uint32) error {
	_, err := d.openFor(d.lists, "index", fileno, true)
	return err
}
