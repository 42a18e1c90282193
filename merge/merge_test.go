package merge

import (
	"fmt"
	"testing"

	"github.com/gmargari/ixengine/btree"
	"github.com/gmargari/ixengine/page"
	"github.com/gmargari/ixengine/postings"
	"github.com/gmargari/ixengine/stem"
	"github.com/gmargari/ixengine/vbyte"
	"github.com/stretchr/testify/require"
)

// fakeIO is an in-memory IO for tests: each file is a flat growable byte slice,
// matching how a real file would be extended by sequential writes.
type fakeIO struct {
	pageSize int

	vocab      map[uint32][]byte
	vocabFiles map[uint32]bool
	lists      map[uint32][]byte
	listFiles  map[uint32]bool
}

func newFakeIO(pageSize int) *fakeIO {
	return &fakeIO{
		pageSize:   pageSize,
		vocab:      map[uint32][]byte{},
		vocabFiles: map[uint32]bool{},
		lists:      map[uint32][]byte{},
		listFiles:  map[uint32]bool{},
	}
}

func growTo(buf []byte, n int) []byte {
	if len(buf) < n {
		buf = append(buf, make([]byte, n-len(buf))...)
	}
	return buf
}

func (f *fakeIO) ReadVocabPage(fileno uint32, offset uint64) ([]byte, error) {
	data, ok := f.vocab[fileno]
	if !ok {
		return nil, fmt.Errorf("fakeIO: no vocab file %d", fileno)
	}
	end := int(offset) + f.pageSize
	if end > len(data) {
		return nil, fmt.Errorf("fakeIO: vocab read past end of file %d", fileno)
	}
	out := make([]byte, f.pageSize)
	copy(out, data[offset:end])
	return out, nil
}

func (f *fakeIO) WriteVocabPage(fileno uint32, offset uint64, data []byte) error {
	buf := growTo(f.vocab[fileno], int(offset)+len(data))
	copy(buf[offset:], data)
	f.vocab[fileno] = buf
	return nil
}

func (f *fakeIO) EnsureVocabFile(fileno uint32) error {
	f.vocabFiles[fileno] = true
	return nil
}

func (f *fakeIO) ReadList(fileno uint32, offset, size uint64) ([]byte, error) {
	data, ok := f.lists[fileno]
	if !ok {
		return nil, fmt.Errorf("fakeIO: no list file %d", fileno)
	}
	end := offset + size
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("fakeIO: list read past end of file %d", fileno)
	}
	out := make([]byte, size)
	copy(out, data[offset:end])
	return out, nil
}

func (f *fakeIO) WriteList(fileno uint32, offset uint64, data []byte) error {
	buf := growTo(f.lists[fileno], int(offset)+len(data))
	copy(buf[offset:], data)
	f.lists[fileno] = buf
	return nil
}

func (f *fakeIO) EnsureListFile(fileno uint32) error {
	f.listFiles[fileno] = true
	return nil
}

func readAllVocab(t *testing.T, io *fakeIO, cfg Config, root btree.Pointer) map[string]postings.Entry {
	t.Helper()
	r := btree.NewBulkReader(btree.ReaderConfig{
		LeafStrategy:       cfg.VocabStrategy,
		LeafFixedValueSize: cfg.VocabFixedValueSize,
	}, root)
	out := map[string]postings.Entry{}
	for {
		step := r.Next()
		switch step.Kind {
		case btree.StepRead:
			data, err := io.ReadVocabPage(step.Read.FileNo, step.Read.Offset)
			require.NoError(t, err)
			require.NoError(t, r.Feed(data))
		case btree.StepItem:
			e, n, err := postings.Decode(step.Value)
			require.NoError(t, err)
			require.Equal(t, len(step.Value), n)
			out[string(step.Key)] = e
			r.Advance()
		case btree.StepDone:
			return out
		case btree.StepErr:
			t.Fatalf("reader error: %v", step.Err)
		default:
			t.Fatalf("unexpected reader step %v", step.Kind)
		}
	}
}

func baseConfig() Config {
	return Config{
		PageSize:      256,
		MaxFileSize:   1 << 30,
		VocabStrategy: page.Variable,
	}
}

func TestRunFirstBuildHasNoOldVocab(t *testing.T) {
	acc := postings.New(stem.Passthrough{}, 0)
	require.NoError(t, acc.AddDoc(0))
	require.NoError(t, acc.AddWord([]byte("apple"), 0))
	require.NoError(t, acc.AddWord([]byte("banana"), 1))
	_, err := acc.UpdateDoc()
	require.NoError(t, err)
	entries := acc.DumpEntries()

	io := newFakeIO(256)
	cfg := baseConfig()
	res, err := Run(cfg, OldVocab{HasOld: false}, entries, io)
	require.NoError(t, err)

	got := readAllVocab(t, io, cfg, res.Root)
	require.Len(t, got, 2)
	apple := got["apple"]
	require.Equal(t, postings.VTypeDocwp, apple.VType)
	require.Equal(t, postings.LocationFile, apple.Location.Tag)
	require.EqualValues(t, 1, apple.Docs)
}

func TestRunMergeCopiesJoinsAndEmitsNew(t *testing.T) {
	acc := postings.New(stem.Passthrough{}, 0)

	// Old batch: docno 0 has "apple" and "banana"; docno 1 has "apple".
	require.NoError(t, acc.AddDoc(0))
	require.NoError(t, acc.AddWord([]byte("apple"), 0))
	require.NoError(t, acc.AddWord([]byte("banana"), 1))
	_, err := acc.UpdateDoc()
	require.NoError(t, err)
	require.NoError(t, acc.AddDoc(1))
	require.NoError(t, acc.AddWord([]byte("apple"), 0))
	_, err = acc.UpdateDoc()
	require.NoError(t, err)
	oldEntries := acc.DumpEntries()

	io := newFakeIO(256)
	cfg := baseConfig()
	firstRes, err := Run(cfg, OldVocab{HasOld: false}, oldEntries, io)
	require.NoError(t, err)

	// New batch, continuing docnos: docno 2 has "apple" and "cherry".
	require.NoError(t, acc.AddDoc(2))
	require.NoError(t, acc.AddWord([]byte("apple"), 0))
	require.NoError(t, acc.AddWord([]byte("cherry"), 1))
	_, err = acc.UpdateDoc()
	require.NoError(t, err)
	newEntries := acc.DumpEntries()

	cfg2 := cfg
	cfg2.StartVocabFileNo = 1
	cfg2.StartListFileNo = 1
	secondRes, err := Run(cfg2, OldVocab{HasOld: true, Root: firstRes.Root}, newEntries, io)
	require.NoError(t, err)

	got := readAllVocab(t, io, cfg2, secondRes.Root)
	require.Len(t, got, 3) // apple (joined), banana (copy-through), cherry (new-only)

	banana := got["banana"]
	require.EqualValues(t, 1, banana.Docs)
	require.EqualValues(t, 0, banana.LastDocno)

	cherry := got["cherry"]
	require.EqualValues(t, 1, cherry.Docs)
	require.EqualValues(t, 2, cherry.LastDocno)

	apple := got["apple"]
	require.EqualValues(t, 3, apple.Docs) // 2 old + 1 new
	require.EqualValues(t, 3, apple.Occurs)
	require.EqualValues(t, 2, apple.LastDocno)

	// Decode apple's joined list and confirm all three docnos appear, strictly
	// increasing: 0, 1, 2.
	data, err := io.ReadList(apple.Location.FileNo, apple.Location.Offset, apple.Size)
	require.NoError(t, err)
	pos := 0
	docno := int64(-1)
	for i := 0; i < 3; i++ {
		dgap, n, err := vbyte.Read(data[pos:])
		require.NoError(t, err)
		pos += n
		docno = docno + int64(dgap) + 1
		fdt, n, err := vbyte.Read(data[pos:])
		require.NoError(t, err)
		pos += n
		// skip fdt offset-gap fields
		_, consumed, err := vbyte.ArrayRead(data[pos:], int(fdt))
		require.NoError(t, err)
		pos += consumed
	}
	require.EqualValues(t, 2, docno)
	require.Equal(t, len(data), pos)
}

func TestRunRollsOverListFileAtMaxSize(t *testing.T) {
	acc := postings.New(stem.Passthrough{}, 0)
	require.NoError(t, acc.AddDoc(0))
	for i := 0; i < 50; i++ {
		require.NoError(t, acc.AddWord([]byte(fmt.Sprintf("term%02d", i)), uint64(i)))
	}
	_, err := acc.UpdateDoc()
	require.NoError(t, err)
	entries := acc.DumpEntries()

	io := newFakeIO(256)
	cfg := baseConfig()
	cfg.MaxFileSize = 40 // small enough to force several list-file rollovers

	res, err := Run(cfg, OldVocab{HasOld: false}, entries, io)
	require.NoError(t, err)
	require.Greater(t, res.EndListFileNo, uint32(0))

	got := readAllVocab(t, io, cfg, res.Root)
	require.Len(t, got, 50)
	for term, e := range got {
		data, err := io.ReadList(e.Location.FileNo, e.Location.Offset, e.Size)
		require.NoErrorf(t, err, "reading list for %s", term)
		require.Len(t, data, int(e.Size))
	}
}

func TestRunRejectsImpactOnlyOldTerm(t *testing.T) {
	// Build an old vocabulary by hand containing one term with only an impact
	// vector: it must vanish entirely rather than surviving the merge.
	bb, err := btree.NewBulkBuilder(btree.Config{PageSize: 256, LeafStrategy: page.Variable})
	require.NoError(t, err)
	impactEntry := postings.Entry{
		VType:    postings.VTypeImpact,
		Size:     2,
		Location: postings.Location{Tag: postings.LocationInline, Payload: []byte{1, 2}},
	}
	value, err := postings.Encode(nil, impactEntry)
	require.NoError(t, err)

	io := newFakeIO(256)
	step := bb.Insert([]byte("onlyimpact"), value)
	for step.Kind == btree.StepWrite || step.Kind == btree.StepFlush {
		if step.Kind == btree.StepWrite {
			require.NoError(t, io.WriteVocabPage(step.Write.FileNo, step.Write.Offset, step.Write.Data))
		} else {
			require.NoError(t, io.EnsureVocabFile(step.Write.FileNo))
		}
		step = bb.Continue()
	}
	require.Equal(t, btree.StepOK, step.Kind)
	step = bb.Finish()
	for step.Kind == btree.StepWrite || step.Kind == btree.StepFlush {
		if step.Kind == btree.StepWrite {
			require.NoError(t, io.WriteVocabPage(step.Write.FileNo, step.Write.Offset, step.Write.Data))
		} else {
			require.NoError(t, io.EnsureVocabFile(step.Write.FileNo))
		}
		step = bb.Continue()
	}
	require.Equal(t, btree.StepFinish, step.Kind)
	oldRoot := step.Root

	acc := postings.New(stem.Passthrough{}, 0)
	require.NoError(t, acc.AddDoc(0))
	require.NoError(t, acc.AddWord([]byte("freshterm"), 0))
	_, err = acc.UpdateDoc()
	require.NoError(t, err)
	newEntries := acc.DumpEntries()

	cfg := baseConfig()
	cfg.StartVocabFileNo = 1
	res, err := Run(cfg, OldVocab{HasOld: true, Root: oldRoot}, newEntries, io)
	require.NoError(t, err)

	got := readAllVocab(t, io, cfg, res.Root)
	require.Len(t, got, 1)
	_, hasImpactTerm := got["onlyimpact"]
	require.False(t, hasImpactTerm)
	_, hasFresh := got["freshterm"]
	require.True(t, hasFresh)
}
