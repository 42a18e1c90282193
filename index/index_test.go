package index

import (
	"testing"

	"github.com/gmargari/ixengine/query"
	"github.com/gmargari/ixengine/stem"
)

func testParams() StorageParams {
	return StorageParams{
		PageSize:      4096,
		MaxTermLen:    256,
		MaxFileSize:   1 << 20,
		VocabLeafSize: 0, // Variable strategy ignores this
		FileLSize:     1 << 20,
	}
}

func mustCreate(t *testing.T, dir string) *Index {
	t.Helper()
	idx, err := Create(dir, testParams(), stem.Passthrough{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return idx
}

func TestCreateAddDocumentAndFlushRoundTrips(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)

	docs := [][]WordOccurrence{
		{{Term: []byte("fox"), Position: 0}, {Term: []byte("jumps"), Position: 1}},
		{{Term: []byte("fox"), Position: 0}, {Term: []byte("sleeps"), Position: 1}},
	}
	for _, words := range docs {
		if err := idx.AddDocument(words); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := idx.Header().IndexStats.TotalDocs; got != 2 {
		t.Fatalf("TotalDocs = %d, want 2", got)
	}
	if got := idx.Header().VectorsCount; got != 3 {
		t.Fatalf("VectorsCount = %d, want 3 (fox, jumps, sleeps)", got)
	}

	entries, found, err := idx.LookupTerm([]byte("fox"))
	if err != nil {
		t.Fatalf("LookupTerm: %v", err)
	}
	if !found {
		t.Fatalf("expected to find term %q", "fox")
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Docs != 2 {
		t.Fatalf("fox Docs = %d, want 2", entries[0].Docs)
	}

	vec, err := idx.ReadList(entries[0])
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if len(vec) == 0 {
		t.Fatalf("expected a non-empty posting vector for %q", "fox")
	}

	if _, found, err := idx.LookupTerm([]byte("nosuchterm")); err != nil {
		t.Fatalf("LookupTerm(missing): %v", err)
	} else if found {
		t.Fatalf("expected %q not to be found", "nosuchterm")
	}
}

func TestFlushAcrossMultipleCyclesMergesIntoOneVocabulary(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)

	if err := idx.AddDocument([]WordOccurrence{{Term: []byte("alpha"), Position: 0}}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	if err := idx.AddDocument([]WordOccurrence{{Term: []byte("alpha"), Position: 0}, {Term: []byte("beta"), Position: 1}}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}

	if got := idx.Header().IndexStats.TotalDocs; got != 2 {
		t.Fatalf("TotalDocs after two flushes = %d, want 2", got)
	}

	entries, found, err := idx.LookupTerm([]byte("alpha"))
	if err != nil {
		t.Fatalf("LookupTerm: %v", err)
	}
	if !found {
		t.Fatalf("expected alpha to be found after merge")
	}
	if entries[0].Docs != 2 {
		t.Fatalf("alpha Docs after merge = %d, want 2 (one per flush cycle)", entries[0].Docs)
	}

	if _, found, err := idx.LookupTerm([]byte("beta")); err != nil || !found {
		t.Fatalf("expected beta to be found, found=%v err=%v", found, err)
	}
}

func TestOpenReadsBackHeaderAfterFlush(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)
	if err := idx.AddDocument([]WordOccurrence{{Term: []byte("gamma"), Position: 0}}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := reopened.Header().IndexStats.TotalDocs; got != 1 {
		t.Fatalf("reopened TotalDocs = %d, want 1", got)
	}
	entries, found, err := reopened.LookupTerm([]byte("gamma"))
	if err != nil || !found {
		t.Fatalf("LookupTerm after reopen: found=%v err=%v", found, err)
	}
	if entries[0].Docs != 1 {
		t.Fatalf("gamma Docs = %d, want 1", entries[0].Docs)
	}
}

func TestAddDocumentOnReadOnlyHandleErrors(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)
	if err := idx.AddDocument([]WordOccurrence{{Term: []byte("delta"), Position: 0}}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reopened.AddDocument([]WordOccurrence{{Term: []byte("epsilon"), Position: 0}}); err == nil {
		t.Fatalf("expected AddDocument on a read-only handle to error")
	}
}

func TestSearchRanksDocumentContainingBothTermsHighest(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)

	docs := [][]WordOccurrence{
		{{Term: []byte("fox"), Position: 0}},
		{{Term: []byte("fox"), Position: 0}, {Term: []byte("jumps"), Position: 1}, {Term: []byte("jumps"), Position: 2}},
		{{Term: []byte("jumps"), Position: 0}},
	}
	for _, words := range docs {
		if err := idx.AddDocument(words); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	result, err := idx.Search([][]byte{[]byte("fox"), []byte("jumps")}, 0, 10, query.BM25K3{}, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(result.Results))
	}
	if result.Results[0].Docno != 1 {
		t.Fatalf("top result docno = %d, want 1 (contains both terms)", result.Results[0].Docno)
	}
}

func TestSearchWithUnknownTermFindsNothing(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)
	if err := idx.AddDocument([]WordOccurrence{{Term: []byte("zeta"), Position: 0}}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	result, err := idx.Search([][]byte{[]byte("nope")}, 0, 10, query.BM25K3{}, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Results) != 0 {
		t.Fatalf("len(Results) = %d, want 0", len(result.Results))
	}
}

func TestFlushWithNoPendingDocumentsIsANoOp(t *testing.T) {
	dir := t.TempDir()
	idx := mustCreate(t, dir)
	before := idx.Header()
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if idx.Header() != before {
		t.Fatalf("Flush with nothing accumulated changed the header: got %+v, want %+v", idx.Header(), before)
	}
}
