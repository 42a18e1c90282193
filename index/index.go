package index

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/gmargari/ixengine/btree"
	"github.com/gmargari/ixengine/fd"
	"github.com/gmargari/ixengine/merge"
	"github.com/gmargari/ixengine/page"
	"github.com/gmargari/ixengine/postings"
	"github.com/gmargari/ixengine/query"
	"github.com/gmargari/ixengine/stem"
)

const paramFileName = "param"

// defaultMaxOpenFDs bounds how many vocab.N/index.N files fd.Pool will hold
// open concurrently on behalf of read-only operations (LookupTerm, EachTerm,
// Search, ReadList). WithMaxOpenFDs overrides it.
const defaultMaxOpenFDs int64 = 64

// Index is one on-disk index's open handle: the param header plus the
// in-RAM accumulator collecting documents added since the last Flush.
// Matches spec.md §5's single-threaded-cooperative model — one Index is
// driven by one goroutine at a time; the builder and merger stages never
// run concurrently against it.
type Index struct {
	dir       string
	header    Header
	acc       *postings.Accumulator
	nextDocno uint64
	log       zerolog.Logger

	maxOpenFDs int64
	// vocabPool/listPool are the shared read-only fd.Pool handles spec.md §5
	// names as the resource concurrent evaluators pin/unpin against, rather
	// than each opening its own *os.File per extent the way diskIO does for
	// the single exclusive writer (builder/merger) case.
	vocabPool *fd.Pool
	listPool  *fd.Pool
}

// Option configures an Index at Create/Open time.
type Option func(*Index)

// WithLogger attaches a logger an Index will emit build/merge progress to.
// Unset, an Index logs nothing (zerolog.Nop()) — there is no package-global
// logger, matching spec.md §9's guidance against process-global state.
func WithLogger(l zerolog.Logger) Option {
	return func(idx *Index) { idx.log = l }
}

// WithMaxOpenFDs bounds the shared read-only fd.Pool's concurrently-open
// file handles (default 64). Concurrent Search/LookupTerm/EachTerm calls
// against the same Index pin and unpin through this one pool.
func WithMaxOpenFDs(n int64) Option {
	return func(idx *Index) { idx.maxOpenFDs = n }
}

// Create initializes a brand new index directory with the given storage
// parameters and returns a handle ready to accept documents via AddDocument.
func Create(dir string, sp StorageParams, filter stem.Normalizer, opts ...Option) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: creating directory: %w", err)
	}
	idx := &Index{
		dir: dir,
		header: Header{
			Magic:         Magic,
			Version:       FormatVersion,
			StorageParams: sp,
		},
		acc:        postings.New(filter, 0),
		log:        zerolog.Nop(),
		maxOpenFDs: defaultMaxOpenFDs,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.vocabPool = fd.New(dir, "vocab", idx.maxOpenFDs)
	idx.listPool = fd.New(dir, "index", idx.maxOpenFDs)
	idx.log.Info().Str("dir", dir).Msg("index created")
	return idx, nil
}

// Open reads an existing index's param file and returns a read-only handle:
// it has no accumulator, so AddDocument and Flush return an error on it.
// postings.Accumulator always numbers a fresh instance's first docno 0, so
// accumulation cannot resume after a process restart.
func Open(dir string, opts ...Option) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, paramFileName))
	if err != nil {
		return nil, fmt.Errorf("index: reading param file: %w", err)
	}
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	idx := &Index{dir: dir, header: h, log: zerolog.Nop(), maxOpenFDs: defaultMaxOpenFDs}
	for _, opt := range opts {
		opt(idx)
	}
	idx.vocabPool = fd.New(dir, "vocab", idx.maxOpenFDs)
	idx.listPool = fd.New(dir, "index", idx.maxOpenFDs)
	idx.log.Debug().Str("dir", dir).Uint64("total_docs", h.IndexStats.TotalDocs).Msg("index opened")
	return idx, nil
}

// Header returns the index's current param header.
func (idx *Index) Header() Header { return idx.header }

// Close releases the shared read-only file handles Search/LookupTerm/EachTerm
// pinned through fd.Pool. It does not affect any in-progress Flush, which
// owns its own file handles via diskIO for the duration of the call.
func (idx *Index) Close() error {
	err1 := idx.vocabPool.CloseAll()
	err2 := idx.listPool.CloseAll()
	if err1 != nil {
		return err1
	}
	return err2
}

// pinVocabPage reads one vocab page through the shared fd.Pool, the path
// spec.md §5 reserves for concurrent read-only evaluators (LookupTerm,
// EachTerm, Search), as distinct from diskIO's exclusive-writer access during
// Flush.
func (idx *Index) pinVocabPage(fileno uint32, offset uint64) ([]byte, error) {
	f, err := idx.vocabPool.Pin(context.Background(), fileno)
	if err != nil {
		return nil, fmt.Errorf("index: pinning vocab.%d: %w", fileno, err)
	}
	defer idx.vocabPool.Unpin(fileno)
	buf := make([]byte, idx.header.StorageParams.PageSize)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("index: reading vocab page at %d: %w", offset, err)
	}
	return buf, nil
}

// pinList reads size posting-list bytes through the shared fd.Pool.
func (idx *Index) pinList(fileno uint32, offset, size uint64) ([]byte, error) {
	f, err := idx.listPool.Pin(context.Background(), fileno)
	if err != nil {
		return nil, fmt.Errorf("index: pinning index.%d: %w", fileno, err)
	}
	defer idx.listPool.Unpin(fileno)
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("index: reading list at %d,%d: %w", fileno, offset, err)
	}
	return buf, nil
}

// AddDocument records one document's (term, position) occurrences against
// the index's in-RAM accumulator, to be durably committed by the next Flush.
func (idx *Index) AddDocument(words []WordOccurrence) error {
	if idx.acc == nil {
		return fmt.Errorf("index: index was opened read-only; Create a new index to add documents")
	}
	docno := idx.nextDocno
	if err := idx.acc.AddDoc(docno); err != nil {
		return err
	}
	for _, w := range words {
		if err := idx.acc.AddWord(w.Term, w.Position); err != nil {
			return err
		}
	}
	if _, err := idx.acc.UpdateDoc(); err != nil {
		return err
	}
	idx.nextDocno++
	return nil
}

// WordOccurrence is one term occurrence within a document being added.
type WordOccurrence struct {
	Term     []byte
	Position uint64
}

// Flush merges everything accumulated since the last Flush (or since Create)
// into the on-disk vocabulary and list files, via merge.Run, and rewrites the
// param header as the last step. If merge.Run fails, the header is not
// rewritten and still names the previous vocabulary, but list and vocabulary
// bytes merge.Run already wrote past the old write cursors (and any new files
// it created) stay on disk; nothing is rolled back.
func (idx *Index) Flush() error {
	if idx.acc == nil {
		return fmt.Errorf("index: index was opened read-only")
	}
	entries := idx.acc.DumpEntries()
	if len(entries) == 0 {
		idx.log.Debug().Msg("flush: nothing accumulated, skipping merge")
		return nil
	}
	idx.log.Debug().Int("terms", len(entries)).Msg("flush: merging accumulated terms into vocabulary")

	io, err := newDiskIO(idx.dir, int(idx.header.StorageParams.PageSize))
	if err != nil {
		return err
	}
	defer io.Close()

	sp := idx.header.StorageParams
	// StartVocab*/StartList* resume the new builder's write cursor at exactly
	// where the previous Flush's output ended (idx.header.NextVocab/NextList),
	// so this merge's new vocabulary/list bytes never land in the file region
	// an in-flight old-vocabulary BulkReader is concurrently reading from
	// within the same merge.Run call — on the very first Flush both are the
	// zero Pointer, which is correct since there is no old data yet to collide
	// with.
	cfg := merge.Config{
		PageSize:            int(sp.PageSize),
		MaxFileSize:         uint64(sp.MaxFileSize),
		VocabStrategy:       page.Variable,
		VocabFixedValueSize: int(sp.VocabLeafSize),
		StartVocabFileNo:    idx.header.NextVocab.FileNo,
		StartVocabOffset:    idx.header.NextVocab.Offset,
		StartListFileNo:     idx.header.NextList.FileNo,
		StartListOffset:     idx.header.NextList.Offset,
	}

	oldVocab := merge.OldVocab{Root: idx.header.Root, HasOld: idx.header.VectorsCount > 0}

	result, err := merge.Run(cfg, oldVocab, entries, io)
	if err != nil {
		return fmt.Errorf("index: merge: %w", err)
	}

	var totalOccurs uint64
	for _, e := range entries {
		totalOccurs += e.Occurs
	}
	idx.header.Root = page.Pointer(result.Root)
	idx.header.VectorsCount += uint64(len(entries))
	idx.header.VocabFilesCount = result.Root.FileNo + 1
	idx.header.NextVocab = page.Pointer{FileNo: result.EndVocabFileNo, Offset: result.EndVocabOffset}
	idx.header.NextList = page.Pointer{FileNo: result.EndListFileNo, Offset: result.EndListOffset}
	idx.header.IndexStats.TotalDocs = idx.nextDocno
	idx.header.IndexStats.TotalTerms = idx.header.VectorsCount
	idx.header.IndexStats.TotalOccurs += totalOccurs
	if idx.header.IndexStats.TotalDocs > 0 {
		idx.header.IndexStats.AvgDocLen = float64(idx.header.IndexStats.TotalOccurs) / float64(idx.header.IndexStats.TotalDocs)
	}

	idx.log.Debug().
		Uint32("root_fileno", idx.header.Root.FileNo).
		Uint64("vectors_count", idx.header.VectorsCount).
		Msg("flush: merge complete, rewriting param header")
	return idx.writeHeader()
}

func (idx *Index) writeHeader() error {
	return os.WriteFile(filepath.Join(idx.dir, paramFileName), idx.header.Encode(), 0o644)
}

// LookupTerm point-looks-up term in the current vocabulary, linearly
// scanning the BulkReader's leaf stream until the key is found or exceeded —
// BulkReader only exposes left-to-right traversal (merge's own consumption
// pattern never needed point lookup), so Search reuses that same traversal
// rather than adding a second descent algorithm to btree/.
func (idx *Index) LookupTerm(term []byte) ([]postings.Entry, bool, error) {
	idx.log.Trace().Bytes("term", term).Msg("lookup_term")
	if idx.header.VectorsCount == 0 {
		return nil, false, nil
	}

	reader := btree.NewBulkReader(btree.ReaderConfig{
		LeafStrategy:       page.Variable,
		LeafFixedValueSize: int(idx.header.StorageParams.VocabLeafSize),
	}, idx.header.Root)

	for {
		step := reader.Next()
		switch step.Kind {
		case btree.StepRead:
			data, err := idx.pinVocabPage(step.Read.FileNo, step.Read.Offset)
			if err != nil {
				return nil, false, err
			}
			if err := reader.Feed(data); err != nil {
				return nil, false, err
			}
		case btree.StepItem:
			cmp := bytes.Compare(step.Key, term)
			if cmp == 0 {
				entries, err := decodeEntries(step.Value)
				return entries, true, err
			}
			reader.Advance()
			if cmp > 0 {
				return nil, false, nil
			}
		case btree.StepDone:
			return nil, false, nil
		case btree.StepErr:
			return nil, false, step.Err
		default:
			return nil, false, fmt.Errorf("index: unexpected reader step %v", step.Kind)
		}
	}
}

// EachTerm walks every vocabulary entry in lexicographic order, calling fn
// once per term. Used by dump-vocab style tooling; LookupTerm is the right
// choice for a single-term search.
func (idx *Index) EachTerm(fn func(term []byte, entries []postings.Entry) error) error {
	if idx.header.VectorsCount == 0 {
		return nil
	}

	reader := btree.NewBulkReader(btree.ReaderConfig{
		LeafStrategy:       page.Variable,
		LeafFixedValueSize: int(idx.header.StorageParams.VocabLeafSize),
	}, idx.header.Root)

	for {
		step := reader.Next()
		switch step.Kind {
		case btree.StepRead:
			data, err := idx.pinVocabPage(step.Read.FileNo, step.Read.Offset)
			if err != nil {
				return err
			}
			if err := reader.Feed(data); err != nil {
				return err
			}
		case btree.StepItem:
			entries, err := decodeEntries(step.Value)
			if err != nil {
				return err
			}
			if err := fn(step.Key, entries); err != nil {
				return err
			}
			reader.Advance()
		case btree.StepDone:
			return nil
		case btree.StepErr:
			return step.Err
		default:
			return fmt.Errorf("index: unexpected reader step %v", step.Kind)
		}
	}
}

func decodeEntries(payload []byte) ([]postings.Entry, error) {
	var out []postings.Entry
	pos := 0
	for pos < len(payload) {
		e, n, err := postings.Decode(payload[pos:])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		pos += n
	}
	return out, nil
}

// SearchResult is one ranked hit plus the total-result estimate it was drawn
// from (spec.md §6's "ranked search entry point").
type SearchResult struct {
	Results        []query.Result
	EstimatedTotal int
	IsEstimate     bool
}

// TermGroup is one OR'd-together conjunct of a Search query: a single Word,
// or a Phrase/And group of two or more terms resolved via query.ResolveSources
// (spec.md §4.7) into one synthetic conjunct before scoring. Search OR-combines
// every group in the slice exactly as plain Search OR-combines single words.
type TermGroup struct {
	Type  query.ConjunctType
	Terms [][]byte
}

// Word builds a single-term TermGroup, the common case.
func Word(term []byte) TermGroup {
	return TermGroup{Type: query.Word, Terms: [][]byte{term}}
}

// Search runs an OR-of-words ranked query against the current vocabulary
// (spec.md §4.6/§4.8), scoring with scorer (a BM25K3{} zero value is a
// reasonable default) and weighting by docWeight (nil treats every document
// as weight 1, e.g. no DocMap attached).
func (idx *Index) Search(terms [][]byte, start, length int, scorer query.ScoringFunction, docWeight func(uint64) float64) (SearchResult, error) {
	groups := make([]TermGroup, len(terms))
	for i, term := range terms {
		groups[i] = Word(term)
	}
	return idx.SearchGroups(groups, start, length, scorer, docWeight)
}

// SearchGroups runs an OR-of-groups ranked query, where each TermGroup is
// either a single word or a Phrase/And match over several terms (spec.md
// §4.7). A group with any missing term contributes nothing, exactly as a
// plain word that isn't in the vocabulary contributes nothing.
func (idx *Index) SearchGroups(groups []TermGroup, start, length int, scorer query.ScoringFunction, docWeight func(uint64) float64) (SearchResult, error) {
	var conjuncts []*query.Conjunct
	for _, group := range groups {
		c, ok, err := idx.buildGroupConjunct(group)
		if err != nil {
			return SearchResult{}, err
		}
		if ok {
			conjuncts = append(conjuncts, c)
		}
	}
	query.SortConjunctsBySelectivity(conjuncts)

	eval := query.NewEvaluator(query.EvalConfig{Scorer: scorer})
	for _, c := range conjuncts {
		if err := eval.ProcessConjunct(c); err != nil {
			return SearchResult{}, err
		}
	}
	eval.Finish(docWeight)

	results := eval.TopK(start, length)
	total, isEstimate := query.EstimateTotal(0, eval.Count(), eval.Count(), eval.Count(), eval.Count())
	idx.log.Trace().Int("groups", len(groups)).Int("results", len(results)).Msg("search")
	return SearchResult{Results: results, EstimatedTotal: total, IsEstimate: isEstimate}, nil
}

// buildGroupConjunct resolves one TermGroup into a query.Conjunct ready for
// the evaluator, reporting ok=false (no error) if any of its terms is absent
// from the vocabulary, since a phrase/AND match needs every term present.
func (idx *Index) buildGroupConjunct(group TermGroup) (*query.Conjunct, bool, error) {
	switch group.Type {
	case query.Word:
		if len(group.Terms) != 1 {
			return nil, false, fmt.Errorf("index: word term group must have exactly one term, got %d", len(group.Terms))
		}
		entry, ok, err := idx.lookupDocwpEntry(group.Terms[0])
		if err != nil || !ok {
			return nil, false, err
		}
		src, err := query.NewDiskListSource(idx.pinList, entry.Location.FileNo, entry.Location.Offset, entry.Size, int(entry.Docs))
		if err != nil {
			return nil, false, err
		}
		return &query.Conjunct{
			Type:   query.Word,
			Source: src,
			Stats: query.TermStats{
				Fqt:   1,
				Ft:    entry.Docs,
				BigFt: entry.Occurs,
				N:     idx.header.IndexStats.TotalDocs,
				AvgDL: idx.header.IndexStats.AvgDocLen,
			},
		}, true, nil

	case query.Phrase, query.And:
		if len(group.Terms) < 2 {
			return nil, false, fmt.Errorf("index: phrase/and term group needs at least two terms, got %d", len(group.Terms))
		}
		sources := make([]query.ListSource, len(group.Terms))
		for i, term := range group.Terms {
			entry, ok, err := idx.lookupDocwpEntry(term)
			if err != nil || !ok {
				return nil, false, err
			}
			src, err := query.NewDiskListSource(idx.pinList, entry.Location.FileNo, entry.Location.Offset, entry.Size, int(entry.Docs))
			if err != nil {
				return nil, false, err
			}
			sources[i] = src
		}
		vec, ft, bigFt, err := query.ResolveSources(sources, group.Type)
		if err != nil {
			return nil, false, err
		}
		if ft == 0 {
			return nil, false, nil
		}
		return &query.Conjunct{
			Type:   query.Word,
			Source: query.NewMemListSource(vec, int(ft)),
			Stats: query.TermStats{
				Fqt:   1,
				Ft:    ft,
				BigFt: bigFt,
				N:     idx.header.IndexStats.TotalDocs,
				AvgDL: idx.header.IndexStats.AvgDocLen,
			},
		}, true, nil

	default:
		return nil, false, fmt.Errorf("index: unknown term group type %v", group.Type)
	}
}

func (idx *Index) lookupDocwpEntry(term []byte) (postings.Entry, bool, error) {
	entries, found, err := idx.LookupTerm(term)
	if err != nil || !found {
		return postings.Entry{}, false, err
	}
	entry, ok := firstDocwpEntry(entries)
	return entry, ok, nil
}

func firstDocwpEntry(entries []postings.Entry) (postings.Entry, bool) {
	for _, e := range entries {
		if e.VType == postings.VTypeDocwp {
			return e, true
		}
	}
	return postings.Entry{}, false
}

// ReadList reads term entry's posting-list bytes off disk.
func (idx *Index) ReadList(e postings.Entry) ([]byte, error) {
	if e.Location.Tag == postings.LocationInline {
		return e.Location.Payload, nil
	}
	return idx.pinList(e.Location.FileNo, e.Location.Offset, e.Size)
}
