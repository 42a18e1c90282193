// Package docmap implements the external DocMap collaborator spec.md §6
// describes: a name/weight lookup the core reads by docno but never writes,
// kept in its own file family (docmap.N) outside the core's control.
package docmap

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// CacheFlags selects which DocMap columns get aggressively cached in RAM, per
// spec.md §6's `cache(flags)` call.
type CacheFlags uint8

const (
	CacheWeights CacheFlags = 1 << iota
	CacheTrecnos
)

// DocMap is spec.md §6's external collaborator interface: the core only ever
// reads named entries through it.
type DocMap interface {
	// Entries returns N, the number of documents known to the map.
	Entries() uint64
	// GetWeight returns the document-length-normalization weight for docno.
	GetWeight(docno uint64) (float32, error)
	// GetTrecno copies docno's external identifier into buf, returning the
	// number of bytes written, or an error if buf is too small.
	GetTrecno(docno uint64, buf []byte) (int, error)
	// Cache asks the implementation to aggressively cache the given columns
	// in RAM; implementations that are already fully in-RAM may no-op.
	Cache(flags CacheFlags) error
}

// record is one document's entry in the JSON docmap file.
type record struct {
	Trecno string  `json:"trecno"`
	Weight float32 `json:"weight"`
}

// JSONDocMap is a DocMap backed by a flat JSON array indexed by docno,
// adapted from the teacher's JSON-segment fetcher (fetcher.FetchJson /
// fetcher.JsonDocument): same "fetch from URL or local path, then
// json.Unmarshal" shape, restructured from a per-term postings array into a
// per-document weight/trecno array since a DocMap indexes documents, not
// terms.
type JSONDocMap struct {
	records       []record
	weightsCached bool
	trecnosCached bool
}

// LoadJSONDocMap fetches and parses a docmap file from a URL or local path.
func LoadJSONDocMap(path string) (*JSONDocMap, error) {
	data, err := fetch(path)
	if err != nil {
		return nil, err
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("docmap: failed to parse json: %w", err)
	}
	return &JSONDocMap{records: records}, nil
}

// fetch reads path from either an HTTP(S) URL or the local filesystem,
// mirroring fetcher.FetchJson's dual-source behavior.
func fetch(path string) ([]byte, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, fmt.Errorf("docmap: failed to fetch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("docmap: non-ok HTTP response: %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("docmap: failed to read response body: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("docmap: failed to read local file: %w", err)
	}
	return data, nil
}

// Entries implements DocMap.
func (m *JSONDocMap) Entries() uint64 { return uint64(len(m.records)) }

// GetWeight implements DocMap.
func (m *JSONDocMap) GetWeight(docno uint64) (float32, error) {
	if docno >= uint64(len(m.records)) {
		return 0, fmt.Errorf("docmap: docno %d out of range (entries=%d)", docno, len(m.records))
	}
	return m.records[docno].Weight, nil
}

// GetTrecno implements DocMap.
func (m *JSONDocMap) GetTrecno(docno uint64, buf []byte) (int, error) {
	if docno >= uint64(len(m.records)) {
		return 0, fmt.Errorf("docmap: docno %d out of range (entries=%d)", docno, len(m.records))
	}
	trecno := m.records[docno].Trecno
	if len(buf) < len(trecno) {
		return 0, fmt.Errorf("docmap: buf too small for trecno (need %d, have %d)", len(trecno), len(buf))
	}
	return copy(buf, trecno), nil
}

// Cache implements DocMap. JSONDocMap already holds every record in RAM, so
// this only records which columns the caller asked to have cached; there is
// no further work to do.
func (m *JSONDocMap) Cache(flags CacheFlags) error {
	if flags&CacheWeights != 0 {
		m.weightsCached = true
	}
	if flags&CacheTrecnos != 0 {
		m.trecnosCached = true
	}
	return nil
}
