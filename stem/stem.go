// Package stem provides the pluggable term-normalisation hook the core calls
// through on every indexed and queried term (spec.md §1 scopes the stemmer and
// stoplist out of the core itself — "plug-in callables" — while still requiring
// the core to call through one). The default implementation is a dependency-free
// passthrough plus a small stoplist; callers that want real linguistic stemming
// swap in their own Normalizer (e.g. a Porter2 stemmer, the way
// github.com/surgebase/porter2 is wired behind an interface elsewhere in this
// ecosystem) without the core needing to change.
package stem

import "bytes"

// Normalizer reduces a term to its indexed form, or reports that the term should
// be dropped entirely (a stopword). Implementations must be safe for concurrent
// use by multiple read-only query evaluators.
type Normalizer interface {
	// Normalize returns the term's indexed form. drop is true if the term should
	// be discarded rather than indexed or matched (a stopword).
	Normalize(term []byte) (norm []byte, drop bool)
}

// Passthrough returns every term unchanged and never drops anything. It is the
// zero-configuration default: correct but does no linguistic normalisation.
type Passthrough struct{}

func (Passthrough) Normalize(term []byte) ([]byte, bool) { return term, false }

// Stoplist wraps another Normalizer and additionally drops any term present in a
// fixed set, case-sensitively (the core treats terms as opaque bytes; callers
// wanting case folding apply it themselves before constructing the Stoplist, or
// compose a lowercasing Normalizer ahead of this one).
type Stoplist struct {
	next  Normalizer
	words map[string]struct{}
}

// NewStoplist builds a Stoplist wrapping next (use Passthrough{} for none) that
// drops every term in words.
func NewStoplist(next Normalizer, words []string) *Stoplist {
	if next == nil {
		next = Passthrough{}
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return &Stoplist{next: next, words: set}
}

func (s *Stoplist) Normalize(term []byte) ([]byte, bool) {
	norm, drop := s.next.Normalize(term)
	if drop {
		return norm, true
	}
	if _, stopped := s.words[string(norm)]; stopped {
		return norm, true
	}
	return norm, false
}

// DefaultEnglishStoplist is a small, conventional English stopword list —
// intentionally short; a production deployment is expected to supply its own via
// NewStoplist or compose a real stemmer's output with one.
var DefaultEnglishStoplist = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
	"to", "was", "were", "will", "with",
}

// SuffixStemmer is a minimal, dependency-free stand-in for a real stemmer: it
// strips a small set of common English inflectional suffixes. It is not a Porter
// algorithm and is not claimed to be linguistically complete — it exists so the
// core has a non-trivial default to exercise the Normalizer interface without
// forcing a heavy dependency onto a plug-in point spec.md explicitly marks
// non-core.
type SuffixStemmer struct{}

var stemSuffixes = []string{"ing", "edly", "ed", "ies", "es", "s"}

func (SuffixStemmer) Normalize(term []byte) ([]byte, bool) {
	if len(term) == 0 {
		return term, true
	}
	lower := bytes.ToLower(term)
	for _, suf := range stemSuffixes {
		if len(lower) > len(suf)+2 && bytes.HasSuffix(lower, []byte(suf)) {
			return lower[:len(lower)-len(suf)], false
		}
	}
	return lower, false
}
