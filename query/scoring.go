package query

import "math"

// TermStats are the per-conjunct constants a ScoringFunction's PerCall hook
// needs to derive its scoring state, per spec.md §4.8: "a function of
// (f_qt, f_dt, f_t, F_t, dl, avgdl, N)".
type TermStats struct {
	Fqt     int     // in-query term frequency
	Ft      uint64  // number of documents containing the term
	BigFt   uint64  // total term occurrences across the collection
	N       uint64  // collection size (document count)
	AvgDL   float64 // average document length
	QueryWt float64 // query vector weight (cosine only)
	DocLen  func(docno uint64) float64
}

// State is whatever per-term constants a ScoringFunction's PerCall computed;
// PerDoc and Contrib receive it back opaquely.
type State interface{}

// ScoringFunction is spec.md §4.8's PRE/PER_DOC/CONTRIB/POST hook family.
// Exact formulae beyond Cosine/BM25/Dirichlet (which the spec gives
// literally) are not part of the core contract — only that PerDoc and
// Contrib stay consistent for the same inputs, so THRESHOLD-phase
// thresh<->v_t translation remains sound.
type ScoringFunction interface {
	Name() string
	// PerCall runs once per conjunct, computing this term's scoring constants.
	PerCall(stats TermStats) State
	// PerDoc adds fdt's contribution for this term to acc's running weight.
	PerDoc(st State, acc *Accumulator, fdt int)
	// Contrib computes the isolated contribution a fresh accumulator would
	// receive from an occurrence count of fdt, without mutating anything;
	// used only by the THRESHOLD phase to translate thresh <-> v_t.
	Contrib(st State, fdt int) float64
	// Post runs once per query over every surviving accumulator after all
	// conjuncts have been processed. May be a no-op.
	Post(st State, acc *Accumulator, docWeight float64)
}

// --- Cosine -----------------------------------------------------------

type cosineState struct {
	wqt float64
}

// Cosine implements spec.md §4.8's cosine/tf-idf scoring:
// acc += (1+ln f_qt)(1+ln f_dt); POST divides by the document weight only
// (no query weight is applied).
type Cosine struct{}

func (Cosine) Name() string { return "cosine" }

func (Cosine) PerCall(stats TermStats) State {
	return &cosineState{wqt: 1 + math.Log(float64(stats.Fqt))}
}

func (Cosine) PerDoc(st State, acc *Accumulator, fdt int) {
	s := st.(*cosineState)
	acc.Weight += s.wqt * (1 + math.Log(float64(fdt)))
}

func (Cosine) Contrib(st State, fdt int) float64 {
	s := st.(*cosineState)
	return s.wqt * (1 + math.Log(float64(fdt)))
}

func (Cosine) Post(_ State, acc *Accumulator, docWeight float64) {
	if docWeight != 0 {
		acc.Weight /= docWeight
	}
}

// --- BM25 / Okapi K3 ----------------------------------------------------

const (
	bm25K1 = 1.2
	bm25B  = 0.75
	bm25K3 = 1000.0 // query-frequency saturation constant
)

type bm25State struct {
	idf    float64
	wqt    float64
	avgdl  float64
	docLen func(uint64) float64
}

// BM25K3 implements spec.md §4.8's Okapi BM25 with query-term saturation K3:
// K = k1*((1-b) + b*dl/avgdl); acc += w_qt*((k1+1)*f_dt)/(K+f_dt)*idf.
type BM25K3 struct{}

func (BM25K3) Name() string { return "bm25" }

func (BM25K3) PerCall(stats TermStats) State {
	n := float64(stats.N)
	ft := float64(stats.Ft)
	idf := math.Log((n - ft + 0.5) / (ft + 0.5))
	wqt := (bm25K3 + 1) * float64(stats.Fqt) / (bm25K3 + float64(stats.Fqt))
	return &bm25State{idf: idf, wqt: wqt, avgdl: stats.AvgDL, docLen: stats.DocLen}
}

func (b BM25K3) contrib(s *bm25State, dl float64, fdt int) float64 {
	k := bm25K1 * ((1 - bm25B) + bm25B*dl/s.avgdl)
	fdtF := float64(fdt)
	return s.wqt * ((bm25K1+1)*fdtF) / (k + fdtF) * s.idf
}

func (b BM25K3) PerDoc(st State, acc *Accumulator, fdt int) {
	s := st.(*bm25State)
	dl := s.avgdl
	if s.docLen != nil {
		dl = s.docLen(acc.Docno)
	}
	acc.Weight += b.contrib(s, dl, fdt)
}

func (b BM25K3) Contrib(st State, fdt int) float64 {
	s := st.(*bm25State)
	return b.contrib(s, s.avgdl, fdt)
}

func (BM25K3) Post(State, *Accumulator, float64) {}

// --- Dirichlet language model -------------------------------------------

const dirichletMu = 2000.0

type dirichletState struct {
	bigFt  float64
	sumF   float64
	avgdl  float64
	fqt    float64
	docLen func(uint64) float64
}

// Dirichlet implements a Dirichlet-smoothed language-model score:
// acc += f_qt * (ln(1 + f_dt/(mu*F_t/sum_F)) + ln(mu/(dl+mu))), with dl the
// document's length (avgdl when no length lookup is supplied).
type Dirichlet struct {
	// CollectionLength is sum_F, the total occurrence count across every
	// term in the collection; callers supply it since it is a collection-wide
	// statistic outside any single conjunct's TermStats.
	CollectionLength uint64
}

func (Dirichlet) Name() string { return "dirichlet" }

func (d Dirichlet) PerCall(stats TermStats) State {
	return &dirichletState{
		bigFt:  float64(stats.BigFt),
		sumF:   float64(d.CollectionLength),
		avgdl:  stats.AvgDL,
		fqt:    float64(stats.Fqt),
		docLen: stats.DocLen,
	}
}

func (Dirichlet) PerDoc(st State, acc *Accumulator, fdt int) {
	s := st.(*dirichletState)
	pcoll := s.bigFt / s.sumF
	dl := s.avgdl
	if s.docLen != nil {
		dl = s.docLen(acc.Docno)
	}
	num := float64(fdt) + dirichletMu*pcoll
	den := dl + dirichletMu
	acc.Weight += s.fqt * math.Log(num/den/pcoll)
}

func (Dirichlet) Contrib(st State, fdt int) float64 {
	s := st.(*dirichletState)
	pcoll := s.bigFt / s.sumF
	num := float64(fdt) + dirichletMu*pcoll
	den := s.avgdl + dirichletMu
	return s.fqt * math.Log(num/den/pcoll)
}

func (Dirichlet) Post(State, *Accumulator, float64) {}

// --- Pivoted cosine -------------------------------------------------------

type pivotedState struct {
	wqt    float64
	slope  float64
	avgdl  float64
	docLen func(uint64) float64
}

// PivotedCosine is a pivoted-length-normalization variant of Cosine (Singhal
// et al.): acc += w_qt * (1+ln(1+ln f_dt)) / ((1-slope) + slope*dl/avgdl).
// The exact formula is not part of the core contract (spec.md §4.8) beyond
// PerDoc/Contrib consistency; slope follows the commonly used 0.20 default.
type PivotedCosine struct{}

const pivotSlope = 0.20

func (PivotedCosine) Name() string { return "pivoted-cosine" }

func (PivotedCosine) PerCall(stats TermStats) State {
	return &pivotedState{wqt: stats.QueryWt, slope: pivotSlope, avgdl: stats.AvgDL, docLen: stats.DocLen}
}

// contrib computes the tf contribution; docno selects the document length for
// the normalization term. Contrib (used only for thresh<->v_t translation,
// where no concrete docno exists yet) falls back to avgdl.
func (p PivotedCosine) contrib(s *pivotedState, dl float64, fdt int) float64 {
	tf := 1 + math.Log(1+math.Log(float64(fdt)))
	norm := (1 - s.slope) + s.slope*dl/s.avgdl
	return s.wqt * tf / norm
}

func (p PivotedCosine) PerDoc(st State, acc *Accumulator, fdt int) {
	s := st.(*pivotedState)
	dl := s.avgdl
	if s.docLen != nil {
		dl = s.docLen(acc.Docno)
	}
	acc.Weight += p.contrib(s, dl, fdt)
}

func (p PivotedCosine) Contrib(st State, fdt int) float64 {
	s := st.(*pivotedState)
	return p.contrib(s, s.avgdl, fdt)
}

func (PivotedCosine) Post(State, *Accumulator, float64) {}

// --- hawkapi ---------------------------------------------------------------

type hawkapiState struct {
	idf float64
	k   float64
}

// Hawkapi is a BM25-family variant with a fixed saturation constant instead
// of length normalization, named for the internal ranking function it
// approximates. Not part of the core contract beyond PerDoc/Contrib
// consistency (spec.md §4.8).
type Hawkapi struct{}

const hawkapiK = 1.5

func (Hawkapi) Name() string { return "hawkapi" }

func (Hawkapi) PerCall(stats TermStats) State {
	n := float64(stats.N)
	ft := float64(stats.Ft)
	return &hawkapiState{idf: math.Log(1 + (n-ft+0.5)/(ft+0.5)), k: hawkapiK}
}

func (h Hawkapi) contrib(s *hawkapiState, fdt int) float64 {
	fdtF := float64(fdt)
	return s.idf * fdtF / (s.k + fdtF)
}

func (h Hawkapi) PerDoc(st State, acc *Accumulator, fdt int) {
	acc.Weight += h.contrib(st.(*hawkapiState), fdt)
}

func (h Hawkapi) Contrib(st State, fdt int) float64 {
	return h.contrib(st.(*hawkapiState), fdt)
}

func (Hawkapi) Post(State, *Accumulator, float64) {}
