package query

import (
	"container/heap"
	"sort"
)

// Conjunct is one term (or phrase/AND group) of a query plan: a vocabulary
// lookup's resulting stats plus the ListSource that will be traversed,
// together with its in-query frequency f_qt (spec.md §4.6).
type Conjunct struct {
	Type   ConjunctType
	Stats  TermStats
	Source ListSource

	state State // filled in by Evaluator.Run via Scorer.PerCall
}

// phaseMode tracks which of the three accumulator-pressure phases spec.md
// §4.6 describes the evaluator is currently in.
type phaseMode int

const (
	phaseOR phaseMode = iota
	phaseThreshold
	phaseAND
)

// EvalConfig configures one query's evaluation.
type EvalConfig struct {
	AccumulatorLimit int             // accs budget before entering THRESHOLD (0 = unbounded, never enters THRESHOLD/AND)
	Scorer           ScoringFunction // scoring function shared by every conjunct this query
	RethreshEvery    int             // decode this many records between rethresh checks (0 = default 1024)
}

// Evaluator runs spec.md §4.6's OR/THRESHOLD/AND phase loop across a list of
// already-ordered conjuncts, producing a ranked, paginated result set.
type Evaluator struct {
	cfg    EvalConfig
	accs   *AccumulatorSet
	mode   phaseMode
	thresh int
	vt     float64

	initialAccsAtThreshold int
}

// NewEvaluator returns an Evaluator ready to process conjuncts in selectivity
// order (ascending F_t/f_t, per spec.md §4.6).
func NewEvaluator(cfg EvalConfig) *Evaluator {
	if cfg.RethreshEvery <= 0 {
		cfg.RethreshEvery = 1024
	}
	return &Evaluator{cfg: cfg, accs: NewAccumulatorSet(), mode: phaseOR}
}

// SortConjunctsBySelectivity sorts conjuncts ascending by F_t (or f_t for
// term-document-frequency-based scorers, both carried in TermStats.Ft),
// spec.md §4.6's selectivity ordering: cheapest (shortest list) conjuncts
// processed first so OR-phase accumulator pressure builds gradually.
func SortConjunctsBySelectivity(conjuncts []*Conjunct) {
	sort.SliceStable(conjuncts, func(i, j int) bool {
		return conjuncts[i].Stats.Ft < conjuncts[j].Stats.Ft
	})
}

// ProcessConjunct runs one conjunct's list through whichever phase is
// currently active, transitioning OR->THRESHOLD when the accumulator budget
// is exceeded, and periodically rethreshing while in THRESHOLD.
func (e *Evaluator) ProcessConjunct(c *Conjunct) error {
	c.state = e.cfg.Scorer.PerCall(c.Stats)
	decoded := 0

	for {
		docno, fdt, _, ok, err := c.Source.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		decoded++

		switch e.mode {
		case phaseOR:
			acc := e.accs.Find(docno)
			if acc == nil {
				acc = e.accs.InsertInOrder(docno, 0)
			}
			e.cfg.Scorer.PerDoc(c.state, acc, fdt)
			if e.cfg.AccumulatorLimit > 0 && e.accs.Count() >= e.cfg.AccumulatorLimit {
				e.enterThreshold(c)
			}

		case phaseThreshold:
			contrib := e.cfg.Scorer.Contrib(c.state, fdt)
			acc := e.accs.Find(docno)
			if acc != nil {
				e.cfg.Scorer.PerDoc(c.state, acc, fdt)
			} else if contrib >= e.vt {
				acc = e.accs.InsertInOrder(docno, 0)
				e.cfg.Scorer.PerDoc(c.state, acc, fdt)
			}
			if decoded%e.cfg.RethreshEvery == 0 {
				e.rethresh(c, decoded)
			}
			if e.vt > e.maxAchievableContrib(c) {
				e.mode = phaseAND
			}

		case phaseAND:
			if acc := e.accs.Find(docno); acc != nil {
				e.cfg.Scorer.PerDoc(c.state, acc, fdt)
			}
		}
	}

	return nil
}

// enterThreshold switches from OR to THRESHOLD phase, seeding thresh at zero
// (every accumulator already present is retained; with v_t at zero, any
// nonnegative contribution still creates a new accumulator until rethresh
// raises v_t).
func (e *Evaluator) enterThreshold(c *Conjunct) {
	e.mode = phaseThreshold
	e.thresh = 0
	e.vt = 0
	e.initialAccsAtThreshold = e.accs.Count()
}

// rethresh re-estimates the end-of-list accumulator count and adjusts thresh
// (and therefore v_t) by a halving step to bring the estimate toward
// AccumulatorLimit, per spec.md §4.6.
func (e *Evaluator) rethresh(c *Conjunct, decoded int) {
	remaining := c.Source.Remaining()
	accs := e.accs.Count()
	estimate := accs
	if decoded > 0 {
		estimate = accs + (remaining*(accs-e.initialAccsAtThreshold))/decoded
	}

	target := e.cfg.AccumulatorLimit
	if target <= 0 {
		return
	}
	const tolerance = 0.1
	diff := float64(estimate-target) / float64(target)
	if diff > tolerance {
		e.thresh++
	} else if diff < -tolerance && e.thresh > 0 {
		e.thresh--
	} else {
		return
	}
	newVt := e.cfg.Scorer.Contrib(c.state, e.thresh)
	if newVt != e.vt {
		e.vt = newVt
		e.accs.PruneBelow(e.vt)
	}
}

// maxAchievableContrib bounds the contribution any future occurrence of this
// term could add, used to decide AND-phase entry: once v_t exceeds this, no
// remaining occurrence could ever create a new accumulator anyway.
func (e *Evaluator) maxAchievableContrib(c *Conjunct) float64 {
	const veryHighFdt = 1 << 20
	return e.cfg.Scorer.Contrib(c.state, veryHighFdt)
}

// Finish applies the scoring function's POST hook to every surviving
// accumulator (spec.md §4.6: "runs once per query over the accumulator
// list"), e.g. cosine's division by the document weight. No query weight is
// computed or passed to Post.
func (e *Evaluator) Finish(docWeight func(docno uint64) float64) {
	e.accs.Each(func(a *Accumulator) {
		var w float64
		if docWeight != nil {
			w = docWeight(a.Docno)
		}
		e.cfg.Scorer.Post(nil, a, w)
	})
}

// Result is one ranked hit plus pagination/estimate metadata for the whole
// result set it was drawn from.
type Result struct {
	Docno uint64
	Score float64
}

// Count returns the number of surviving accumulators — candidate results
// before pagination, fed to EstimateTotal as the accs parameter.
func (e *Evaluator) Count() int { return e.accs.Count() }

// TopK returns the start..start+length window of accumulators ranked by
// descending score (ascending docno breaking ties), via a bounded min-heap
// of size start+length (spec.md §4.6).
func (e *Evaluator) TopK(start, length int) []Result {
	k := start + length
	if k <= 0 {
		return nil
	}
	h := &scoreHeap{}
	heap.Init(h)
	e.accs.Each(func(a *Accumulator) {
		if h.Len() < k {
			heap.Push(h, Result{Docno: a.Docno, Score: a.Weight})
		} else if h.Len() > 0 && (*h)[0].Score < a.Weight || ((*h)[0].Score == a.Weight && (*h)[0].Docno > a.Docno) {
			heap.Pop(h)
			heap.Push(h, Result{Docno: a.Docno, Score: a.Weight})
		}
	})

	all := make([]Result, h.Len())
	for i := len(all) - 1; i >= 0; i-- {
		all[i] = heap.Pop(h).(Result)
	}

	if start >= len(all) {
		return nil
	}
	end := start + length
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

// EstimateTotal implements spec.md §4.6's total-result-count estimate: when
// the AND phase skipped documents that might have qualified (missed>0), the
// reported total is an estimate rather than exact. The flag depends on missed
// alone; the initial accumulator count is not an input.
func EstimateTotal(missed, hit, decoded, accs, totalResults int) (estimate int, isEstimate bool) {
	if decoded == 0 || accs == 0 {
		return totalResults, missed > 0
	}
	addl := float64(missed) * (1 - float64(hit)/float64(decoded)*float64(totalResults)/float64(accs))
	return totalResults + int(addl), missed > 0
}

// scoreHeap is a min-heap of Result ordered by ascending score, with docno
// descending as the tie-break so the weakest (lowest score, highest docno)
// result sits at index 0 and is evicted first when over budget.
type scoreHeap []Result

func (h scoreHeap) Len() int { return len(h) }
func (h scoreHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Docno > h[j].Docno
}
func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x interface{}) {
	*h = append(*h, x.(Result))
}
func (h *scoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
