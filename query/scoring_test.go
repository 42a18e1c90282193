package query

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCosinePerDocAndPost(t *testing.T) {
	c := Cosine{}
	st := c.PerCall(TermStats{Fqt: 1})
	acc := &Accumulator{Docno: 0}
	c.PerDoc(st, acc, 3)
	want := (1 + math.Log(1)) * (1 + math.Log(3))
	if !approxEqual(acc.Weight, want) {
		t.Errorf("Weight = %v, want %v", acc.Weight, want)
	}
	c.Post(st, acc, 2.0)
	if !approxEqual(acc.Weight, want/2.0) {
		t.Errorf("Weight after Post = %v, want %v", acc.Weight, want/2.0)
	}
}

func TestCosineContribMatchesPerDoc(t *testing.T) {
	c := Cosine{}
	st := c.PerCall(TermStats{Fqt: 2})
	acc := &Accumulator{}
	c.PerDoc(st, acc, 4)
	if !approxEqual(acc.Weight, c.Contrib(st, 4)) {
		t.Errorf("PerDoc result %v != Contrib result %v", acc.Weight, c.Contrib(st, 4))
	}
}

func TestBM25K3HigherFdtScoresHigher(t *testing.T) {
	b := BM25K3{}
	st := b.PerCall(TermStats{Fqt: 1, Ft: 10, N: 1000, AvgDL: 100})
	low := b.Contrib(st, 1)
	high := b.Contrib(st, 20)
	if !(high > low) {
		t.Errorf("expected higher fdt to score higher: low=%v high=%v", low, high)
	}
}

func TestBM25K3UsesDocLenWhenProvided(t *testing.T) {
	b := BM25K3{}
	lens := map[uint64]float64{1: 500}
	st := b.PerCall(TermStats{Fqt: 1, Ft: 10, N: 1000, AvgDL: 100, DocLen: func(d uint64) float64 { return lens[d] }})
	accShort := &Accumulator{Docno: 0}
	accLong := &Accumulator{Docno: 1}
	b.PerDoc(st, accShort, 5)
	b.PerDoc(st, accLong, 5)
	if !(accShort.Weight > accLong.Weight) {
		t.Errorf("expected shorter doc to score higher for same fdt: short=%v long=%v", accShort.Weight, accLong.Weight)
	}
}

func TestDirichletContribMatchesPerDoc(t *testing.T) {
	d := Dirichlet{CollectionLength: 100000}
	st := d.PerCall(TermStats{Fqt: 1, BigFt: 50, AvgDL: 200})
	acc := &Accumulator{}
	d.PerDoc(st, acc, 3)
	if !approxEqual(acc.Weight, d.Contrib(st, 3)) {
		t.Errorf("PerDoc %v != Contrib %v", acc.Weight, d.Contrib(st, 3))
	}
}

func TestPivotedCosineContribMatchesPerDoc(t *testing.T) {
	p := PivotedCosine{}
	st := p.PerCall(TermStats{QueryWt: 1.5, AvgDL: 100})
	acc := &Accumulator{}
	p.PerDoc(st, acc, 2)
	if !approxEqual(acc.Weight, p.Contrib(st, 2)) {
		t.Errorf("PerDoc %v != Contrib %v", acc.Weight, p.Contrib(st, 2))
	}
}

func TestHawkapiContribMatchesPerDoc(t *testing.T) {
	h := Hawkapi{}
	st := h.PerCall(TermStats{Ft: 5, N: 1000})
	acc := &Accumulator{}
	h.PerDoc(st, acc, 2)
	if !approxEqual(acc.Weight, h.Contrib(st, 2)) {
		t.Errorf("PerDoc %v != Contrib %v", acc.Weight, h.Contrib(st, 2))
	}
}

func TestAllScoringFunctionsHaveNames(t *testing.T) {
	fns := []ScoringFunction{Cosine{}, BM25K3{}, Dirichlet{}, PivotedCosine{}, Hawkapi{}}
	seen := map[string]bool{}
	for _, f := range fns {
		if f.Name() == "" {
			t.Errorf("%T has empty Name()", f)
		}
		if seen[f.Name()] {
			t.Errorf("duplicate Name() %q", f.Name())
		}
		seen[f.Name()] = true
	}
}
