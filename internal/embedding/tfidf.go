package embedding

import (
	"cmp"
	"context"
	"math"
	"slices"
)

const defaultTFIDFTerms = 512

// TFIDFEmbedder is the offline fallback: a bag-of-words vector over the most
// common terms of a fixed corpus, weighted by smoothed inverse document
// frequency.
type TFIDFEmbedder struct {
	index map[string]int // term -> vector position
	idf   []float64
	dims  int
}

// NewTFIDFEmbedder builds the vocabulary from docs (typically the text of
// every stored fact) keeping at most maxTerms terms.
func NewTFIDFEmbedder(docs []string, maxTerms int) *TFIDFEmbedder {
	if maxTerms <= 0 {
		maxTerms = defaultTFIDFTerms
	}

	df := map[string]int{}
	n := 0
	for _, doc := range docs {
		toks := Tokenize(doc)
		if len(toks) == 0 {
			continue
		}
		n++
		for _, term := range uniq(toks) {
			df[term]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	// Most frequent first, alphabetical among ties so the layout is stable.
	slices.SortFunc(terms, func(a, b string) int {
		if c := cmp.Compare(df[b], df[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}

	e := &TFIDFEmbedder{
		index: make(map[string]int, len(terms)),
		idf:   make([]float64, len(terms)),
		dims:  max(len(terms), 1),
	}
	docs64 := float64(max(n, 1))
	for i, term := range terms {
		e.index[term] = i
		e.idf[i] = 1 + math.Log(docs64/float64(df[term]))
	}
	return e
}

func (t *TFIDFEmbedder) Model() string   { return "tfidf" }
func (t *TFIDFEmbedder) Dimensions() int { return t.dims }

// Terms is the vocabulary size. With no terms every vector is zero.
func (t *TFIDFEmbedder) Terms() int { return len(t.index) }

// Embed returns the unit-length vector for text using augmented term
// frequency, which keeps long inputs from dominating short ones.
func (t *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, t.dims)
	counts := map[int]int{}
	peak := 0
	for _, tok := range Tokenize(text) {
		i, ok := t.index[tok]
		if !ok {
			continue
		}
		counts[i]++
		peak = max(peak, counts[i])
	}
	for i, c := range counts {
		vec[i] = (0.5 + 0.5*float64(c)/float64(peak)) * t.idf[i]
	}
	normalize(vec)
	return vec, nil
}

func uniq(toks []string) []string {
	seen := make(map[string]struct{}, len(toks))
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
