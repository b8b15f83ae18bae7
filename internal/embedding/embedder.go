// Package embedding turns text into vectors for semantic scoring.
package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnavailable means the embedding signal could not be produced in time.
// Callers fall back to keyword-only scoring.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// Tokenize lowercases text and splits it on anything that is not a letter,
// digit, hyphen or underscore, in any script. Tokens of one rune are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// normalize scales vec to unit length in place. Zero vectors are left alone.
func normalize(vec []float64) {
	n := math.Sqrt(dot(vec, vec))
	if n == 0 {
		return
	}
	for i := range vec {
		vec[i] /= n
	}
}

// IsZero reports whether vec carries no direction: empty or all zeros. TF-IDF
// yields such vectors for text with no vocabulary terms; they must be treated
// as missing, not as orthogonal.
func IsZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// CosineSimilarity of a and b. Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	denom := math.Sqrt(dot(a, a) * dot(b, b))
	if denom == 0 {
		return 0
	}
	return dot(a, b) / denom
}
