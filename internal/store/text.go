package store

import (
	"strings"
	"unicode/utf8"
)

// nearIdenticalThreshold is the bigram Jaccard index above which two texts
// count as the same statement.
const nearIdenticalThreshold = 0.95

// NearIdentical reports whether a and b, case-folded and trimmed, share more
// than 95% of their character bigrams.
func NearIdentical(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	switch {
	case a == b:
		return true
	case len(a) < 2 || len(b) < 2:
		return false
	}

	setA, setB := bigrams(a), bigrams(b)
	shared := 0
	for bg := range setA {
		if _, ok := setB[bg]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared)/float64(union) > nearIdenticalThreshold
}

func bigrams(s string) map[string]struct{} {
	set := make(map[string]struct{}, len(s)-1)
	for i := 1; i < len(s); i++ {
		set[s[i-1:i+1]] = struct{}{}
	}
	return set
}

// Clip returns at most n bytes of s without splitting a multi-byte rune.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
