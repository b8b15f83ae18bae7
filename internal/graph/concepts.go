package graph

import (
	"strings"

	"github.com/lazypower/hippocampus/internal/embedding"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "all": true, "any": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "his": true, "how": true, "its": true, "may": true, "who": true,
	"did": true, "get": true, "him": true, "she": true, "too": true, "use": true,
	"that": true, "with": true, "this": true, "from": true, "they": true, "them": true,
	"been": true, "were": true, "what": true, "when": true, "where": true, "which": true,
	"will": true, "would": true, "could": true, "should": true, "about": true,
	"know": true, "knows": true, "there": true, "their": true, "than": true, "then": true,
	"into": true, "some": true, "very": true, "just": true, "also": true, "does": true,
	"doing": true, "done": true, "like": true, "likes": true, "really": true,
	"is": true, "am": true, "be": true, "to": true, "of": true, "in": true, "on": true,
	"at": true, "it": true, "me": true, "my": true, "we": true, "us": true, "do": true,
	"an": true, "as": true, "by": true, "or": true, "if": true, "so": true, "no": true,
	"user": true, "users": true, "tell": true, "said": true, "says": true,
}

// ExtractConcepts returns up to limit distinct concepts from text, in order of
// first appearance. Concepts are lowercase tokens with stopwords removed and
// simple plurals folded.
func ExtractConcepts(text string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range embedding.Tokenize(text) {
		tok = strings.Trim(tok, "-_")
		if len(tok) < 2 || stopwords[tok] || isNumber(tok) {
			continue
		}
		c := singular(tok)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// KeyConcepts splits a dot-hierarchical fact key or profile id into concepts:
// "user.dad" and "hobby.fishing" yield [dad] and [hobby fishing].
func KeyConcepts(key string) []string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '.' || r == '_' || r == '-' })
	return ExtractConcepts(strings.Join(parts, " "), 0)
}

func singular(s string) string {
	if len(s) <= 3 {
		return s
	}
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 4:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "ss"), strings.HasSuffix(s, "us"), strings.HasSuffix(s, "is"):
		return s
	case strings.HasSuffix(s, "s"):
		return s[:len(s)-1]
	}
	return s
}

func isNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
