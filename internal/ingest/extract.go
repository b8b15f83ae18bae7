package ingest

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/lazypower/hippocampus/internal/consolidate"
	"github.com/lazypower/hippocampus/internal/thread"
)

const (
	minStatementWords = 3
	maxStatementChars = 300
)

// Statement is a candidate observation extracted from a user turn.
type Statement struct {
	Text       string
	Confidence float64
}

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

// selfCues open a first-person declarative about the user.
var selfCues = []string{
	"i prefer", "i like", "i love", "i hate", "i dislike", "i enjoy", "i dont like",
	"i believe", "i value", "i care about", "i always", "i never", "i usually",
	"i am", "im", "i work", "i live", "i have", "i want", "call me",
	"my name is", "my favorite", "my favourite", "remember that",
}

// Extract returns the first-person declarative statements in the user's
// turns, each with a heuristic confidence. Repeats are dropped.
func Extract(turns []Turn) []Statement {
	relations := make(map[string]bool, len(thread.RelationWords))
	for _, w := range thread.RelationWords {
		relations[w] = true
	}

	var out []Statement
	seen := make(map[string]bool)
	for _, t := range turns {
		if t.Role != "user" {
			continue
		}
		for _, s := range sentenceRe.FindAllString(t.Text, -1) {
			s = strings.Join(strings.Fields(s), " ")
			if !declarative(s, relations) {
				continue
			}
			norm := strings.ToLower(strings.TrimRight(s, ".!"))
			if seen[norm] {
				continue
			}
			seen[norm] = true
			out = append(out, Statement{Text: s, Confidence: consolidate.HeuristicConfidence(s)})
		}
	}
	return out
}

func declarative(s string, relations map[string]bool) bool {
	if strings.HasSuffix(s, "?") || len(s) > maxStatementChars {
		return false
	}
	ws := strings.FieldsFunc(strings.ToLower(strings.NewReplacer("'", "", "’", "").Replace(s)),
		func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	if len(ws) < minStatementWords {
		return false
	}
	padded := " " + strings.Join(ws, " ") + " "
	for _, cue := range selfCues {
		if strings.HasPrefix(padded, " "+cue+" ") {
			return true
		}
	}
	// "my dad ...", "my sister's ..."
	if ws[0] == "my" && (relations[ws[1]] || relations[strings.TrimSuffix(ws[1], "s")]) {
		return true
	}
	return false
}
