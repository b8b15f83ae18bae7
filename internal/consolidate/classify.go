package consolidate

import (
	"strings"
	"unicode"

	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/graph"
	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// Content size limits (1 token ≈ 4 chars).
const (
	maxStandardChars = 120
	maxFullChars     = 2000
	maxBriefConcepts = 6
	maxSlugConcepts  = 4
)

// Bracket is the compression applied to a promoted observation.
type Bracket struct {
	Standard bool
	Full     bool
	Weight   float64
}

// BracketFor maps a consolidation score to the tiers kept and the fact
// weight. ok is false below 0.3: the observation is discarded.
func BracketFor(score float64) (b Bracket, ok bool) {
	switch {
	case score >= 0.8:
		return Bracket{Standard: true, Full: true, Weight: 0.9}, true
	case score >= 0.5:
		return Bracket{Standard: true, Weight: 0.6}, true
	case score >= 0.3:
		return Bracket{Weight: 0.3}, true
	default:
		return Bracket{}, false
	}
}

// Apply drops the tiers the bracket does not keep.
func (b Bracket) Apply(t llm.Tiers) llm.Tiers {
	if !b.Standard {
		t.Standard = ""
	}
	if !b.Full {
		t.Full = ""
	}
	return t
}

// identityCues mark statements about the assistant itself.
var identityCues = []string{
	"you are", "you're", "your name", "call you", "yourself", "as an assistant",
	"your persona", "your purpose", "your role",
}

// Classify picks the destination domain by keyword cues. Ties resolve in
// favour of the more specific domain: identity, relationships, values,
// events, then preferences as the catch-all.
func Classify(text string) string {
	ws := words(text)
	padded := " " + strings.Join(ws, " ") + " "
	for _, cue := range identityCues {
		if strings.Contains(padded, " "+strings.ReplaceAll(cue, "'", "")+" ") {
			return thread.Identity
		}
	}
	if relationOf(text) != "" {
		return thread.Relationships
	}

	set := make(map[string]bool, 2*len(ws))
	for _, w := range ws {
		set[w] = true
		set[strings.TrimSuffix(w, "s")] = true
	}
	best, bestHits := thread.Preferences, 0
	for _, d := range []string{thread.Values, thread.Events, thread.Preferences} {
		hits := 0
		for _, kw := range thread.Keywords[d] {
			if set[kw] || (strings.Contains(kw, " ") && strings.Contains(padded, " "+kw+" ")) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = d, hits
		}
	}
	return best
}

// relationOf returns the first relationship noun in text.
func relationOf(text string) string {
	rel := make(map[string]bool, len(thread.RelationWords))
	for _, w := range thread.RelationWords {
		rel[w] = true
	}
	for _, tok := range embedding.Tokenize(text) {
		if rel[tok] {
			return tok
		}
		if s := strings.TrimSuffix(tok, "s"); rel[s] {
			return s
		}
	}
	return ""
}

// ProfileFor derives the owning entity: the assistant is "self", named
// relations are "user.<relation>", everything else is "user".
func ProfileFor(domain, text string) string {
	switch domain {
	case thread.Identity:
		return "self"
	case thread.Relationships:
		if r := relationOf(text); r != "" {
			return "user." + r
		}
	}
	return "user"
}

var topics = map[string]string{
	thread.Identity:      "persona",
	thread.Preferences:   "likes",
	thread.Values:        "beliefs",
	thread.Relationships: "about",
	thread.Events:        "log",
}

// cueWords are classification verbs that carry no content for a key.
var cueWords = map[string]bool{
	"prefer": true, "like": true, "love": true, "hate": true, "dislike": true,
	"enjoy": true, "want": true, "believe": true, "value": true, "think": true,
	"care": true, "favorite": true, "favourite": true, "call": true, "name": true,
	"always": true, "never": true, "usually": true, "really": true,
}

// KeyFor returns the fact key: the observation's target key when it has one,
// otherwise "<topic>.<slug>" built from its leading content concepts.
func KeyFor(domain, profile, text, targetKey string) string {
	if k := sanitizeKey(targetKey); k != "" {
		return k
	}
	relation := strings.TrimPrefix(profile, "user.")

	var parts []string
	for _, c := range graph.ExtractConcepts(text, 0) {
		if cueWords[c] || c == relation {
			continue
		}
		parts = append(parts, c)
		if len(parts) == maxSlugConcepts {
			break
		}
	}
	slug := sanitizeSlug(strings.Join(parts, "_"))
	if slug == "" {
		slug = "note"
	}
	return topics[domain] + "." + slug
}

// sanitizeSlug normalizes a key segment to lowercase letters, digits and
// underscores. Separators collapse to a single underscore; other characters
// are dropped.
func sanitizeSlug(s string) string {
	var b strings.Builder
	prevSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSep = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if !prevSep && b.Len() > 0 {
				b.WriteByte('_')
				prevSep = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// sanitizeKey sanitizes each dot-separated segment of a caller-supplied key.
func sanitizeKey(key string) string {
	var segs []string
	for _, seg := range strings.Split(key, ".") {
		if s := sanitizeSlug(seg); s != "" {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, ".")
}

// DeterministicTiers renders an observation without a model: full is the
// statement, standard its first sentence, brief its leading concepts.
func DeterministicTiers(text string) llm.Tiers {
	full := truncateClean(strings.Join(strings.Fields(text), " "), maxFullChars)

	standard := full
	if i := strings.IndexAny(standard, ".!?"); i > 0 {
		standard = standard[:i+1]
	}
	standard = truncateClean(standard, maxStandardChars)

	brief := strings.Join(graph.ExtractConcepts(text, maxBriefConcepts), " ")
	if brief == "" {
		brief = truncateClean(full, 40)
	}
	return llm.Tiers{Brief: brief, Standard: standard, Full: full}
}

// truncateClean truncates s to maxLen, cutting at the last word boundary
// to avoid mid-word breaks.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncated := store.Clip(s, maxLen)
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}

var (
	assertiveCues = []string{"i prefer", "i like", "i love", "i hate", "i am", "im", "i believe",
		"i value", "call me", "my", "i always", "i never", "user prefers", "user likes", "user is"}
	emphasisCues = []string{"always", "never", "favorite", "favourite", "hate", "love", "really"}
	hedgeCues    = []string{"maybe", "might", "perhaps", "probably", "not sure", "i guess", "i think", "sometimes"}
)

// HeuristicConfidence estimates confidence for an observation recorded
// without one: assertive first-person statements score high, hedged or
// interrogative ones low.
func HeuristicConfidence(text string) float64 {
	lower := " " + strings.Join(words(text), " ") + " "
	c := 0.5
	if containsAny(lower, assertiveCues) {
		c += 0.2
	}
	if containsAny(lower, emphasisCues) {
		c += 0.1
	}
	if containsAny(lower, hedgeCues) {
		c -= 0.2
	}
	if strings.Contains(text, "?") {
		c -= 0.2
	}
	return clamp01(c)
}

// words lowercases text and splits it on anything but letters and digits,
// dropping apostrophes so "I'm" reads as "im". Unlike embedding.Tokenize it
// keeps one-letter words such as "i".
func words(text string) []string {
	text = strings.ToLower(strings.NewReplacer("'", "", "’", "").Replace(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAny(padded string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(padded, " "+cue+" ") {
			return true
		}
	}
	return false
}

// Malformed reports whether an observation has no usable content.
func Malformed(text string) bool {
	return len(embedding.Tokenize(text)) == 0
}

// effectiveConfidence is the recorded confidence, or the heuristic when the
// observation was recorded without one.
func effectiveConfidence(o store.Observation) float64 {
	if o.Confidence > 0 {
		return o.Confidence
	}
	return HeuristicConfidence(o.Text)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
