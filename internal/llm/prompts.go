package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SummaryPrompt asks for a short synthesis of one thread's top facts.
func SummaryPrompt(thread string, facts []string) string {
	return fmt.Sprintf(`You maintain a compact memory summary for the %q knowledge domain of a personal assistant.

FACTS (most important first):
%s

Write a 2-4 sentence summary that a relevance scorer can match queries against.
Rules:
- Mention every named person, preference, or value that appears above
- No speculation beyond the facts
- Plain prose, no lists, no preamble
- Maximum 80 words`, thread, bulletList(facts))
}

// ClassifyPrompt asks which knowledge domain an observation belongs to.
func ClassifyPrompt(text string, domains []string) string {
	return fmt.Sprintf(`Classify this statement about a user into exactly one knowledge domain.

STATEMENT: %s

DOMAINS:
- identity: the assistant's own name, persona, or purpose
- preferences: likes, dislikes, tools, habits, choices
- values: beliefs, principles, priorities
- relationships: family, friends, colleagues and facts about them
- events: things that happened or are scheduled

Answer with one word from: %s`, text, strings.Join(domains, ", "))
}

// ParseClassification extracts a domain name from a classification answer.
// ok is false when the answer names none of the allowed domains.
func ParseClassification(content string, domains []string) (string, bool) {
	content = strings.ToLower(strings.TrimSpace(content))
	content = strings.Trim(content, "`\"'. \n")
	for _, d := range domains {
		if content == d {
			return d, true
		}
	}
	// Tolerate a sentence around the answer; take the earliest mention.
	best, bestIdx := "", -1
	for _, d := range domains {
		if i := strings.Index(content, d); i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = d, i
		}
	}
	return best, bestIdx >= 0
}

// Tiers is the three-verbosity rendering of a single fact.
type Tiers struct {
	Brief    string `json:"brief"`
	Standard string `json:"standard"`
	Full     string `json:"full"`
}

// CompressPrompt asks for brief/standard/full renderings of an observation.
func CompressPrompt(text string) string {
	return fmt.Sprintf(`Rewrite this observation about a user as one fact at three verbosity levels.

OBSERVATION: %s

Rules:
- brief: 2-6 words, no subject ("dark mode", "dad: fishing")
- standard: one short sentence
- full: the complete statement with any qualifiers from the observation
- Return ONLY a JSON object, no other text

{"brief": "...", "standard": "...", "full": "..."}`, text)
}

// ParseTiers extracts a Tiers object from an LLM response. The response
// might contain markdown code fences or other wrapper text.
func ParseTiers(content string) (Tiers, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Tiers{}, fmt.Errorf("no JSON object found in response")
	}

	var t Tiers
	if err := json.Unmarshal([]byte(content[start:end+1]), &t); err != nil {
		return Tiers{}, fmt.Errorf("unmarshal tiers: %w", err)
	}
	t.Brief = strings.TrimSpace(t.Brief)
	t.Standard = strings.TrimSpace(t.Standard)
	t.Full = strings.TrimSpace(t.Full)
	if t.Brief == "" && t.Standard == "" && t.Full == "" {
		return Tiers{}, fmt.Errorf("empty tiers")
	}
	return t, nil
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
