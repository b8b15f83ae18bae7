package consolidate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/thread"
)

func TestBracketFor(t *testing.T) {
	tests := []struct {
		score    float64
		ok       bool
		standard bool
		full     bool
		weight   float64
	}{
		{1.0, true, true, true, 0.9},
		{0.85, true, true, true, 0.9},
		{0.8, true, true, true, 0.9},
		{0.79, true, true, false, 0.6},
		{0.5, true, true, false, 0.6},
		{0.45, true, false, false, 0.3},
		{0.3, true, false, false, 0.3},
		{0.29, false, false, false, 0},
		{0.2, false, false, false, 0},
	}
	for _, tt := range tests {
		b, ok := BracketFor(tt.score)
		assert.Equal(t, tt.ok, ok, "score %.2f", tt.score)
		assert.Equal(t, tt.standard, b.Standard, "score %.2f", tt.score)
		assert.Equal(t, tt.full, b.Full, "score %.2f", tt.score)
		assert.Equal(t, tt.weight, b.Weight, "score %.2f", tt.score)
	}
}

func TestBracketApply(t *testing.T) {
	tiers := llm.Tiers{Brief: "b", Standard: "s", Full: "f"}
	b, _ := BracketFor(0.45)
	assert.Equal(t, llm.Tiers{Brief: "b"}, b.Apply(tiers))
	b, _ = BracketFor(0.6)
	assert.Equal(t, llm.Tiers{Brief: "b", Standard: "s"}, b.Apply(tiers))
	b, _ = BracketFor(0.9)
	assert.Equal(t, tiers, b.Apply(tiers))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"User prefers dark mode", thread.Preferences},
		{"I love using vim for everything", thread.Preferences},
		{"My dad loves fishing in Maine", thread.Relationships},
		{"her sister lives in Oslo", thread.Relationships},
		{"I believe honesty matters most", thread.Values},
		{"Yesterday we had the quarterly planning meeting", thread.Events},
		{"Your name is Juniper", thread.Identity},
		{"You're a patient, careful assistant", thread.Identity},
		{"purple", thread.Preferences},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.text), tt.text)
	}
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, "self", ProfileFor(thread.Identity, "Your name is Juniper"))
	assert.Equal(t, "user.dad", ProfileFor(thread.Relationships, "My dad loves fishing"))
	assert.Equal(t, "user.sister", ProfileFor(thread.Relationships, "both my sisters live abroad"))
	assert.Equal(t, "user", ProfileFor(thread.Relationships, "nobody in particular"))
	assert.Equal(t, "user", ProfileFor(thread.Preferences, "I prefer tea"))
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "likes.dark_mode", KeyFor(thread.Preferences, "user", "User prefers dark mode", ""))
	assert.Equal(t, "about.fishing_maine", KeyFor(thread.Relationships, "user.dad", "My dad loves fishing in Maine", ""))
	assert.Equal(t, "ui.theme", KeyFor(thread.Preferences, "user", "anything", "UI.Theme"))
	assert.Equal(t, "editor.tab_width", KeyFor(thread.Preferences, "user", "x", " editor . tab width "))
	assert.Equal(t, "likes.note", KeyFor(thread.Preferences, "user", "I really love it", ""))
	assert.Equal(t, "likes.тёмная_тема", KeyFor(thread.Preferences, "user", "Тёмная тема", ""))
	assert.NotEqual(t, KeyFor(thread.Preferences, "user", "Тёмная тема", ""),
		KeyFor(thread.Preferences, "user", "Café olé", ""))

	k := KeyFor(thread.Identity, "self", "Your name is Juniper", "")
	assert.True(t, strings.HasPrefix(k, "persona."), k)
	assert.Contains(t, k, "juniper")

	// At most four concepts in the slug.
	k = KeyFor(thread.Events, "user", "alpha bravo charlie delta echo foxtrot", "")
	assert.Equal(t, "log.alpha_bravo_charlie_delta", k)
}

func TestDeterministicTiers(t *testing.T) {
	tiers := DeterministicTiers("I prefer dark mode.   It is easier on my eyes at night.")
	assert.Equal(t, "I prefer dark mode. It is easier on my eyes at night.", tiers.Full)
	assert.Equal(t, "I prefer dark mode.", tiers.Standard)
	assert.Equal(t, "prefer dark mode easier eye night", tiers.Brief)

	long := strings.Repeat("word ", 100)
	tiers = DeterministicTiers(long)
	assert.LessOrEqual(t, len(tiers.Standard), maxStandardChars)
	assert.False(t, strings.HasSuffix(tiers.Standard, " "))
}

func TestHeuristicConfidence(t *testing.T) {
	assertive := HeuristicConfidence("I always prefer tabs over spaces")
	plain := HeuristicConfidence("tabs over spaces")
	hedged := HeuristicConfidence("maybe I like tabs?")

	assert.Greater(t, assertive, plain)
	assert.Greater(t, plain, hedged)
	for _, c := range []float64{assertive, plain, hedged} {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestMalformed(t *testing.T) {
	assert.True(t, Malformed(""))
	assert.True(t, Malformed("  !!? "))
	assert.False(t, Malformed("likes tea"))
	assert.False(t, Malformed("Мой папа любит рыбалку"))
	assert.False(t, Malformed("我喜欢深色模式"))
	assert.False(t, Malformed("café olé"))
}
