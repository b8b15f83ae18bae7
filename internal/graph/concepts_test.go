package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractConcepts(t *testing.T) {
	cases := []struct {
		text  string
		limit int
		want  []string
	}{
		{"what do you know about my dad", 0, []string{"dad"}},
		{"User prefers dark mode", 0, []string{"prefer", "dark", "mode"}},
		{"My dad loves fishing trips, fishing!", 0, []string{"dad", "love", "fishing", "trip"}},
		{"Stories about cities", 0, []string{"story", "city"}},
		{"one two three four five six", 2, []string{"two", "three"}},
		{"in 2024 it was", 0, nil},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExtractConcepts(c.text, c.limit), c.text)
	}
}

func TestKeyConcepts(t *testing.T) {
	assert.Equal(t, []string{"dad"}, KeyConcepts("user.dad"))
	assert.Equal(t, []string{"hobby", "fishing"}, KeyConcepts("hobby.fishing"))
	assert.Equal(t, []string{"ui", "theme"}, KeyConcepts("ui.theme"))
}
