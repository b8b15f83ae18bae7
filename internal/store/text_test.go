package store

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNearIdentical(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"User prefers dark mode", "user prefers dark mode", true},
		{"User prefers dark mode", "  User prefers dark mode  ", true},
		{"User prefers dark mode", "User prefers light mode", false},
		{"", "x", false},
		{"a", "a", true},
	}
	for _, c := range cases {
		if got := NearIdentical(c.a, c.b); got != c.want {
			t.Errorf("NearIdentical(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestClip(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"café", 4, "caf"},
		{"café", 5, "café"},
		{"我喜欢", 4, "我"},
		{"я", 0, ""},
	}
	for _, c := range cases {
		if got := Clip(c.in, c.n); got != c.want {
			t.Errorf("Clip(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}

func TestAddObservationClipsOnRuneBoundary(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	o := &Observation{Text: "a" + strings.Repeat("я", maxObservationText), Source: "test"}
	if err := db.Write(ctx, func(tx *Tx) error { return tx.AddObservation(ctx, o) }); err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	got, err := db.GetObservation(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if !utf8.ValidString(got.Text) {
		t.Error("stored text is not valid UTF-8")
	}
	if len(got.Text) > maxObservationText {
		t.Errorf("stored %d bytes, limit %d", len(got.Text), maxObservationText)
	}
}
