package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/config"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"Hello World", 2},
		{"User prefers dark mode, always.", 5},
		{"a b c", 0}, // single chars skipped
		{"my dad likes fishing", 4},
		{"", 0},
		{"Мой папа любит рыбалку", 4},
		{"我喜欢深色模式", 1},
		{"café olé", 2},
	}

	for _, tt := range tests {
		tokens := Tokenize(tt.input)
		if len(tokens) != tt.want {
			t.Errorf("Tokenize(%q) = %d tokens %v, want %d", tt.input, len(tokens), tokens, tt.want)
		}
	}
}

func TestTokenizeKeepsNonASCIILetters(t *testing.T) {
	got := Tokenize("Café OLÉ, Мой папа")
	want := []string{"café", "olé", "мой", "папа"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalize(t *testing.T) {
	vec := []float64{3, 4}
	normalize(vec)
	norm := math.Sqrt(vec[0]*vec[0] + vec[1]*vec[1])
	if math.Abs(norm-1) > 1e-10 {
		t.Errorf("normalized magnitude = %f, want 1", norm)
	}

	zero := []float64{0, 0, 0}
	normalize(zero) // should not panic
	for i, v := range zero {
		if v != 0 {
			t.Errorf("zero[%d] = %f, want 0", i, v)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0, 0}, []float64{1, 0, 0}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"mismatched", []float64{1}, []float64{1, 2}, 0},
		{"empty", nil, nil, 0},
	}
	for _, c := range cases {
		if got := CosineSimilarity(c.a, c.b); math.Abs(got-c.want) > 1e-10 {
			t.Errorf("%s: similarity = %f, want %f", c.name, got, c.want)
		}
	}
}

func TestTFIDFEmbedder(t *testing.T) {
	emb := NewTFIDFEmbedder([]string{
		"User prefers dark mode in the editor",
		"User's dad enjoys fishing on weekends",
		"Values honesty over politeness",
	}, 512)

	if emb.Model() != "tfidf" {
		t.Errorf("model = %q, want tfidf", emb.Model())
	}

	ctx := context.Background()
	q, _ := emb.Embed(ctx, "dark mode editor")
	if len(q) != emb.Dimensions() {
		t.Errorf("vec length = %d, want %d", len(q), emb.Dimensions())
	}
	related, _ := emb.Embed(ctx, "User prefers dark mode in the editor")
	unrelated, _ := emb.Embed(ctx, "dad enjoys fishing")

	sim := CosineSimilarity(q, related)
	if sim < 0.5 {
		t.Errorf("related cosine = %f, want > 0.5", sim)
	}
	if other := CosineSimilarity(q, unrelated); other >= sim {
		t.Errorf("unrelated similarity %f should be less than related %f", other, sim)
	}
}

func TestTFIDFEmbedderEmptyCorpus(t *testing.T) {
	emb := NewTFIDFEmbedder(nil, 512)
	if emb.Dimensions() != 1 {
		t.Errorf("dims = %d, want 1", emb.Dimensions())
	}
	vec, err := emb.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 1 {
		t.Errorf("vec length = %d, want 1", len(vec))
	}
}

func ollamaStub(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2, 0.3}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder(t *testing.T) {
	srv := ollamaStub(t, http.StatusOK)
	emb := NewOllamaEmbedder(srv.URL+"/", "nomic-embed-text", 768)

	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vec = %v", vec)
	}
	if emb.Dimensions() != 3 {
		t.Errorf("dims = %d, want 3 after first call", emb.Dimensions())
	}
	if emb.Model() != "ollama:nomic-embed-text" {
		t.Errorf("model = %q", emb.Model())
	}
}

func TestOllamaEmbedderErrorStatus(t *testing.T) {
	srv := ollamaStub(t, http.StatusInternalServerError)
	emb := NewOllamaEmbedder(srv.URL, "m", 0)
	if _, err := emb.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	corpus := []string{"dark mode", "fishing trips"}

	emb, err := Probe(ctx, config.EmbeddingConfig{Provider: "none"}, corpus, log)
	if err != nil || emb != nil {
		t.Errorf("none: %v, %v", emb, err)
	}

	down := ollamaStub(t, http.StatusNotFound)
	emb, err = Probe(ctx, config.EmbeddingConfig{Provider: "auto", OllamaURL: down.URL, Model: "m"}, corpus, log)
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if emb.Model() != "tfidf" {
		t.Errorf("auto with ollama down = %q, want tfidf", emb.Model())
	}

	up := ollamaStub(t, http.StatusOK)
	emb, _ = Probe(ctx, config.EmbeddingConfig{Provider: "auto", OllamaURL: up.URL, Model: "m"}, corpus, log)
	if emb.Model() != "ollama:m" {
		t.Errorf("auto with ollama up = %q", emb.Model())
	}

	if _, err := Probe(ctx, config.EmbeddingConfig{Provider: "magic"}, corpus, log); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestProbeEmptyCorpusIsKeywordOnly(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	down := ollamaStub(t, http.StatusNotFound)

	for _, corpus := range [][]string{nil, {"", "a", "!!"}} {
		emb, err := Probe(ctx, config.EmbeddingConfig{Provider: "tfidf"}, corpus, log)
		if err != nil || emb != nil {
			t.Errorf("tfidf over %q = %v, %v; want nil embedder", corpus, emb, err)
		}
		emb, err = Probe(ctx, config.EmbeddingConfig{Provider: "auto", OllamaURL: down.URL, Model: "m"}, corpus, log)
		if err != nil || emb != nil {
			t.Errorf("auto over %q = %v, %v; want nil embedder", corpus, emb, err)
		}
	}
}

func TestTFIDFWithoutVocabularyYieldsZeroVectors(t *testing.T) {
	e := NewTFIDFEmbedder(nil, 0)
	if e.Terms() != 0 {
		t.Fatalf("Terms = %d", e.Terms())
	}
	vec, err := e.Embed(context.Background(), "User prefers dark mode")
	if err != nil {
		t.Fatal(err)
	}
	if !IsZero(vec) {
		t.Errorf("vec = %v, want all zero", vec)
	}
	if IsZero([]float64{0, 0.1}) {
		t.Error("IsZero reported a non-zero vector")
	}
}
