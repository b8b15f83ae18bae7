package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lazypower/hippocampus/internal/config"
)

// Probe picks the embedding backend named by cfg.Provider. "auto" tries
// Ollama and falls back to TF-IDF over corpus. "none" returns nil.
func Probe(ctx context.Context, cfg config.EmbeddingConfig, corpus []string, log zerolog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "none":
		log.Info().Msg("embeddings disabled, scoring is keyword-only")
		return nil, nil
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, cfg.Dimensions), nil
	case "tfidf":
		return tfidf(corpus, cfg.TFIDFTerms, log), nil
	case "auto", "":
		if o := NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, cfg.Dimensions); o.probe(ctx) {
			log.Info().Str("model", cfg.Model).Int("dims", o.Dimensions()).Msg("using ollama embeddings")
			return o, nil
		}
		log.Info().Int("docs", len(corpus)).Msg("ollama unreachable, using tf-idf embeddings")
		return tfidf(corpus, cfg.TFIDFTerms, log), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// tfidf returns nil when corpus yields no vocabulary, since every vector
// would be zero and cosine similarity meaningless.
func tfidf(corpus []string, maxTerms int, log zerolog.Logger) Embedder {
	e := NewTFIDFEmbedder(corpus, maxTerms)
	if e.Terms() == 0 {
		log.Warn().Int("docs", len(corpus)).Msg("tf-idf corpus has no terms, scoring is keyword-only")
		return nil
	}
	return e
}
