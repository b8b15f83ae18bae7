package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lazypower/hippocampus/internal/config"
	"github.com/lazypower/hippocampus/internal/embedding"
	"github.com/lazypower/hippocampus/internal/engine"
	"github.com/lazypower/hippocampus/internal/llm"
	"github.com/lazypower/hippocampus/internal/logging"
	"github.com/lazypower/hippocampus/internal/server"
	"github.com/lazypower/hippocampus/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and its HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.LLM.AnthropicKey == "" {
		cfg.LLM.AnthropicKey = key
		if cfg.LLM.Provider == "none" {
			cfg.LLM.Provider = "anthropic"
		}
	}
	log := logging.New(cfg.Logging)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Warn().Err(err).Msg("LLM not configured, using deterministic classification and compression")
		llmClient = nil
	} else if llmClient != nil {
		log.Info().Str("provider", cfg.LLM.Provider).Msg("llm enabled")
	}

	emb, err := probeEmbedder(cmd.Context(), cfg, db, log)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, db, llmClient, emb, log)
	if err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = eng.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server.New(eng, VersionString(), logging.Component(log, "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("db", db.Path).Msg("hippocampus serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		eng.Stop(context.Background())
		return fmt.Errorf("server: %w", err)
	}
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(httpServer.Shutdown(ctx), eng.Stop(ctx))
}

func openDB(cfg config.Config) (*store.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// probeEmbedder picks the embedding backend. The TF-IDF fallback is fit on
// the current fact texts.
func probeEmbedder(ctx context.Context, cfg config.Config, db *store.DB, log zerolog.Logger) (embedding.Embedder, error) {
	facts, err := db.ListFacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	corpus := make([]string, 0, len(facts))
	for _, f := range facts {
		corpus = append(corpus, f.Brief+" "+f.Standard+" "+f.Full)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	emb, err := embedding.Probe(probeCtx, cfg.Embedding, corpus, logging.Component(log, "embedding"))
	if err != nil {
		return nil, err
	}
	return emb, nil
}
