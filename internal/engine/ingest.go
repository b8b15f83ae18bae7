package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lazypower/hippocampus/internal/ingest"
	"github.com/lazypower/hippocampus/internal/store"
)

// IngestResult counts what a transcript produced.
type IngestResult struct {
	Turns      int     `json:"turns"`
	Statements int     `json:"statements"`
	IDs        []int64 `json:"ids"`
}

// IngestTranscript extracts first-person statements from a JSONL transcript
// and records them as pending observations in one transaction. An empty
// sessionID defaults to the file's base name.
func (e *Engine) IngestTranscript(ctx context.Context, path, sessionID string) (*IngestResult, error) {
	turns, err := ingest.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	stmts := ingest.Extract(turns)
	res := &IngestResult{Turns: len(turns), Statements: len(stmts)}
	if len(stmts) == 0 {
		return res, nil
	}

	obs := make([]*store.Observation, len(stmts))
	for i, s := range stmts {
		obs[i] = &store.Observation{
			Text:       s.Text,
			Source:     "transcript",
			SessionID:  sessionID,
			Confidence: s.Confidence,
			Metadata:   map[string]any{"transcript": filepath.Base(path)},
		}
	}
	err = e.db.Write(ctx, func(tx *store.Tx) error {
		for _, o := range obs {
			if err := tx.AddObservation(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", path, err)
	}
	for _, o := range obs {
		res.IDs = append(res.IDs, o.ID)
	}
	e.log.Info().Str("session", sessionID).Int("turns", res.Turns).Int("statements", res.Statements).Msg("transcript ingested")
	return res, nil
}
