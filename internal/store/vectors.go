package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// VectorRecord holds an embedding for a fact.
type VectorRecord struct {
	FactID     int64
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// Embeddings are stored as little-endian float64 blobs, 8 bytes per element.
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, 0, len(vec)*8)
	for _, v := range vec {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float64 {
	vec := make([]float64, 0, len(buf)/8)
	for len(buf) >= 8 {
		vec = append(vec, math.Float64frombits(binary.LittleEndian.Uint64(buf)))
		buf = buf[8:]
	}
	return vec
}

// SaveFactVector stores or replaces the embedding for a fact.
func (t *Tx) SaveFactVector(ctx context.Context, factID int64, embedding []float64, model string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fact_vectors (fact_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fact_id) DO UPDATE SET
			embedding  = excluded.embedding,
			model      = excluded.model,
			dimensions = excluded.dimensions,
			created_at = excluded.created_at
	`, factID, encodeEmbedding(embedding), model, len(embedding), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save vector for fact %d: %w", factID, err)
	}
	return nil
}

// GetFactVector returns the embedding for a fact, or nil if none is stored.
func (db *DB) GetFactVector(ctx context.Context, factID int64) (*VectorRecord, error) {
	v := VectorRecord{FactID: factID}
	var blob []byte
	err := db.QueryRowContext(ctx,
		`SELECT embedding, model, dimensions, created_at FROM fact_vectors WHERE fact_id = ?`,
		factID).Scan(&blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get vector for fact %d: %w", factID, err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// FactVectors returns embeddings keyed by fact id. With no ids it returns
// every stored vector.
func (db *DB) FactVectors(ctx context.Context, ids ...int64) (map[int64][]float64, error) {
	query := `SELECT fact_id, embedding FROM fact_vectors`
	args := make([]any, 0, len(ids))
	if len(ids) > 0 {
		for _, id := range ids {
			args = append(args, id)
		}
		query += ` WHERE fact_id IN (?` + strings.Repeat(`,?`, len(ids)-1) + `)`
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fact vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]float64, len(ids))
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		out[id] = decodeEmbedding(blob)
	}
	return out, rows.Err()
}

// DeleteFactVector removes the stored embedding for a fact, if any.
func (t *Tx) DeleteFactVector(ctx context.Context, factID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM fact_vectors WHERE fact_id = ?`, factID); err != nil {
		return fmt.Errorf("delete vector for fact %d: %w", factID, err)
	}
	return nil
}
