package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lazypower/hippocampus/internal/consolidate"
	"github.com/lazypower/hippocampus/internal/store"
)

// Metadata keys read by RecordObservation.
const (
	MetaConfidence = "confidence"
	MetaTargetKey  = "target_key"
)

const defaultSource = "api"

// RecordObservation stores text as a pending observation and returns its id.
// A "confidence" metadata value in [0,1] overrides the heuristic estimate;
// "target_key" pins the fact key promotion will write.
func (e *Engine) RecordObservation(ctx context.Context, text, source, sessionID string, metadata map[string]any) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty text", ErrMalformedObservation)
	}
	if consolidate.Malformed(text) {
		return 0, fmt.Errorf("%w: no content words", ErrMalformedObservation)
	}
	if source == "" {
		source = defaultSource
	}

	o := &store.Observation{
		Text:      text,
		Source:    source,
		SessionID: sessionID,
		Metadata:  metadata,
	}
	if v, ok := metadata[MetaConfidence]; ok {
		c, err := parseConfidence(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedObservation, err)
		}
		o.Confidence = c
	} else {
		o.Confidence = consolidate.HeuristicConfidence(text)
	}
	if v, ok := metadata[MetaTargetKey].(string); ok {
		o.TargetKey = strings.TrimSpace(v)
	}

	if err := e.db.Write(ctx, func(tx *store.Tx) error {
		return tx.AddObservation(ctx, o)
	}); err != nil {
		return 0, fmt.Errorf("record observation: %w", err)
	}
	e.log.Debug().Int64("id", o.ID).Str("source", source).Float64("confidence", o.Confidence).Msg("observation recorded")
	return o.ID, nil
}

func parseConfidence(v any) (float64, error) {
	var c float64
	switch t := v.(type) {
	case float64:
		c = t
	case float32:
		c = float64(t)
	case int:
		c = float64(t)
	case int64:
		c = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("confidence %q: %w", t, err)
		}
		c = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("confidence %q: %w", t, err)
		}
		c = f
	default:
		return 0, fmt.Errorf("confidence has type %T", v)
	}
	if c < 0 || c > 1 {
		return 0, fmt.Errorf("confidence %v outside [0,1]", c)
	}
	return c, nil
}

// ApproveObservation moves a pending or pending_review observation to
// approved; the next promotion run turns it into a fact.
func (e *Engine) ApproveObservation(ctx context.Context, id int64) error {
	return e.transition(ctx, id, store.StatusApproved, "approved manually")
}

// RejectObservation terminally rejects an observation.
func (e *Engine) RejectObservation(ctx context.Context, id int64, reason string) error {
	if reason == "" {
		reason = "rejected manually"
	}
	return e.transition(ctx, id, store.StatusRejected, reason)
}

func (e *Engine) transition(ctx context.Context, id int64, to store.Status, reason string) error {
	err := e.db.Write(ctx, func(tx *store.Tx) error {
		return tx.TransitionObservation(ctx, id, to, reason)
	})
	if err != nil {
		return fmt.Errorf("observation %d to %s: %w", id, to, err)
	}
	e.log.Info().Int64("id", id).Str("status", string(to)).Str("reason", reason).Msg("observation triaged")
	return nil
}

// PromoteObservation approves the observation if it is still pending and
// promotes it into a fact immediately.
func (e *Engine) PromoteObservation(ctx context.Context, id int64) (*store.Fact, error) {
	o, err := e.db.GetObservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("observation %d: %w", id, err)
	}
	if o.Status == store.StatusPending || o.Status == store.StatusPendingReview {
		if err := e.ApproveObservation(ctx, id); err != nil {
			return nil, err
		}
	}
	f, err := e.consolidator.PromoteOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListObservations returns observations in the given statuses, oldest
// first. No statuses means the two awaiting triage.
func (e *Engine) ListObservations(ctx context.Context, limit int, statuses ...store.Status) ([]store.Observation, error) {
	if len(statuses) == 0 {
		statuses = []store.Status{store.StatusPending, store.StatusPendingReview}
	}
	return e.db.ListObservations(ctx, limit, statuses...)
}

// GetObservation returns one observation or store.ErrNotFound.
func (e *Engine) GetObservation(ctx context.Context, id int64) (*store.Observation, error) {
	return e.db.GetObservation(ctx, id)
}

// CountObservations returns observation counts per status.
func (e *Engine) CountObservations(ctx context.Context) (map[store.Status]int, error) {
	return e.db.CountObservations(ctx)
}

// IsClientError reports whether err was caused by the caller's input rather
// than by the engine.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedObservation) ||
		errors.Is(err, store.ErrInvalidTransition) ||
		errors.Is(err, store.ErrProtected)
}
