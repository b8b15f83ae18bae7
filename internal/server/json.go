package server

import "github.com/lazypower/hippocampus/internal/store"

// observationJSON is the wire form of an observation. The stored embedding
// is omitted.
type observationJSON struct {
	ID         int64          `json:"id"`
	Text       string         `json:"text"`
	Source     string         `json:"source"`
	SessionID  string         `json:"session_id"`
	Status     store.Status   `json:"status"`
	Confidence float64        `json:"confidence"`
	Score      *float64       `json:"score,omitempty"`
	TargetKey  string         `json:"target_key,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	FactID     int64          `json:"fact_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

func toObservationJSON(o store.Observation) observationJSON {
	return observationJSON{
		ID:         o.ID,
		Text:       o.Text,
		Source:     o.Source,
		SessionID:  o.SessionID,
		Status:     o.Status,
		Confidence: o.Confidence,
		Score:      o.Score,
		TargetKey:  o.TargetKey,
		Metadata:   o.Metadata,
		FactID:     o.FactID,
		Reason:     o.Reason,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

type factJSON struct {
	ID          int64   `json:"id"`
	Key         string  `json:"key"`
	ProfileID   string  `json:"profile_id"`
	FactKey     string  `json:"fact_key"`
	Domain      string  `json:"domain"`
	Brief       string  `json:"brief,omitempty"`
	Standard    string  `json:"standard,omitempty"`
	Full        string  `json:"full,omitempty"`
	Weight      float64 `json:"weight"`
	Protected   bool    `json:"protected"`
	AccessCount int     `json:"access_count"`
	UpdatedAt   int64   `json:"updated_at"`
}

func toFactJSON(f store.Fact) factJSON {
	return factJSON{
		ID:          f.ID,
		Key:         f.QualifiedKey(),
		ProfileID:   f.ProfileID,
		FactKey:     f.Key,
		Domain:      f.Domain,
		Brief:       f.Brief,
		Standard:    f.Standard,
		Full:        f.Full,
		Weight:      f.Weight,
		Protected:   f.Protected,
		AccessCount: f.AccessCount,
		UpdatedAt:   f.UpdatedAt,
	}
}
