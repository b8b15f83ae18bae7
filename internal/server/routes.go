package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/hippocampus/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.Stats(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleThreadHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.GetThreadHealth(r.Context()))
}

func (s *Server) handleRecordObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text      string         `json:"text"`
		Source    string         `json:"source"`
		SessionID string         `json:"session_id"`
		Metadata  map[string]any `json:"metadata"`
	}
	if !decode(w, r, &req) {
		return
	}
	id, err := s.eng.RecordObservation(r.Context(), req.Text, req.Source, req.SessionID, req.Metadata)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": store.StatusPending})
}

// handleListObservations serves ?status=pending,approved&limit=50. No
// status lists the observations awaiting triage.
func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	var statuses []store.Status
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := store.Status(strings.TrimSpace(part))
			if !validStatus(st) {
				writeError(w, http.StatusBadRequest, "unknown status "+string(st))
				return
			}
			statuses = append(statuses, st)
		}
	}

	obs, err := s.eng.ListObservations(r.Context(), limit, statuses...)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]observationJSON, len(obs))
	for i := range obs {
		out[i] = toObservationJSON(obs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": out, "count": len(out)})
}

func validStatus(st store.Status) bool {
	switch st {
	case store.StatusPending, store.StatusPendingReview, store.StatusApproved,
		store.StatusRejected, store.StatusConsolidated:
		return true
	}
	return false
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := s.eng.GetObservation(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObservationJSON(*o))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.eng.ApproveObservation(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": store.StatusApproved})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := s.eng.RejectObservation(r.Context(), id, req.Reason); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": store.StatusRejected})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := s.eng.PromoteObservation(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if f == nil {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": store.StatusRejected, "discarded": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": store.StatusConsolidated,
		"fact":   toFactJSON(*f),
	})
}

func (s *Server) handleSearchFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.eng.SearchFacts(r.Context(), q, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]map[string]any, len(res))
	for i, sr := range res {
		out[i] = map[string]any{
			"key":      sr.Key,
			"score":    sr.Score,
			"signals":  sr.Signals,
			"fallback": sr.Fallback,
			"fact":     toFactJSON(sr.Fact),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleForgetFact(w http.ResponseWriter, r *http.Request) {
	profile, key := chi.URLParam(r, "profile"), chi.URLParam(r, "key")
	if err := s.eng.ForgetFact(r.Context(), profile, key); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProtectFact(w http.ResponseWriter, r *http.Request) {
	profile, key := chi.URLParam(r, "profile"), chi.URLParam(r, "key")
	req := struct {
		Protected *bool `json:"protected"`
	}{}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	protected := req.Protected == nil || *req.Protected
	if err := s.eng.ProtectFact(r.Context(), profile, key, protected); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile_id": profile, "key": key, "protected": protected})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.eng.JobStatus()})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.eng.RunJob(r.Context(), name); err != nil {
		s.writeErr(w, r, err)
		return
	}
	for _, js := range s.eng.JobStatus() {
		if js.Name == name {
			writeJSON(w, http.StatusOK, js)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		SessionID string `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}
	res, err := s.eng.IngestTranscript(r.Context(), req.Path, req.SessionID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid observation id")
		return 0, false
	}
	return id, true
}
