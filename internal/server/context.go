package server

import (
	"net/http"
	"strconv"

	"github.com/lazypower/hippocampus/internal/assemble"
)

type contextRequest struct {
	Query  string `json:"query"`
	Level  string `json:"level"`
	Budget int    `json:"budget"`
}

// handleGetContext serves /api/context?q=...&level=L2&budget=500.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := contextRequest{Query: q.Get("q"), Level: q.Get("level")}
	if b := q.Get("budget"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, "budget must be an integer")
			return
		}
		req.Budget = n
	}
	s.assemble(w, r, req)
}

func (s *Server) handlePostContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !decode(w, r, &req) {
		return
	}
	s.assemble(w, r, req)
}

func (s *Server) assemble(w http.ResponseWriter, r *http.Request, req contextRequest) {
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	level := assemble.Level(s.eng.Config().Assembly.DefaultLevel)
	if req.Level != "" {
		l, err := assemble.ParseLevel(req.Level)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		level = l
	}
	if req.Budget < 0 {
		writeError(w, http.StatusBadRequest, "budget must not be negative")
		return
	}

	res, err := s.eng.AssembleContext(r.Context(), req.Query, level, req.Budget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
