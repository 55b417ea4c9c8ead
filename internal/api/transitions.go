package api

import "net/http"

func (s *Server) handleTransitionsRecent(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := queryInt(r, "limit", 50)
	entries, err := s.history.Recent(r.Context(), userID, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, entries)
}

func (s *Server) handleInstanceTransitions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.history.ByInstance(r.Context(), id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, entries)
}
