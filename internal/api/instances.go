package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"taskpulse/pkg/instance"
	"taskpulse/pkg/template"
)

// storeStatus maps store and registry errors onto HTTP status codes.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, instance.ErrNotFound), errors.Is(err, template.ErrNotFound):
		return 404
	case errors.Is(err, instance.ErrValidation), errors.Is(err, template.ErrValidation),
		errors.Is(err, instance.ErrDuplicateID):
		return 400
	default:
		return 500
	}
}

func (s *Server) handleInstanceList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := instance.Filter{
		UserID:  q.Get("user_id"),
		TaskID:  q.Get("task_id"),
		OrderBy: q.Get("order_by"),
		Limit:   queryInt(r, "limit", 50),
	}
	if status := q.Get("status"); status != "" {
		f.Statuses = []instance.Status{instance.Status(status)}
	}
	if v := q.Get("completed"); v != "" {
		completed := v == "true"
		f.IsCompleted = &completed
	}
	deleted := q.Get("deleted") == "true"
	f.IsDeleted = &deleted
	f.Descending = q.Get("order") == "desc"
	if from := q.Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, 400, "invalid from: "+err.Error())
			return
		}
		f.From = &ts
	}
	if to := q.Get("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, 400, "invalid to: "+err.Error())
			return
		}
		f.To = &ts
	}
	f.TimeField = q.Get("time_field")

	list, err := s.store.List(r.Context(), f)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, list)
}

func (s *Server) handleInstanceGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in, err := s.store.Get(r.Context(), id, r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

func (s *Server) handleInstanceCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		TemplateID string `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.TemplateID == "" {
		writeError(w, 400, "template_id is required")
		return
	}
	in, err := s.manager.Create(r.Context(), req.UserID, req.TemplateID)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 201, in)
}

func (s *Server) handleInstanceUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := coerceUpdates(updates); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	in, err := s.store.Update(r.Context(), id, r.URL.Query().Get("user_id"), updates)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

// coerceUpdates rewrites decoded JSON values into the types the store
// contract expects: nested objects become attribute bags and RFC3339
// strings become timestamps (null clears a stamp).
func coerceUpdates(updates map[string]any) error {
	for k, v := range updates {
		switch k {
		case "predicted", "actual":
			m, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("%s must be an object", k)
			}
			updates[k] = instance.Bag(m)
		case "initialized_at", "started_at", "completed_at", "cancelled_at":
			if v == nil {
				continue
			}
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("%s must be an RFC3339 string or null", k)
			}
			ts, err := time.Parse(time.RFC3339, str)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", k, err)
			}
			updates[k] = ts
		}
	}
	return nil
}

func (s *Server) handleInstanceDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.manager.Delete(r.Context(), id)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, map[string]bool{"deleted": ok})
}

func (s *Server) handleInstanceInitialize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		UserID    string       `json:"user_id"`
		Predicted instance.Bag `json:"predicted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	in, err := s.manager.Initialize(r.Context(), id, req.UserID, req.Predicted)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

func (s *Server) handleInstanceStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	in, err := s.manager.Start(r.Context(), id, req.UserID)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

func (s *Server) handleInstancePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		UserID        string  `json:"user_id"`
		Reason        string  `json:"reason"`
		CompletionPct float64 `json:"completion_pct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	in, err := s.manager.Pause(r.Context(), id, req.UserID, req.Reason, req.CompletionPct)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

func (s *Server) handleInstanceComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		UserID string       `json:"user_id"`
		Actual instance.Bag `json:"actual"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	in, err := s.manager.Complete(r.Context(), id, req.UserID, req.Actual)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

func (s *Server) handleInstanceCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		UserID  string       `json:"user_id"`
		Reason  string       `json:"reason"`
		Context instance.Bag `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	in, err := s.manager.Cancel(r.Context(), id, req.UserID, req.Reason, req.Context)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, in)
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	list, err := s.templates.List(r.Context())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, list)
}
