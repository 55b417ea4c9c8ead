package api

import (
	"net/http"
	"strconv"
	"strings"

	"taskpulse/pkg/metrics"
	"taskpulse/pkg/template"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	days := queryInt(r, "days", 30)
	d, err := s.metrics.DashboardMetrics(r.Context(), userID, days)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, d)
}

func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")

	// weights come in as repeated weight.<name>=<value> parameters; absent
	// means the user's stored preference weights
	var weights map[string]float64
	for key, vals := range q {
		name, ok := strings.CutPrefix(key, "weight.")
		if !ok || len(vals) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(vals[0], 64)
		if err != nil {
			writeError(w, 400, "invalid weight "+key+": "+err.Error())
			return
		}
		if weights == nil {
			weights = map[string]float64{}
		}
		weights[name] = v
	}

	res, err := s.metrics.CompositeScore(r.Context(), userID, weights, q.Get("normalize") == "true")
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, res)
}

func (s *Server) handleRelief(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	rep, err := s.metrics.ReliefSummary(r.Context(), userID)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, rep)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = metrics.RankByNetRelief
	}
	topN := queryInt(r, "top_n", 10)
	ranks, err := s.metrics.PerformanceRanking(r.Context(), metric, topN)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, ranks)
}

func (s *Server) handleAversion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	current, err := strconv.ParseFloat(q.Get("current"), 64)
	if err != nil {
		writeError(w, 400, "invalid current: "+err.Error())
		return
	}
	queryFloat := func(key string) float64 {
		v, _ := strconv.ParseFloat(q.Get(key), 64)
		return v
	}
	report, err := s.metrics.AversionCheck(r.Context(), q.Get("user_id"), q.Get("task_id"),
		current, queryFloat("relief_expected"), queryFloat("relief_actual"))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, report)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.metrics.InstanceSnapshots(r.Context(), q.Get("user_id"),
		queryInt(r, "days", 30), q.Get("completed_only") == "true")
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, list)
}

func (s *Server) handleTimeTracking(w http.ResponseWriter, r *http.Request) {
	rep, err := s.metrics.TimeTracking(r.Context(), r.URL.Query().Get("user_id"), queryInt(r, "days", 30))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, rep)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		metric = metrics.RankByNetRelief
	}
	series, err := s.metrics.TrendSeries(r.Context(), q.Get("user_id"), metric, queryInt(r, "days", 30))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, series)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dist, err := s.metrics.AttributeDistribution(r.Context(), q.Get("user_id"), q.Get("key"), queryInt(r, "days", 30))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, dist)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := s.metrics.Recommendations(r.Context(), metrics.RecommendationFilters{
		UserID: q.Get("user_id"),
		Type:   template.Type(q.Get("type")),
		Limit:  queryInt(r, "limit", 5),
	})
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, 200, recs)
}
