package server

import (
	"net/http"
	"strconv"
	"strings"

	"url-time/internal/scheduler"
	"url-time/internal/version"
	"url-time/internal/visit"
)

const defaultHistoryPage = 50

// StatusPayload is returned by GET /api/status.
type StatusPayload struct {
	scheduler.RunState
	Observers int            `json:"observers"`
	WSPort    int            `json:"ws_port,omitempty"`
	Counts    map[string]int `json:"counts"`
	Version   version.Info   `json:"version"`
}

// HistoryPayload is returned by GET /api/history.
type HistoryPayload struct {
	Outcomes []visit.Outcome      `json:"outcomes"`
	Runs     []scheduler.RunInfo `json:"runs"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.settings.Raw()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusPayload{
		RunState:  s.controller.Status(),
		Observers: s.push.Observers(),
		WSPort:    int(s.wsPort.Load()),
		Counts:    s.counters.Snapshot(),
		Version:   version.Current(),
	})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.counters.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryPage
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > s.historyLimit {
		limit = s.historyLimit
	}

	payload := HistoryPayload{Outcomes: []visit.Outcome{}, Runs: []scheduler.RunInfo{}}
	if s.history == nil {
		writeJSON(w, http.StatusOK, payload)
		return
	}
	outcomes, err := s.history.RecentOutcomes(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runs, err := s.history.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload.Outcomes = outcomes
	payload.Runs = runs
	writeJSON(w, http.StatusOK, payload)
}
