package runs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// GetRunHandler handles GET /runs/{runId}
func GetRunHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runId")
		if runID == "" {
			writeError(w, http.StatusBadRequest, "missing run ID")
			return
		}

		run, err := store.Get(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get run: %v", err))
			return
		}
		if run == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", runID))
			return
		}

		writeJSON(w, http.StatusOK, runToResponse(run))
	}
}

// ListRunsHandler handles GET /runs
// Query params: state, trigger, pageSize, pageToken
func ListRunsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			State:   r.URL.Query().Get("state"),
			Trigger: r.URL.Query().Get("trigger"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to list runs: %v", err))
			return
		}

		runs := make([]runResponse, len(records))
		for i := range records {
			runs[i] = runToResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"runs":          runs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// ListSourcesHandler handles GET /sources
func ListSourcesHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := store.Sources(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sources: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": rows})
	}
}

// TriggerRunHandler handles POST /runs. The harvest runs asynchronously on
// the scheduler.
func TriggerRunHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Trigger() {
			writeError(w, http.StatusConflict, "a harvest is already pending")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// runResponse is the API response for a harvest run.
type runResponse struct {
	ID            string `json:"id"`
	Trigger       string `json:"trigger"`
	State         string `json:"state"`
	StartedAt     string `json:"startedAt"`
	FinishedAt    string `json:"finishedAt,omitempty"`
	Fetched       int    `json:"fetched"`
	Normalized    int    `json:"normalized"`
	Dropped       int    `json:"dropped"`
	Blocked       int    `json:"blocked"`
	Output        int    `json:"output"`
	Archived      int    `json:"archived"`
	RegistrySize  int    `json:"registrySize"`
	FailedSources int    `json:"failedSources"`
	DurationMs    int64  `json:"durationMs,omitempty"`
	Message       string `json:"message,omitempty"`
	LastError     string `json:"lastError,omitempty"`
}

func runToResponse(run *HarvestRun) runResponse {
	resp := runResponse{
		ID:            run.ID,
		Trigger:       run.Trigger,
		State:         string(run.State),
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		Fetched:       run.Fetched,
		Normalized:    run.Normalized,
		Dropped:       run.Dropped,
		Blocked:       run.Blocked,
		Output:        run.Output,
		Archived:      run.Archived,
		RegistrySize:  run.RegistrySize,
		FailedSources: run.FailedSources,
		DurationMs:    run.DurationMs,
		Message:       run.Message,
		LastError:     run.LastError,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
