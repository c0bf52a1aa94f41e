package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go-etl-pipeline/internal/config"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/store"
)

// RunAccepted is returned when a run is started.
type RunAccepted struct {
	Message   string          `json:"message"`
	RunID     string          `json:"run_id"`
	RetryOf   string          `json:"retry_of,omitempty"`
	Status    model.RunStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrorsResponse lists the errors of one run.
type ErrorsResponse struct {
	RunID  string           `json:"run_id"`
	Errors []store.RunError `json:"errors"`
	Count  int              `json:"count"`
}

// ErrorResponse is the body of every 4xx and 5xx response.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Problems []config.Problem `json:"problems,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, problems []config.Problem) {
	writeJSON(w, status, ErrorResponse{Error: msg, Problems: problems})
}
