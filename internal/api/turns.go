// Package api exposes the turn pipeline over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/router"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRequest is the POST /v1/turns body.
type TurnRequest struct {
	Input     string `json:"input"`
	PatientID string `json:"patient_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TurnResponse is the reply for one processed turn. Intent and triage tier
// sit at the top level so callers do not have to dig through the pipeline
// record; the routing decision is still included for diagnostics.
type TurnResponse struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id,omitempty"`
	Response   string          `json:"response"`
	Intent     string          `json:"intent"`
	PatientID  string          `json:"patient_id,omitempty"`
	TriageTier string          `json:"triage_tier,omitempty"`
	State      string          `json:"state"`
	Decision   router.Decision `json:"decision"`
	Context    map[string]any  `json:"context,omitempty"`
}

func newTurnResponse(t *orchestrator.Turn) TurnResponse {
	return TurnResponse{
		ID:         t.ID,
		SessionID:  t.SessionID,
		Response:   t.Response,
		Intent:     string(t.Decision.Intent),
		PatientID:  t.PatientID,
		TriageTier: t.Risk,
		State:      string(t.State),
		Decision:   t.Decision,
		Context:    t.Context,
	}
}

// NewHandler returns the REST API. When token is non-empty, /v1 routes
// require it as a bearer token; /health stays open for probes.
func NewHandler(o *orchestrator.Orchestrator, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if token != "" {
			r.Use(BearerAuth(token))
		}
		r.Post("/turns", handleTurn(o))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleTurn(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Input == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required and must not be empty")
			return
		}

		turn := o.Process(r.Context(), orchestrator.Input{
			Text:           req.Input,
			KnownPatientID: req.PatientID,
			SessionID:      req.SessionID,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newTurnResponse(turn))
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
