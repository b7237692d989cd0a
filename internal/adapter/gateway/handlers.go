package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/usecase"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error      string           `json:"error"`
	Code       domain.ErrorCode `json:"code"`
	Suggestion string           `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error:      err.Error(),
		Code:       domain.ErrorCodeOf(err),
		Suggestion: domain.RecoverySuggestion(err),
	})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoEligibleProvider),
		errors.Is(err, domain.ErrAllProvidersExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrConversationEnded),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrHandoverNotFound),
		errors.Is(err, domain.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLowConfidenceDetection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type submitRequest struct {
	ConversationID  string   `json:"conversation_id"`
	AgentID         string   `json:"agent_id"`
	Platform        string   `json:"platform,omitempty"`
	Text            string   `json:"text"`
	ForcedProvider  string   `json:"forced_provider,omitempty"`
	RequiredCaps    []string `json:"required_capabilities,omitempty"`
	CostCeiling     float64  `json:"cost_ceiling,omitempty"`
	MaxResponseMs   int64    `json:"max_response_ms,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
	Temperature     float64  `json:"temperature,omitempty"`
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ConversationID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "conversation_id and text are required",
			Code:  domain.CodeUnknown,
		})
		return
	}

	caps := make([]domain.Capability, len(req.RequiredCaps))
	for i, c := range req.RequiredCaps {
		caps[i] = domain.Capability(c)
	}

	result, err := s.coordinator.SubmitMessage(r.Context(), usecase.SubmitInput{
		ConversationID:  req.ConversationID,
		AgentID:         req.AgentID,
		Platform:        req.Platform,
		Text:            req.Text,
		ForcedProvider:  req.ForcedProvider,
		RequiredCaps:    caps,
		CostCeiling:     req.CostCeiling,
		MaxResponseTime: time.Duration(req.MaxResponseMs) * time.Millisecond,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type controlRequest struct {
	ConversationID string `json:"conversation_id"`
	ActorID        string `json:"actor_id,omitempty"`
	Action         string `json:"action"` // take, accept, release, pause, resume, close
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch req.Action {
	case "take":
		err = s.coordinator.ReportControlTransfer(r.Context(), req.ConversationID, req.ActorID)
	case "accept":
		err = s.handover.Accept(r.Context(), req.ConversationID, req.ActorID)
	case "release":
		err = s.handover.Release(r.Context(), req.ConversationID, req.ActorID)
	case "pause":
		err = s.handover.Pause(r.Context(), req.ConversationID, req.ActorID)
	case "resume":
		err = s.handover.Resume(r.Context(), req.ConversationID, req.ActorID)
	case "close":
		err = s.handover.Close(r.Context(), req.ConversationID)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "unknown action " + req.Action,
			Code:  domain.CodeUnknown,
		})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status, statusErr := s.handover.Status(req.ConversationID)
	if statusErr != nil {
		// Closed conversations have no status record left.
		writeJSON(w, http.StatusOK, map[string]string{"state": string(domain.StateEnded)})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// candidateHealth is one row of the health report.
type candidateHealth struct {
	Candidate    string              `json:"candidate"`
	Health       domain.HealthStatus `json:"health"`
	SuccessRate  float64             `json:"success_rate"`
	AvgLatencyMs int64               `json:"avg_latency_ms"`
	Quality      float64             `json:"quality"`
	TotalCost    float64             `json:"total_cost"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	var out []candidateHealth
	for _, p := range s.catalog {
		if provider != "" && provider != "all" && p.Candidate.Provider != provider {
			continue
		}
		m := s.metrics.Metrics(p.Candidate)
		out = append(out, candidateHealth{
			Candidate:    p.Candidate.Key(),
			Health:       m.Health,
			SuccessRate:  m.SuccessRate(),
			AvgLatencyMs: m.AvgLatency.Milliseconds(),
			Quality:      m.Quality,
			TotalCost:    m.TotalCost,
		})
	}
	if len(out) == 0 {
		writeError(w, http.StatusNotFound, domain.ErrProviderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// conversationView is the status payload returned to operator tooling.
type conversationView struct {
	Status  domain.AgentStatus      `json:"status"`
	Pending *domain.HandoverRequest `json:"pending_handover,omitempty"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := s.handover.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	view := conversationView{Status: status}
	if req, ok := s.handover.PendingRequest(id); ok {
		view.Pending = &req
	}
	writeJSON(w, http.StatusOK, view)
}
