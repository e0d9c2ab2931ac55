// Package handlers implements the REST surface: experiment CRUD, per-step
// edits, agent run control, and health probes. Handlers stay thin; domain
// rules live in the experiment and agents packages.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/internal/ctxkeys"
	"github.com/hypatia-sci/hypatia/llm"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo carries a machine-readable code alongside the message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess wraps data in the success envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusOK, data)
}

// WriteCreated wraps data in the success envelope with a 201.
func WriteCreated(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusCreated, data)
}

// WriteAccepted wraps data in the success envelope with a 202.
func WriteAccepted(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusAccepted, data)
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, data any) {
	resp := Response{Success: true, Data: data, Timestamp: time.Now()}
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		resp.RequestID = id
	}
	WriteJSON(w, status, resp)
}

// WriteError answers with the error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	}
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		resp.RequestID = id
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps domain sentinels onto HTTP statuses.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var llmErr *llm.Error

	switch {
	case errors.Is(err, experiment.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, experiment.ErrInvalidInput):
		WriteError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, agents.ErrSuperseded):
		WriteError(w, r, http.StatusConflict, "superseded", err.Error())
	case errors.As(err, &llmErr):
		status := http.StatusBadGateway
		if llmErr.Code == llm.ErrUnauthorized {
			status = http.StatusUnauthorized
		}
		WriteError(w, r, status, string(llmErr.Code), llmErr.Message)
	default:
		if logger != nil {
			logger.Error("unhandled API error", zap.Error(err))
		}
		WriteError(w, r, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// DecodeJSON reads the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
