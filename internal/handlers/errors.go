package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/botforge-cloud/instance-manager/internal/orchestrator"
)

// problem is the error body returned by every failing endpoint.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeProblem(w http.ResponseWriter, errType, title, detail string, status int) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: errType, Title: title, Detail: detail, Status: status})
}

// writeServiceError maps orchestrator error codes to HTTP statuses.
func writeServiceError(w http.ResponseWriter, errType, title string, err error) {
	var svcErr *orchestrator.ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case orchestrator.ErrCodeNotFound:
			writeProblem(w, "not-found", title, svcErr.Message, http.StatusNotFound)
			return
		case orchestrator.ErrCodeValidation:
			writeProblem(w, "validation-error", title, svcErr.Message, http.StatusBadRequest)
			return
		case orchestrator.ErrCodeConflict:
			writeProblem(w, "conflict", title, svcErr.Message, http.StatusConflict)
			return
		case orchestrator.ErrCodeProvider:
			writeProblem(w, errType, title, svcErr.Message, http.StatusBadGateway)
			return
		}
	}
	writeProblem(w, errType, title, err.Error(), http.StatusInternalServerError)
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeProblem(w, "validation-error", "Validation failed", "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(body); err != nil {
		writeProblem(w, "validation-error", "Validation failed", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
