package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"agentdesk/internal/apperr"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.ValidationError, apperr.InsufficientFunds:
		return http.StatusBadRequest
	case apperr.ServiceUnavailable:
		return http.StatusUnprocessableEntity
	case apperr.IllegalTransition, apperr.AlreadyReversed, apperr.StorageConflict:
		return http.StatusConflict
	case apperr.NotFound, apperr.NoPendingChange:
		return http.StatusNotFound
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError maps err to its HTTP status. Internal errors are logged
// and their detail is not sent to the client.
func (h *Handler) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, status, kind.Code(), "internal error")
		return
	}
	h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", kind.Code(), "error", err)
	respondError(w, status, kind.Code(), apperr.Message(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest)
	if err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, apperr.ValidationError.Code(), "invalid payload")
		return false
	}
	return true
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// pagination reads limit and page (1-based) query parameters.
func pagination(r *http.Request) (limit, offset int) {
	query := r.URL.Query()
	limit = parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	return limit, (page - 1) * limit
}
