package api

import (
	"encoding/json"
	"net/http"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/failure"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrCodeUnauthenticated is used when a request carries no valid token.
// Every other code is a failure.Code.
const ErrCodeUnauthenticated = "UNAUTHENTICATED"

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeFailure renders err as its failure. Causes of INTERNAL failures
// are logged and replaced by a generic message.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := failure.As(err)
	if f.Code == failure.CodeInternal {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r),
			"error", err,
		)
	}
	writeError(w, f.HTTPStatus, string(f.Code), f.Message)
}

// writeBadRequest writes a 400 VALIDATION response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, string(failure.CodeValidation), message)
}

// writeUnauthenticated writes a 401 response.
func writeUnauthenticated(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthenticated, message)
}

// writeInternalError writes a 500 response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, string(failure.CodeInternal), message)
}

// decodeJSON decodes the request body into v, writing a 400 and returning
// false when it is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
