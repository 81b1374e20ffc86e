package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/quorum/pkg/apperr"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// StatusFor maps an error's apperr.Kind to an HTTP status code.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindConfigurationGap:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes err with the status from StatusFor. Internal errors
// get a generic message.
func WriteAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Kind:  string(apperr.KindOf(err)),
		Code:  apperr.CodeOf(err),
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}
	WriteJSON(w, status, resp)
}
