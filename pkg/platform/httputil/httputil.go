package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	dErrors "faceauth/pkg/domain-errors"
)

// ErrorResponse is the JSON envelope for every non-2xx response.
type ErrorResponse struct {
	Error            string         `json:"error"`
	ErrorDescription string         `json:"error_description,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:             http.StatusBadRequest,
	dErrors.CodeInvalidInput:           http.StatusBadRequest,
	dErrors.CodeValidation:             http.StatusBadRequest,
	dErrors.CodeDecodeError:            http.StatusBadRequest,
	dErrors.CodeQualityGate:            http.StatusBadRequest,
	dErrors.CodeInvalidFaceCount:       http.StatusBadRequest,
	dErrors.CodeInvalidRole:            http.StatusBadRequest,
	dErrors.CodeUnauthorized:           http.StatusUnauthorized,
	dErrors.CodeUnauthenticated:        http.StatusUnauthorized,
	dErrors.CodeInvalidToken:           http.StatusUnauthorized,
	dErrors.CodeForbidden:              http.StatusForbidden,
	dErrors.CodeInsufficientPrivileges: http.StatusForbidden,
	dErrors.CodeNotFound:               http.StatusNotFound,
	dErrors.CodeUnknownIdentity:        http.StatusNotFound,
	dErrors.CodeConflict:               http.StatusConflict,
	dErrors.CodeTooManyAttempts:        http.StatusTooManyRequests,
	dErrors.CodeTimeout:                http.StatusGatewayTimeout,
	dErrors.CodeUnavailable:            http.StatusServiceUnavailable,
	dErrors.CodeInvariantViolation:     http.StatusInternalServerError,
	dErrors.CodeInternal:               http.StatusInternalServerError,
}

// StatusFor maps a domain code to an HTTP status. Unknown codes are 500.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError renders err as a JSON error envelope. Server-side failures never
// expose their message or details.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)

	resp := ErrorResponse{Error: string(code)}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
			resp.Details = de.Details
		}
	}

	if status == http.StatusTooManyRequests {
		if retry, ok := resp.Details["retry_after"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}

	WriteJSON(w, status, resp)
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
