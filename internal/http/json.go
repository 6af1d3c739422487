package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/scalehouse/auth-service/internal/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteAppError maps an application error to an HTTP error response.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeValidation, apperrors.ErrCodeInvalidState:
		status = http.StatusBadRequest
	case apperrors.ErrCodeConflict, apperrors.ErrCodeRotationConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeAuthorizationDenied:
		status = http.StatusForbidden
	case apperrors.ErrCodeTokenExchange, apperrors.ErrCodeRefreshFailed:
		status = http.StatusBadGateway
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: string(code), Err: err})
}
