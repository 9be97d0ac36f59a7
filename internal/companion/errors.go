package companion

import (
	"encoding/json"
	"net/http"
)

type ErrorCode string

const (
	ErrInternal            ErrorCode = "INTERNAL_ERROR"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrInvalidState        ErrorCode = "INVALID_STATE"
	ErrMissingCode         ErrorCode = "MISSING_CODE"
	ErrTokenExchangeFailed ErrorCode = "TOKEN_EXCHANGE_FAILED"
	ErrNotConnected        ErrorCode = "NOT_CONNECTED"
	ErrUnknownInstance     ErrorCode = "UNKNOWN_INSTANCE"
)

type ErrorResponse struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
	Code    int       `json:"code,omitempty"`
}

var publicMessages = map[ErrorCode]string{
	ErrInternal:            "An internal error occurred. Please try again later.",
	ErrInvalidRequest:      "The request is invalid or malformed.",
	ErrInvalidState:        "Invalid state parameter. Please start a new sign-in.",
	ErrMissingCode:         "The provider did not return an authorization code.",
	ErrTokenExchangeFailed: "Failed to exchange authorization code for tokens.",
	ErrNotConnected:        "No calendar account is connected.",
	ErrUnknownInstance:     "Unknown keypad instance.",
}

func publicMessage(code ErrorCode) string {
	if msg, ok := publicMessages[code]; ok {
		return msg
	}
	return "An error occurred."
}

// writeError logs the detail and sends the client only the public message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code ErrorCode, status int, logMsg string, args ...any) {
	logArgs := append([]any{
		"error_code", code,
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}, args...)
	if status >= http.StatusInternalServerError {
		s.logger.Error(logMsg, logArgs...)
	} else {
		s.logger.Warn(logMsg, logArgs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: publicMessage(code),
		Code:    status,
	}); err != nil {
		s.logger.Error("failed to encode error response", "error", err)
	}
}
