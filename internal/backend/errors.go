package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
)

const (
	genericMessage     = "Something went wrong. Please try again."
	unavailableMessage = "The service is temporarily unavailable. Please try again shortly."
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports a 4xx rejection, which says nothing about the
// health of the backend.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Message: errorText(body, status)}
}

// errorText pulls a human readable reason out of an error body. The backend
// uses {"message": "..."}, {"error": "..."} and {"error": {"message": "..."}}.
func errorText(body []byte, status int) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if len(payload.Error) > 0 {
			var s string
			if json.Unmarshal(payload.Error, &s) == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
				return strings.TrimSpace(nested.Message)
			}
		}
	}
	return http.StatusText(status)
}

// UserMessage is the text to show for a failed user action: the backend's
// own reason when it gave one, a generic message otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Message != http.StatusText(apiErr.StatusCode) {
		return apiErr.Message
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return unavailableMessage
	}
	return genericMessage
}
