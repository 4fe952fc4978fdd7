package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMessage is shown when a failure carries nothing a user could read.
const DefaultMessage = "Failed to load data. Please try again."

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int

	// Message is the backend's own explanation, if it sent one.
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend responded %d: %s", e.Status, e.Message)
}

// newAPIError reads the backend's {"message": ...} or {"error": ...} body.
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	e := &APIError{Status: status}
	if json.Unmarshal(body, &payload) == nil {
		e.Message = payload.Message
		if e.Message == "" {
			e.Message = payload.Error
		}
	}
	return e
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

/*
Message turns a failed request into text for an inline error panel.

  - a backend message is shown as is
  - 401/403 without one become a session hint
  - anything else (transport errors, cancelled contexts) falls back to fallback,
    or DefaultMessage when fallback is empty
*/
func Message(err error, fallback string) string {
	if fallback == "" {
		fallback = DefaultMessage
	}
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if msg := strings.TrimSpace(apiErr.Message); msg != "" {
			return msg
		}
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "Your session has ended. Please sign in again."
		case http.StatusNotFound:
			return "The requested data was not found."
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The server took too long to respond. Please try again."
	}
	return fallback
}
