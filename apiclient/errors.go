package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired is returned when the session could not be refreshed.
	// The session has been cleared by the time a caller sees it.
	ErrSessionExpired = errors.New("session expired")

	// ErrNetwork wraps transport failures. The server may or may not have
	// seen the request.
	ErrNetwork = errors.New("network error")
)

// HTTPError is a non-2xx response the client did not recover from
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
}

func newHTTPError(status int, body []byte) *HTTPError {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	return &HTTPError{Status: status, Message: payload.Message, Body: body}
}

// IsStatus reports whether err is an HTTPError with the given status
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}
