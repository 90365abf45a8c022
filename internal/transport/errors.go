package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stemsi/exstem-client/internal/model"
)

// Transport-level errors.
var (
	// ErrUnauthorized is returned after a 401; the session has already been ended.
	ErrUnauthorized = errors.New("authentication required")
	// ErrSessionEnded is returned when the session that authenticated a
	// request ended or changed before its response arrived.
	ErrSessionEnded = errors.New("session ended while request was in flight")
)

// APIError is a non-2xx, non-401 response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
	RequestID  string
}

// Is lets a 401 APIError match ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// NetworkError means no usable response was received (connection failure,
// timeout, unreadable body).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Classify maps a transport error to the failure taxonomy shown to users.
func Classify(err error) model.FailureKind {
	var (
		apiErr *APIError
		netErr *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSessionEnded):
		return model.FailureAuth
	case errors.As(err, &netErr):
		return model.FailureNetwork
	case errors.As(err, &apiErr):
		return model.FailureServer
	default:
		return model.FailureNetwork
	}
}

// Detail returns the user-facing text for err.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

// extractDetail pulls the `detail` field out of an error body. FastAPI-style
// backends send either a string or a list of {loc, msg} objects.
func extractDetail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return truncate(string(body), 300)
	}

	if len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
		return string(envelope.Detail)
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if envelope.Error != nil {
		return envelope.Error.Message
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return fmt.Sprintf("status %d", code)
}
