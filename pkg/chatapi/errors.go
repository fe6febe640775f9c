package chatapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const maxErrorBody = 64 << 10

// APIError is a failure reported by the backend, either as a non-2xx HTTP
// response or as an error event inside a stream.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("chat api: HTTP %d", e.StatusCode)
}

// IsSessionExpired reports whether err is the backend's "session not found or
// expired" condition.
func IsSessionExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr == nil {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	if strings.Contains(msg, "session not found") || strings.Contains(msg, "session expired") ||
		strings.Contains(msg, "not found or expired") {
		return true
	}
	if apiErr.StatusCode == http.StatusGone {
		return true
	}
	return apiErr.StatusCode == http.StatusNotFound && strings.Contains(msg, "session")
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Detail != "":
			apiErr.Message = payload.Detail
		case payload.Message != "":
			apiErr.Message = payload.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
