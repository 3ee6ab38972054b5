package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// MaxErrorBody is how much of an error response body is kept.
const MaxErrorBody = 300

// HTTPError is a non-2xx reply from the marketplace.
type HTTPError struct {
	Op         string // "search" or "fetch"
	StatusCode int
	Body       string // truncated response body
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream: %s returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// TransportError is a network-level failure: DNS, connection reset,
// timeout or an undecodable body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind classifies err for the "error" field of an API response:
// "http_error:<status>", "transport_error" or "" for anything else.
func Kind(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http_error:%d", httpErr.StatusCode)
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return "transport_error"
	}
	return ""
}

// Details returns the human-readable part of an upstream error.
func Details(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Body
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr.Err.Error()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// truncate limits a string to maxLen bytes, dropping control characters.
func truncate(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	if len(cleaned) > maxLen {
		return cleaned[:maxLen] + "..."
	}
	return cleaned
}
