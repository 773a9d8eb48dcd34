package trackerapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound matches API errors that definitively mean the tracker does not have the requested torrent.
var ErrNotFound = errors.New("torrent not found")

var notFoundMessages = []string{"bad hash parameter", "bad parameters"}

// APIError is a "failure" response from the tracker API. Message is the tracker's error string verbatim.
type APIError struct {
	Tracker string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Tracker, e.Message)
}

// Is reports whether the error is a definitive not found response.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	for _, m := range notFoundMessages {
		if e.Message == m {
			return true
		}
	}
	return false
}

// AuthenticationError is returned when the tracker rejects the API key. It is never retried.
type AuthenticationError struct {
	Tracker string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s API key rejected: %s", e.Tracker, e.Message)
}

// StatusError is returned when the response code is not 200 OK.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "http status: " + strconv.Itoa(e.Code)
}

func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == 429
}

func isAuthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "credentials") ||
		strings.Contains(msg, "api key") ||
		strings.Contains(msg, "apikey")
}
