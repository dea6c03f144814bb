package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Error kinds surfaced by Client. Match them with errors.Is.
var (
	// ErrConnectivity reports a transport failure reaching the remote host.
	ErrConnectivity = errors.New("connectivity failure")

	// ErrAuthentication reports that a login did not yield a usable token.
	ErrAuthentication = errors.New("authentication failed")

	// ErrCanceled reports that the request was aborted through its context.
	ErrCanceled = errors.New("request canceled")

	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrBadRequest          = errors.New("bad request")

	// ErrCommunication covers every other non-2xx answer and undecodable bodies.
	ErrCommunication = errors.New("communication failure")
)

// StatusError describes a non-2xx response.
type StatusError struct {
	Method     string
	URI        string
	StatusCode int
	Reason     string
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URI, e.StatusCode, e.Reason)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Kind returns the taxonomy sentinel for the status code.
func (e *StatusError) Kind() error {
	return kindForStatus(e.StatusCode)
}

// Unwrap lets errors.Is match the taxonomy sentinel.
func (e *StatusError) Unwrap() error {
	return e.Kind()
}

func kindForStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessableEntity
	case http.StatusBadRequest:
		return ErrBadRequest
	default:
		return ErrCommunication
	}
}

// reasonPhrase strips the numeric prefix from resp.Status ("404 Not Found").
func reasonPhrase(status string, code int) string {
	prefix := strconv.Itoa(code) + " "
	if reason := strings.TrimPrefix(status, prefix); reason != status && reason != "" {
		return reason
	}
	return http.StatusText(code)
}

// IsCanceled reports whether err stems from a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
