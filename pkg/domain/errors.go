package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrInvalidInput      = errors.New("invalid input")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTransport         = errors.New("transport error")
	ErrRequestRejected   = errors.New("request rejected")
)

// TransportError wraps connectivity failures. The request never produced
// an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RequestRejected is returned for any non-2xx response that is not handled
// as a soft outcome. Body carries the raw response body when available.
type RequestRejected struct {
	Op         string
	StatusCode int
	ErrorCode  string
	Body       []byte
}

func (e *RequestRejected) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: request rejected (%d)", e.Op, e.StatusCode)
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, " %s", e.ErrorCode)
	}
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		fmt.Fprintf(&b, ": %s", body)
	}
	return b.String()
}

func (e *RequestRejected) Is(target error) bool { return target == ErrRequestRejected }

// InvalidInputf builds an ErrInvalidInput with context.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func InvalidResponsef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
