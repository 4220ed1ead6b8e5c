package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phonehub/phonehub/pkg/circuitbreaker"
)

// ErrorKind classifies why a generation attempt failed.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindStatus      ErrorKind = "status"
	KindMalformed   ErrorKind = "malformed"
	KindUnavailable ErrorKind = "unavailable"
	KindUnknown     ErrorKind = "unknown"
)

// ErrNoProvider is returned when no configured provider can take the request.
var ErrNoProvider = errors.New("no generation provider available")

// GenerationError is the only error type returned by Manager.Generate.
type GenerationError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (%d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func newGenerationError(provider string, status int, err error) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}
	return &GenerationError{
		Provider: provider,
		Kind:     classify(status, err),
		Status:   status,
		Err:      err,
	}
}

// errMalformed marks responses that arrived but carried no usable text.
var errMalformed = errors.New("response contained no text")

func classify(status int, err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, ErrNoProvider):
		return KindUnavailable
	case errors.Is(err, errMalformed):
		return KindMalformed
	case status == http.StatusServiceUnavailable:
		return KindUnavailable
	case status >= http.StatusBadRequest:
		return KindStatus
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "overloaded"):
		return KindUnavailable
	}
	return KindUnknown
}
