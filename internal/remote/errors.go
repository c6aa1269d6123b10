package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Class buckets a failed remote call for the retry policy.
type Class int

const (
	// ClassPermanent covers validation errors and chain conflicts
	// (HTTP 422/409). Retrying cannot succeed; the entity fails
	// immediately.
	ClassPermanent Class = iota

	// ClassAuth covers 401/403. Retryable once credentials have been
	// refreshed.
	ClassAuth

	// ClassTransient covers 5xx, transport errors, and timeouts.
	// Retryable with backoff.
	ClassTransient
)

// String returns a human-readable name for the class.
func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassAuth:
		return "auth"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// IsConflict reports whether the error is a chain conflict (HTTP 409):
// the server's recorded previous_hash for the project differs from what
// the client submitted.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Classify buckets a failed remote call per the retry policy:
//
//	422/409                -> permanent (validation / chain conflict)
//	401/403                -> auth (retry after credential refresh)
//	5xx, transport, timeout -> transient
//
// Unrecognized 4xx responses are treated as permanent: the request is
// malformed in some way a retry will not fix.
func Classify(err error) Class {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport failure, timeout, or cancellation: the request may
		// or may not have reached the server. client_local_id makes the
		// retry safe either way.
		return ClassTransient
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return ClassAuth
	case apiErr.StatusCode >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}
