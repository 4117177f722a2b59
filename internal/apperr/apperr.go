// Package apperr holds the typed errors shared by the memory, model and agent layers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ConfigError reports an invalid persona, world or runtime configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "config error: " + e.Reason
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// ProviderKind classifies upstream model and embedding failures.
type ProviderKind string

const (
	RateLimited    ProviderKind = "rate_limited"
	Timeout        ProviderKind = "timeout"
	InvalidRequest ProviderKind = "invalid_request"
	Unavailable    ProviderKind = "unavailable"
)

// ProviderError wraps a language-model or embedding provider failure.
type ProviderError struct {
	Provider string
	Kind     ProviderKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s provider error (%s)", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry with backoff.
func (e *ProviderError) Retryable() bool {
	return e != nil && e.Kind != InvalidRequest
}

// NewProviderError builds a ProviderError. A context deadline is always reported as Timeout.
func NewProviderError(provider string, kind ProviderKind, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = Timeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ErrAlreadyConsolidated is returned by a store when a consolidation batch names a record
// that another batch already folded into a summary.
var ErrAlreadyConsolidated = errors.New("memory already consolidated")

// ErrNotFound is returned when a looked up entity does not exist.
var ErrNotFound = errors.New("not found")

// StorageError wraps a memory store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError builds a StorageError. An existing StorageError is returned as is.
func NewStorageError(op string, err error) error {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ClassificationError reports that a memory could not be embedded.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("classification error: embedding unavailable: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// IsKind reports whether err carries a ProviderError of the given kind.
func IsKind(err error, kind ProviderKind) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.Kind == kind
}

// HTTPStatus maps an error onto a response status code.
func HTTPStatus(err error) int {
	var (
		configErr   *ConfigError
		providerErr *ProviderError
		storageErr  *StorageError
		classErr    *ClassificationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &configErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyConsolidated):
		return http.StatusConflict
	case errors.As(err, &providerErr):
		switch providerErr.Kind {
		case InvalidRequest:
			return http.StatusBadRequest
		case RateLimited:
			return http.StatusTooManyRequests
		case Timeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	case errors.As(err, &classErr):
		return http.StatusBadGateway
	case errors.As(err, &storageErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
