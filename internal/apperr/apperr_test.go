package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorsUnwrapThroughWrapping(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("failed to insert memory: %w", NewStorageError("insert", base))

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError in chain")
	}
	if storageErr.Op != "insert" {
		t.Fatalf("unexpected op: %s", storageErr.Op)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected base error in chain")
	}
}

func TestNewStorageErrorKeepsExisting(t *testing.T) {
	inner := NewStorageError("recent", errors.New("boom"))
	outer := NewStorageError("search", inner)
	if outer != inner {
		t.Fatalf("expected existing storage error to be reused")
	}
}

func TestNewProviderErrorDeadlineIsTimeout(t *testing.T) {
	err := NewProviderError("openai", Unavailable, fmt.Errorf("call: %w", context.DeadlineExceeded))
	if err.Kind != Timeout {
		t.Fatalf("expected timeout kind, got %s", err.Kind)
	}
	if !IsKind(err, Timeout) {
		t.Fatalf("IsKind should match timeout")
	}
	if !err.Retryable() {
		t.Fatalf("timeout should be retryable")
	}
}

func TestInvalidRequestNotRetryable(t *testing.T) {
	err := NewProviderError("gemini", InvalidRequest, errors.New("bad schema"))
	if err.Retryable() {
		t.Fatalf("invalid request must not be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config", NewConfigError("persona.id", "required"), http.StatusBadRequest},
		{"rate limited", NewProviderError("grok", RateLimited, errors.New("429")), http.StatusTooManyRequests},
		{"timeout", NewProviderError("grok", Timeout, errors.New("slow")), http.StatusGatewayTimeout},
		{"unavailable", NewProviderError("grok", Unavailable, errors.New("down")), http.StatusBadGateway},
		{"invalid", NewProviderError("grok", InvalidRequest, errors.New("bad")), http.StatusBadRequest},
		{"storage", NewStorageError("insert", errors.New("down")), http.StatusServiceUnavailable},
		{"classification", &ClassificationError{Err: errors.New("down")}, http.StatusBadGateway},
		{"other", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestHTTPStatusSentinels(t *testing.T) {
	if got := HTTPStatus(fmt.Errorf("persona luna: %w", ErrNotFound)); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
	if got := HTTPStatus(NewStorageError("consolidate", ErrAlreadyConsolidated)); got != http.StatusConflict {
		t.Fatalf("expected 409, got %d", got)
	}
}
