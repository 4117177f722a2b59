package models

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"

	"github.com/easeaico/persona-core/internal/apperr"
)

// classifyError maps a provider failure onto the ProviderError taxonomy.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var providerErr *apperr.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.NewProviderError(provider, apperr.Timeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.NewProviderError(provider, apperr.Unavailable, err)
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return apperr.NewProviderError(provider, kindForStatus(openaiErr.StatusCode), err)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return apperr.NewProviderError(provider, kindForStatus(anthropicErr.StatusCode), err)
	}

	return apperr.NewProviderError(provider, kindForMessage(err.Error()), err)
}

func kindForStatus(status int) apperr.ProviderKind {
	switch status {
	case http.StatusTooManyRequests:
		return apperr.RateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return apperr.Timeout
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return apperr.InvalidRequest
	default:
		return apperr.Unavailable
	}
}

// kindForMessage covers SDKs whose error types carry the status only in the message.
func kindForMessage(msg string) apperr.ProviderKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "resource_exhausted"), strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"):
		return apperr.RateLimited
	case strings.Contains(lower, "deadline_exceeded"), strings.Contains(lower, "timeout"):
		return apperr.Timeout
	case strings.Contains(lower, "invalid_argument"), strings.Contains(lower, "permission_denied"), strings.Contains(lower, "400"):
		return apperr.InvalidRequest
	default:
		return apperr.Unavailable
	}
}
