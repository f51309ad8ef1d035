package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// classify wraps a raw provider failure in a typed ProviderError so call
// sites can choose fail-open vs. fail-hard per error kind. status is the
// HTTP status code when one was received, zero otherwise.
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &types.ProviderError{
		Kind: classifyKind(status, err),
		Op:   op,
		Err:  err,
	}
}

func classifyKind(status int, err error) types.ProviderErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ProviderTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ProviderTimeout
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.ProviderAuth
	case http.StatusPaymentRequired:
		return types.ProviderQuota
	case http.StatusTooManyRequests:
		return types.ProviderRateLimited
	}

	// Providers are inconsistent about status codes; fall back to message
	// sniffing so callers still get a stable kind.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return types.ProviderTimeout
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid authentication"):
		return types.ProviderAuth
	case strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "quota"):
		return types.ProviderQuota
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return types.ProviderRateLimited
	}
	return types.ProviderOther
}
