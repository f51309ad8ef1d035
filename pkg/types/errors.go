package types

import (
	"errors"
	"fmt"
)

// Engine-level sentinel errors.
var (
	// ErrNotEnabled is returned by vector operations when no embedding
	// provider is configured. Callers should degrade to keyword-only mode.
	ErrNotEnabled = errors.New("semantic retrieval not enabled")

	// ErrNotReady is returned when the vector index has not completed a
	// successful load or build.
	ErrNotReady = errors.New("vector index not ready")
)

// ProviderErrorKind classifies external provider failures so callers can
// render stable, actionable messages.
type ProviderErrorKind string

const (
	ProviderTimeout     ProviderErrorKind = "timeout"
	ProviderAuth        ProviderErrorKind = "auth"
	ProviderQuota       ProviderErrorKind = "quota"
	ProviderRateLimited ProviderErrorKind = "rate_limited"
	ProviderOther       ProviderErrorKind = "other"
)

// ProviderError wraps a raw embedding/judge provider failure with a
// classified kind and the operation that failed.
type ProviderError struct {
	Kind ProviderErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderErrKind extracts the classified kind from an error chain, or
// ProviderOther when the chain contains no ProviderError.
func ProviderErrKind(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ProviderOther
}
