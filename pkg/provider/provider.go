// Package provider defines the collaborator interface every location
// backend implements, plus the error taxonomy the engine surfaces to
// clients (§7 of the specification this repository implements).
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starfail/locengine/pkg/geo"
)

// Provider is one backend able to produce a single location fix
// asynchronously. Implementations must be safe for concurrent use:
// RequestLocation may be called from multiple goroutines, and must not
// block past ctx's deadline.
type Provider interface {
	// ID is a stable identifier, unique within a process.
	ID() string
	// PollingInterval is this provider's nominal cadence, used to derive
	// its cache freshness window.
	PollingInterval() time.Duration
	// RequestLocation returns a single fix or a *Error describing why it
	// could not. It must respect ctx cancellation.
	RequestLocation(ctx context.Context) (geo.Fix, error)
}

// Startable is implemented by providers with idempotent lifecycle hooks.
// Both hooks are optional; the registry only calls them when present.
type Startable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Kind enumerates the error taxonomy of §7. It names failure categories,
// not language types — every one of them is carried by *Error.
type Kind int

const (
	// KindNoProviderForAccuracy means the registry has no provider
	// registered for the requested tier, nor any tier on the ladder.
	KindNoProviderForAccuracy Kind = iota
	// KindProviderUnavailable means a specific provider is not reachable.
	KindProviderUnavailable
	// KindProviderTimeout means a provider did not answer within its
	// per-kind timeout.
	KindProviderTimeout
	// KindProviderInvalidResponse means a provider answered with an
	// unparsable or incomplete payload.
	KindProviderInvalidResponse
	// KindProviderNoFix means a provider responded but has no position.
	KindProviderNoFix
	// KindFailedAllProviders means the fallback ladder was exhausted.
	KindFailedAllProviders
	// KindInvalidRegion means a region has a non-positive radius,
	// duplicate identifier, or unsupported shape.
	KindInvalidRegion
	// KindCancelled means the operation was cancelled by stop() or a
	// superseding request; it never reaches a delegate.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNoProviderForAccuracy:
		return "no_provider_for_accuracy"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindProviderTimeout:
		return "provider_timeout"
	case KindProviderInvalidResponse:
		return "provider_invalid_response"
	case KindProviderNoFix:
		return "provider_no_fix"
	case KindFailedAllProviders:
		return "failed_all_providers"
	case KindInvalidRegion:
		return "invalid_region"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across the engine. It always
// names a Kind and, for provider-sourced failures, the provider ID.
type Error struct {
	Kind       Kind
	ProviderID string
	Cause      error
}

func (e *Error) Error() string {
	if e.ProviderID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: provider %q: %v", e.Kind, e.ProviderID, e.Cause)
		}
		return fmt.Sprintf("%s: provider %q", e.Kind, e.ProviderID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind wrapping cause, with no provider
// identity attached.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// NewFromProvider builds an *Error attributed to a specific provider.
func NewFromProvider(kind Kind, providerID string, cause error) *Error {
	return &Error{Kind: kind, ProviderID: providerID, Cause: cause}
}

// IsCancelled reports whether err is (or wraps) a KindCancelled error.
func IsCancelled(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindCancelled
	}
	return false
}
