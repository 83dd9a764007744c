// Package drm exposes device activation as an opaque capability consumed by sign-in.
package drm

import (
	"context"
	"errors"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

// Sentinel errors.
var (
	ErrNoLicensor       = errors.New("drm: profile advertises no licensor")
	ErrMissingToken     = errors.New("drm: licensor carries no client token")
	ErrRateLimited      = errors.New("drm: activation rate exceeded")
	ErrNotAuthorized    = errors.New("drm: identity is not activated")
	ErrCertificateStale = errors.New("drm: device certificate expired")
)

// ActivationRequest is what an activation needs from the sign-in flow.
type ActivationRequest struct {
	AccountID string
	Licensor  domain.DRMLicensor
}

// Authorizer activates and deactivates this device for a patron.
type Authorizer interface {
	// Enabled is false for builds without DRM support.
	Enabled() bool
	IsAuthorized(ctx context.Context, identity domain.DRMIdentity) bool
	Authorize(ctx context.Context, req ActivationRequest) (*domain.DRMIdentity, error)
	Deauthorize(ctx context.Context, identity domain.DRMIdentity) error
	// CertificateExpired reports whether the device-binding certificate lapsed, in which
	// case no activation call can succeed.
	CertificateExpired() bool
}

// Noop is the Authorizer of a build without DRM.
type Noop struct{}

// Enabled implements Authorizer.
func (Noop) Enabled() bool { return false }

// IsAuthorized implements Authorizer.
func (Noop) IsAuthorized(context.Context, domain.DRMIdentity) bool { return false }

// Authorize implements Authorizer.
func (Noop) Authorize(context.Context, ActivationRequest) (*domain.DRMIdentity, error) {
	return nil, nil
}

// Deauthorize implements Authorizer.
func (Noop) Deauthorize(context.Context, domain.DRMIdentity) error { return nil }

// CertificateExpired implements Authorizer.
func (Noop) CertificateExpired() bool { return false }

// Error wraps an activation failure with the account it concerns.
type Error struct {
	Op        string
	AccountID string
	Err       error
}

func (e *Error) Error() string {
	if e.AccountID != "" {
		return "drm " + e.Op + " " + e.AccountID + ": " + e.Err.Error()
	}
	return "drm " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
