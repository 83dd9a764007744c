package drm

import (
	"context"
	"log/slog"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/ratelimit"
)

// Activator paces activation calls per account before delegating to another Authorizer.
type Activator struct {
	next    Authorizer
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// NewActivator wraps next with limiter keyed by account ID.
func NewActivator(next Authorizer, limiter *ratelimit.KeyedRateLimiter, log *slog.Logger) *Activator {
	if log == nil {
		log = logger.Discard()
	}
	return &Activator{next: next, limiter: limiter, logger: log}
}

// Enabled implements Authorizer.
func (a *Activator) Enabled() bool { return a.next.Enabled() }

// CertificateExpired implements Authorizer.
func (a *Activator) CertificateExpired() bool { return a.next.CertificateExpired() }

// IsAuthorized implements Authorizer.
func (a *Activator) IsAuthorized(ctx context.Context, identity domain.DRMIdentity) bool {
	return a.next.IsAuthorized(ctx, identity)
}

// Authorize implements Authorizer. It fails fast with ErrRateLimited rather than waiting.
func (a *Activator) Authorize(ctx context.Context, req ActivationRequest) (*domain.DRMIdentity, error) {
	if !a.limiter.Allow(req.AccountID) {
		a.logger.Warn("activation rate limited", "account_id", req.AccountID)
		return nil, &Error{Op: "authorize", AccountID: req.AccountID, Err: ErrRateLimited}
	}
	return a.next.Authorize(ctx, req)
}

// Deauthorize implements Authorizer.
func (a *Activator) Deauthorize(ctx context.Context, identity domain.DRMIdentity) error {
	return a.next.Deauthorize(ctx, identity)
}
