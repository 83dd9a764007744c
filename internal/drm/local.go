package drm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/id"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/store"
)

// Repository persists activations.
type Repository interface {
	Get(ctx context.Context, key string) (*store.ActivationRecord, error)
	Put(ctx context.Context, key string, rec *store.ActivationRecord) error
	Delete(ctx context.Context, key string) error
}

// Local is a device-local authorizer: it binds a generated device ID to the patron named by
// the licensor's client token and records the pair. It stands in for a vendor DRM library.
type Local struct {
	mu         sync.RWMutex
	repo       Repository
	certExpiry time.Time
	now        func() time.Time
	logger     *slog.Logger
}

// NewLocal creates a Local authorizer. A zero certExpiry never expires.
func NewLocal(repo Repository, certExpiry time.Time, log *slog.Logger) *Local {
	if log == nil {
		log = logger.Discard()
	}
	return &Local{repo: repo, certExpiry: certExpiry, now: time.Now, logger: log}
}

func activationKey(identity domain.DRMIdentity) string {
	return identity.DeviceID + "|" + identity.UserID
}

// Enabled implements Authorizer.
func (l *Local) Enabled() bool { return true }

// CertificateExpired implements Authorizer.
func (l *Local) CertificateExpired() bool {
	return !l.certExpiry.IsZero() && !l.now().Before(l.certExpiry)
}

// IsAuthorized implements Authorizer.
func (l *Local) IsAuthorized(ctx context.Context, identity domain.DRMIdentity) bool {
	if !identity.Complete() || l.CertificateExpired() {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	_, err := l.repo.Get(ctx, activationKey(identity))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		l.logger.Warn("activation lookup failed", "device_id", identity.DeviceID, "error", err)
	}
	return err == nil
}

// Authorize implements Authorizer. The client token has the form "<user>|<secret>"; only the
// user half is kept.
func (l *Local) Authorize(ctx context.Context, req ActivationRequest) (*domain.DRMIdentity, error) {
	if l.CertificateExpired() {
		return nil, &Error{Op: "authorize", AccountID: req.AccountID, Err: ErrCertificateStale}
	}
	if req.Licensor.ClientToken == "" {
		return nil, &Error{Op: "authorize", AccountID: req.AccountID, Err: ErrMissingToken}
	}

	user, _, _ := strings.Cut(req.Licensor.ClientToken, "|")
	identity := domain.DRMIdentity{
		DeviceID: id.NewDeviceID(),
		UserID:   user,
		Licensor: req.Licensor.Vendor,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := &store.ActivationRecord{
		DeviceID:    identity.DeviceID,
		UserID:      identity.UserID,
		Vendor:      identity.Licensor,
		AccountID:   req.AccountID,
		ActivatedAt: l.now().UTC(),
	}
	if err := l.repo.Put(ctx, activationKey(identity), rec); err != nil {
		return nil, &Error{Op: "authorize", AccountID: req.AccountID, Err: err}
	}

	l.logger.Info("device activated",
		"account_id", req.AccountID,
		"vendor", identity.Licensor,
		"device_id", identity.DeviceID,
	)
	return &identity, nil
}

// Deauthorize implements Authorizer. Unknown identities are an error so callers can log it.
func (l *Local) Deauthorize(ctx context.Context, identity domain.DRMIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := activationKey(identity)
	if _, err := l.repo.Get(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Error{Op: "deauthorize", Err: ErrNotAuthorized}
		}
		return &Error{Op: "deauthorize", Err: err}
	}
	if err := l.repo.Delete(ctx, key); err != nil {
		return &Error{Op: "deauthorize", Err: err}
	}

	l.logger.Info("device deactivated", "device_id", identity.DeviceID)
	return nil
}
