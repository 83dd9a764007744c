package providers

import (
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/credentials"
	"github.com/listenupapp/listenup-sync/internal/deletionlog"
	"github.com/listenupapp/listenup-sync/internal/drm"
	"github.com/listenupapp/listenup-sync/internal/i18n"
	"github.com/listenupapp/listenup-sync/internal/libraries"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/metrics"
	"github.com/listenupapp/listenup-sync/internal/ratelimit"
	"github.com/listenupapp/listenup-sync/internal/signin"
)

// Outbound pacing per library host.
const (
	requestsPerSecond = 5
	requestBurst      = 10
)

// DRMHandle wraps the device authorizer and its rate limiter.
type DRMHandle struct {
	drm.Authorizer
	limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *DRMHandle) Shutdown() error {
	if h.limiter != nil {
		h.limiter.Stop()
	}
	return nil
}

// ProvideDRM provides the device authorizer: the local activation store paced per
// account, or Noop when DRM is disabled.
func ProvideDRM(i do.Injector) (*DRMHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.DRM.Enabled {
		return &DRMHandle{Authorizer: drm.Noop{}}, nil
	}

	limiter := ratelimit.New(cfg.DRM.ActivationsPerHour/time.Hour.Seconds(), cfg.DRM.ActivationBurst,
		ratelimit.WithIdleTTL(24*time.Hour))
	local := drm.NewLocal(storeHandle.DRM, cfg.DRM.CertificateExpiry, log.Component("drm"))
	return &DRMHandle{
		Authorizer: drm.NewActivator(local, limiter, log.Component("drm")),
		limiter:    limiter,
	}, nil
}

// LibrariesHandle wraps the per-account service set.
type LibrariesHandle struct {
	*libraries.Set
	limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable. Pending reading positions are uploaded first.
func (h *LibrariesHandle) Shutdown() error {
	h.Close()
	h.limiter.Stop()
	return nil
}

// ProvideLibraries provides the services of every account in the accounts file.
func ProvideLibraries(i do.Injector) (*LibrariesHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	db := do.MustInvoke[*BookmarkDBHandle](i)
	registry := do.MustInvoke[*credentials.Registry](i)
	deletions := do.MustInvoke[*deletionlog.Log](i)
	drmHandle := do.MustInvoke[*DRMHandle](i)
	messages := do.MustInvoke[*i18n.Printer](i)
	collector := do.MustInvoke[*metrics.Collector](i)

	// Optional: without an agent, OAuth and SAML sign-in fail with ErrNoAgent.
	agent, _ := do.Invoke[signin.ExternalAgent](i)

	device, err := cfg.EnsureDeviceID()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(requestsPerSecond, requestBurst)
	set := libraries.New(libraries.Options{
		Accounts:      cfg.Accounts.Entries,
		Registry:      registry,
		Local:         db.Store,
		Deletions:     deletions,
		DRM:           drmHandle.Authorizer,
		Agent:         agent,
		Messages:      messages,
		Observer:      collector,
		Limiter:       limiter,
		UserAgent:     cfg.App.UserAgent,
		Device:        device,
		Timeout:       cfg.Sync.AnnotationTimeout,
		SignInTimeout: cfg.Sync.SignInTimeout,
		PositionDelay: cfg.Sync.PositionDebounce,
	}, log.Component("sync"))

	log.Debug("library services configured", "libraries", len(cfg.Accounts.Entries), "device_id", device)
	return &LibrariesHandle{Set: set, limiter: limiter}, nil
}

// ProvideReplayer provides the outbox replayer.
func ProvideReplayer(i do.Injector) (*annotations.Replayer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	db := do.MustInvoke[*BookmarkDBHandle](i)
	set := do.MustInvoke[*LibrariesHandle](i)
	collector := do.MustInvoke[*metrics.Collector](i)

	return annotations.NewReplayer(db.Store, set.Set, cfg.Sync.MaxAttempts, collector, log.Component("outbox")), nil
}
