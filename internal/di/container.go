// Package di provides dependency injection configuration for the sync client and the
// reference annotation server.
package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/auth"
	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/credentials"
	"github.com/listenupapp/listenup-sync/internal/deletionlog"
	"github.com/listenupapp/listenup-sync/internal/di/providers"
	"github.com/listenupapp/listenup-sync/internal/i18n"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/metrics"
	"github.com/listenupapp/listenup-sync/internal/signin"
)

func provideCore(injector do.Injector, overrides config.Overrides) {
	do.ProvideValue(injector, overrides)
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)
	do.Provide(injector, providers.ProvideRegistry)
	do.Provide(injector, providers.ProvideMetricsServer)
}

// NewClientContainer creates the container of the sync client. agent may be nil when no
// command needs OAuth or SAML sign-in.
func NewClientContainer(overrides config.Overrides, agent signin.ExternalAgent) *do.RootScope {
	injector := do.New()
	provideCore(injector, overrides)

	if agent != nil {
		do.ProvideValue(injector, agent)
	}
	do.Provide(injector, providers.ProvideMessages)
	do.Provide(injector, providers.ProvideCollector)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideBookmarkDB)
	do.Provide(injector, providers.ProvideCredentialRegistry)
	do.Provide(injector, providers.ProvideDeletionLog)

	// Sync layer
	do.Provide(injector, providers.ProvideDRM)
	do.Provide(injector, providers.ProvideLibraries)
	do.Provide(injector, providers.ProvideReplayer)

	// Workers
	do.Provide(injector, providers.ProvideReplayJob)

	return injector
}

// BootstrapClient initializes the services every client command needs. Workers and the
// metrics listener are started by StartDaemon.
func BootstrapClient(injector *do.RootScope) error {
	for _, invoke := range []func(do.Injector) error{
		invokeAs[*config.Config],
		invokeAs[*logger.Logger],
		invokeAs[*i18n.Printer],
		invokeAs[*metrics.Collector],
		invokeAs[*providers.StoreHandle],
		invokeAs[*providers.BookmarkDBHandle],
		invokeAs[*credentials.Registry],
		invokeAs[*deletionlog.Log],
		invokeAs[*providers.DRMHandle],
		invokeAs[*providers.LibrariesHandle],
		invokeAs[*annotations.Replayer],
	} {
		if err := invoke(injector); err != nil {
			return err
		}
	}
	return nil
}

// StartDaemon starts the periodic outbox replay and the metrics listener.
func StartDaemon(injector *do.RootScope) error {
	if err := invokeAs[*providers.ReplayJob](injector); err != nil {
		return err
	}
	return invokeAs[*providers.MetricsServerHandle](injector)
}

// NewServerContainer creates the container of the reference annotation server.
func NewServerContainer(overrides config.Overrides) *do.RootScope {
	injector := do.New()
	provideCore(injector, overrides)

	do.Provide(injector, providers.ProvideHTTPCollector)
	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvidePatrons)
	do.Provide(injector, providers.ProvideAnnotationStore)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// BootstrapServer starts the annotation server and its metrics listener.
func BootstrapServer(injector *do.RootScope) error {
	for _, invoke := range []func(do.Injector) error{
		invokeAs[*config.Config],
		invokeAs[*logger.Logger],
		invokeAs[*prometheus.Registry],
		invokeAs[*metrics.HTTPCollector],
		invokeAs[providers.AuthKey],
		invokeAs[*auth.TokenService],
		invokeAs[*providers.HTTPServerHandle],
		invokeAs[*providers.MetricsServerHandle],
	} {
		if err := invoke(injector); err != nil {
			return err
		}
	}
	return nil
}

func invokeAs[T any](i do.Injector) error {
	_, err := do.Invoke[T](i)
	return err
}
