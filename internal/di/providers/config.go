// Package providers contains dependency injection providers for the sync client and the
// reference annotation server.
package providers

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/i18n"
	"github.com/listenupapp/listenup-sync/internal/logger"
)

// ProvideConfig provides the application configuration. Command-line overrides are
// registered as a value by the caller.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	overrides, _ := do.Invoke[config.Overrides](i)
	return config.LoadConfig(overrides)
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Debug("configuration loaded",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Data.BasePath,
		"accounts_path", cfg.Accounts.Path,
		"accounts", len(cfg.Accounts.Entries),
	)

	return log, nil
}

// ProvideSlogLogger provides access to the underlying slog.Logger for packages that need it.
func ProvideSlogLogger(i do.Injector) (*slog.Logger, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return log.Logger, nil
}

// ProvideMessages provides the printer for user-facing sign-in messages.
func ProvideMessages(i do.Injector) (*i18n.Printer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return i18n.New(cfg.App.Language), nil
}
