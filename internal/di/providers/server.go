package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/annoserver"
	"github.com/listenupapp/listenup-sync/internal/auth"
	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/metrics"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvidePatrons provides the patron directory loaded from SERVER_PATRONS_PATH.
func ProvidePatrons(i do.Injector) (*annoserver.Directory, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Server.PatronsPath == "" {
		return nil, errors.New("SERVER_PATRONS_PATH is required to run the annotation server")
	}
	seeds, err := annoserver.LoadPatrons(cfg.Server.PatronsPath)
	if err != nil {
		return nil, err
	}
	dir, err := annoserver.NewDirectory(seeds)
	if err != nil {
		return nil, err
	}

	log.Info("Patrons loaded", "path", cfg.Server.PatronsPath, "count", len(seeds))
	return dir, nil
}

// ProvideAnnotationStore provides the in-memory annotation store.
func ProvideAnnotationStore(i do.Injector) (*annoserver.AnnotationStore, error) {
	return annoserver.NewAnnotationStore(), nil
}

// ProvideHTTPServer provides the reference annotation server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	patrons := do.MustInvoke[*annoserver.Directory](i)
	notes := do.MustInvoke[*annoserver.AnnotationStore](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	requests := do.MustInvoke[*metrics.HTTPCollector](i)

	handler := annoserver.NewServer(annoserver.Config{
		LibraryID:      cfg.Server.LibraryID,
		PublicURL:      cfg.Server.PublicURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Middleware:     []func(http.Handler) http.Handler{requests.Middleware},
	}, patrons, notes, tokens, log.Component("annoserver"))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr, "library_id", cfg.Server.LibraryID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
