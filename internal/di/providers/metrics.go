package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/metrics"
)

// ProvideRegistry provides the Prometheus registry with process and Go runtime collectors.
func ProvideRegistry(i do.Injector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, nil
}

// ProvideCollector provides the sync, outbox and sign-in metrics.
func ProvideCollector(i do.Injector) (*metrics.Collector, error) {
	return metrics.NewCollector(do.MustInvoke[*prometheus.Registry](i)), nil
}

// ProvideHTTPCollector provides the reference server's request metrics.
func ProvideHTTPCollector(i do.Injector) (*metrics.HTTPCollector, error) {
	return metrics.NewHTTPCollector(do.MustInvoke[*prometheus.Registry](i)), nil
}

// MetricsServerHandle wraps the /metrics listener. Server is nil when no address is
// configured.
type MetricsServerHandle struct {
	Server *http.Server
}

// Shutdown implements do.Shutdownable.
func (h *MetricsServerHandle) Shutdown() error {
	if h.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideMetricsServer starts the /metrics listener when METRICS_ADDR is set.
func ProvideMetricsServer(i do.Injector) (*MetricsServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	reg := do.MustInvoke[*prometheus.Registry](i)

	if cfg.Metrics.Addr == "" {
		return &MetricsServerHandle{}, nil
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Info("Metrics server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()

	return &MetricsServerHandle{Server: srv}, nil
}
