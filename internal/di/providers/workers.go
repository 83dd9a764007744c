package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/logger"
)

// ReplayJob drains the outbox periodically.
type ReplayJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable. It waits for a pass in progress to end.
func (j *ReplayJob) Shutdown() error {
	j.cancel()
	<-j.done
	return nil
}

// ProvideReplayJob starts the periodic outbox replay.
func ProvideReplayJob(i do.Injector) (*ReplayJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	replayer := do.MustInvoke[*annotations.Replayer](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	replay := func() {
		report, err := replayer.Replay(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("Outbox replay failed", "error", err)
		case report.Sent > 0 || report.Dropped > 0:
			log.Info("Outbox replay completed",
				"sent", report.Sent,
				"dropped", report.Dropped,
				"retained", report.Retained,
			)
		}
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.Sync.ReplayInterval)
		defer ticker.Stop()

		// Initial replay on startup
		replay()

		for {
			select {
			case <-ticker.C:
				replay()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Outbox replay job started", "interval", cfg.Sync.ReplayInterval)

	return &ReplayJob{cancel: cancel, done: done}, nil
}
