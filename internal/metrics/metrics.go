// Package metrics exposes sync, outbox and sign-in counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/signin"
)

const namespace = "listenup_sync"

// Collector records client-side activity. It satisfies the observer interfaces of the
// sync engine, the outbox replayer and the sign-in orchestrator.
type Collector struct {
	syncPasses   *prometheus.CounterVec
	syncDuration prometheus.Histogram
	uploads      *prometheus.CounterVec
	replays      *prometheus.CounterVec
	signIns      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Bookmark sync passes by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of bookmark sync passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_uploads_total",
			Help:      "Annotation uploads by motivation and result.",
		}, []string{"motivation", "result"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_replays_total",
			Help:      "Outbox entries processed by outcome.",
		}, []string{"outcome"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_events_total",
			Help:      "Sign-in, sign-in failure and sign-out events by auth method.",
		}, []string{"kind", "method"}),
	}

	reg.MustRegister(c.syncPasses, c.syncDuration, c.uploads, c.replays, c.signIns)
	return c
}

// ObserveSync records one sync pass.
func (c *Collector) ObserveSync(outcome string, duration time.Duration) {
	c.syncPasses.WithLabelValues(outcome).Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// ObserveUpload records one annotation POST.
func (c *Collector) ObserveUpload(motivation domain.Motivation, err error) {
	c.uploads.WithLabelValues(motivationLabel(motivation), strconv.FormatBool(err == nil)).Inc()
}

// ObserveReplay records the outcome of one outbox entry.
func (c *Collector) ObserveReplay(outcome string) {
	c.replays.WithLabelValues(outcome).Inc()
}

// SignInFinished records a sign-in orchestrator event.
func (c *Collector) SignInFinished(ev signin.Event) {
	c.signIns.WithLabelValues(string(ev.Kind), string(ev.Method)).Inc()
}

func motivationLabel(m domain.Motivation) string {
	switch m {
	case domain.MotivationBookmark:
		return "bookmark"
	case domain.MotivationReadingProgress:
		return "reading_progress"
	default:
		return "other"
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute returns a mux serving /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
