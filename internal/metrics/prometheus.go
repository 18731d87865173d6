package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPrefix is prepended to every exported metric name.
const MetricsPrefix = "ingestor_"

// Batch outcomes used as label values.
const (
	OutcomeAccepted  = "accepted"
	OutcomePartial   = "partial"
	OutcomeCongested = "congested"
	OutcomeFailed    = "failed"
	OutcomeOK        = "ok"
)

// Prometheus holds the exported counters and histograms.
type Prometheus struct {
	batches        *prometheus.CounterVec
	items          *prometheus.CounterVec
	polls          *prometheus.CounterVec
	jobsTerminal   *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
}

// NewPrometheus registers the ingestor metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "batches_total",
			Help: "Number of batch uploads grouped by outcome",
		}, []string{"outcome"}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "items_total",
			Help: "Number of items sent grouped by whether they received a job id",
		}, []string{"result"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "status_polls_total",
			Help: "Number of status queries grouped by outcome",
		}, []string{"outcome"}),
		jobsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "jobs_terminal_total",
			Help: "Number of jobs that reached a terminal state",
		}, []string{"state"}),
		requestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "request_duration_seconds",
			Help:    "Duration of backend requests in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
	}
}

// RecordBatch counts one batch upload.
func (p *Prometheus) RecordBatch(outcome string, accepted, unsubmitted int, duration time.Duration) {
	p.batches.With(prometheus.Labels{"outcome": outcome}).Inc()
	p.items.With(prometheus.Labels{"result": "accepted"}).Add(float64(accepted))
	p.items.With(prometheus.Labels{"result": "unsubmitted"}).Add(float64(unsubmitted))
	p.requestSeconds.With(prometheus.Labels{"operation": OpSubmitBatch}).Observe(duration.Seconds())
}

// RecordPoll counts one status query.
func (p *Prometheus) RecordPoll(outcome string, duration time.Duration) {
	p.polls.With(prometheus.Labels{"outcome": outcome}).Inc()
	p.requestSeconds.With(prometheus.Labels{"operation": OpPollStatus}).Observe(duration.Seconds())
}

// RecordTerminal counts jobs reaching a terminal state.
func (p *Prometheus) RecordTerminal(state string, n int) {
	p.jobsTerminal.With(prometheus.Labels{"state": state}).Add(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
