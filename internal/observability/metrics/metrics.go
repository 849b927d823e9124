// Package metrics exposes Prometheus collectors for submissions, jobs and
// the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/submit"
)

const namespace = "cosign"

var (
	mTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "transitions_total",
		Help:      "Submission state transitions by target state and call",
	}, []string{"state", "call"})
	mFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "failures_total",
		Help:      "Failed submission attempts by error code",
	}, []string{"code"})
	mAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "submit",
		Name:      "attempt_duration_seconds",
		Help:      "Time from build to the terminal state of an attempt",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"state"})

	mJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "completed_total",
		Help:      "Jobs reaching an outcome by action and result",
	}, []string{"action", "result"})
	mQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the queue",
	})

	mRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by handler, method and status code",
	}, []string{"handler", "method", "code"})
	mRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})
)

// ObserveTransition records a submission state transition. It is meant to be
// registered with submit.WithObserver.
func ObserveTransition(t submit.Transition) {
	mTransitions.WithLabelValues(string(t.To), t.Call.String()).Inc()
	if !t.To.Terminal() && t.To != submit.StateSubmitted {
		return
	}
	mAttemptDuration.WithLabelValues(string(t.To)).Observe(t.Elapsed.Seconds())
	if t.To == submit.StateFailed {
		mFailures.WithLabelValues(string(xerrors.CodeOf(t.Err))).Inc()
	}
}

// ObserveJob records a job outcome, one of "succeeded", "retry" or "failed".
func ObserveJob(action, result string) {
	mJobs.WithLabelValues(action, result).Inc()
}

// SetQueueDepth publishes the current queue backlog.
func SetQueueDepth(depth int) {
	mQueueDepth.Set(float64(depth))
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	mRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	mRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
