// Package metrics exposes hark's Prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Utterance outcomes.
const (
	OutcomeDispatched = "dispatched"
	OutcomeTooShort   = "too_short"
	OutcomeAbandoned  = "abandoned"
)

// Metrics contains all Prometheus metrics for the voice front-end.
type Metrics struct {
	reg *prometheus.Registry

	Utterances        *prometheus.CounterVec
	UtteranceDuration prometheus.Histogram
	UtteranceBytes    prometheus.Histogram
	BargeIns          prometheus.Counter
	DispatchErrors    prometheus.Counter
	DispatchDuration  prometheus.Histogram
	PendingFallbacks  prometheus.Counter
	Loudness          prometheus.Gauge
	State             *prometheus.GaugeVec
}

// New registers every metric on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Utterances: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hark_utterances_total",
			Help: "Recordings closed by the turn-taking state machine, by outcome",
		}, []string{"outcome"}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hark_utterance_duration_seconds",
			Help:    "Duration of dispatched utterances including preroll",
			Buckets: prometheus.LinearBuckets(1, 2, 10), // 1s to 19s
		}),
		UtteranceBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hark_utterance_bytes",
			Help:    "Size of encoded utterances",
			Buckets: prometheus.ExponentialBuckets(2048, 2, 10), // 2KB to ~1MB
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_barge_ins_total",
			Help: "Agent playback interrupted by the user speaking",
		}),
		DispatchErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_dispatch_errors_total",
			Help: "Utterances the backend could not accept",
		}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hark_dispatch_duration_seconds",
			Help:    "Time spent handing an utterance to the backend",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		PendingFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "hark_pending_fallbacks_total",
			Help: "Responses that never started playback and were released by the fallback timer",
		}),
		Loudness: f.NewGauge(prometheus.GaugeOpts{
			Name: "hark_input_rms",
			Help: "RMS of the latest analysis frame",
		}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hark_turn_state",
			Help: "1 for the current turn-taking state, 0 otherwise",
		}, []string{"state"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// SetState marks state as the only active one.
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
