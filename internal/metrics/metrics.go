// Package metrics exposes dqlfmt counters through a private Prometheus
// registry. A one-shot run can dump them in the node_exporter textfile
// format; watch mode can serve them over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dqlfmt/internal/embed"
	"dqlfmt/internal/formatter"
	"dqlfmt/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dqlfmt"

// File results used as the "result" label of dqlfmt_files_total.
const (
	FileUnchanged = "unchanged"
	FileChanged   = "changed"
	FileSkipped   = "skipped"
	FileError     = "error"
)

// Metrics holds the collectors. It implements embed.Observer.
type Metrics struct {
	registry *prometheus.Registry

	templates         *prometheus.CounterVec
	outcomes          *prometheus.CounterVec
	files             *prometheus.CounterVec
	formatterDuration *prometheus.HistogramVec
	spliceDuration    prometheus.Histogram
}

// New creates a metrics set registered on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		templates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "templates_total",
				Help:      "Templates recognized as embedded DQL, by recognition rule.",
			},
			[]string{"rule"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "splice_outcomes_total",
				Help:      "Splice outcomes by status and reason.",
			},
			[]string{"status", "reason"},
		),
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Host files processed, by result.",
			},
			[]string{"result"},
		),
		formatterDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "formatter_duration_seconds",
				Help:      "Latency of external formatter calls.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"result"},
		),
		spliceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "splice_duration_seconds",
				Help:      "Time spent splicing one template, formatter call included.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
	}
	m.registry.MustRegister(m.templates, m.outcomes, m.files, m.formatterDuration, m.spliceDuration)
	return m
}

// Observe records one splice event.
func (m *Metrics) Observe(e embed.Event) {
	m.templates.WithLabelValues(e.Rule.String()).Inc()
	reason := string(e.Outcome.Reason)
	if reason == "" {
		reason = "none"
	}
	m.outcomes.WithLabelValues(e.Outcome.Status.String(), reason).Inc()
	m.spliceDuration.Observe(e.Duration.Seconds())
}

// FileDone records a processed host file.
func (m *Metrics) FileDone(result string) {
	m.files.WithLabelValues(result).Inc()
}

// InstrumentFormatter wraps f so every call is timed.
func (m *Metrics) InstrumentFormatter(f formatter.Formatter) formatter.Formatter {
	return &instrumented{inner: f, hist: m.formatterDuration}
}

type instrumented struct {
	inner formatter.Formatter
	hist  *prometheus.HistogramVec
}

func (i *instrumented) Identity() string {
	return formatter.IdentityOf(i.inner, "anonymous")
}

func (i *instrumented) Format(ctx context.Context, text string) (string, error) {
	start := time.Now()
	out, err := i.inner.Format(ctx, text)
	result := "ok"
	if err != nil {
		result = "error"
	}
	i.hist.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return out, err
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Watch("serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}
