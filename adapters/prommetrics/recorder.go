package prommetrics

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-qbexport/core"
)

// DefaultLabels are the tag keys the service attaches to operation metrics.
var DefaultLabels = []string{"operation", "status", "realm_id", "entity", "project_code"}

// Recorder implements core.MetricsRecorder with lazily created counter and
// histogram vectors. Every vector shares one label set; tags outside it are
// dropped and missing tags are recorded as "".
type Recorder struct {
	registry  *prometheus.Registry
	namespace string
	labels    []string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

type Option func(*Recorder)

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

func NewRecorder(namespace string, opts ...Option) *Recorder {
	r := &Recorder{
		registry:   prometheus.NewRegistry(),
		namespace:  sanitize(namespace),
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(name)
	if vec == nil {
		return
	}
	vec.WithLabelValues(r.values(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name)
	if vec == nil {
		return
	}
	vec.WithLabelValues(r.values(tags)...).Observe(value)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	name = r.metricName(name)
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: "qbexport counter " + name,
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if prior, ok := existing.ExistingCollector.(*prometheus.CounterVec); ok {
				vec = prior
			}
		} else {
			return nil
		}
	}
	r.counters[name] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	name = r.metricName(name)
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "qbexport histogram " + name,
		Buckets: r.buckets,
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if prior, ok := existing.ExistingCollector.(*prometheus.HistogramVec); ok {
				vec = prior
			}
		} else {
			return nil
		}
	}
	r.histograms[name] = vec
	return vec
}

func (r *Recorder) values(tags map[string]string) []string {
	out := make([]string, len(r.labels))
	for i, label := range r.labels {
		out[i] = strings.TrimSpace(tags[label])
	}
	return out
}

// metricName turns "qbexport.export_report.total" into
// "qbexport_export_report_total", prefixing the namespace when absent.
func (r *Recorder) metricName(name string) string {
	name = sanitize(name)
	if name == "" {
		return ""
	}
	if r.namespace != "" && name != r.namespace && !strings.HasPrefix(name, r.namespace+"_") {
		name = r.namespace + "_" + name
	}
	return name
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == ':':
			b.WriteRune(c)
		case c >= '0' && c <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
