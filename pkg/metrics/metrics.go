// Package metrics exposes the Prometheus metrics of invocore. The
// invocation engine and the suite scheduler update InvocationsTotal,
// ModulesTotal and ModuleDuration when an invocation or module starts
// or ends; nothing updates ShardsActive or RetryAttemptsTotal. The
// teacher's go.mod already pulls in prometheus/client_golang
// transitively (via controller-runtime's metrics registration); this
// package is where invocore promotes it to a direct dependency and
// gives it an actual home, per SPEC_FULL.md's domain-stack wiring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric this module emits so cmd/ can register
// them once against a single prometheus.Registerer, rather than relying
// on package-level global state shared across invocations.
type Registry struct {
	InvocationsTotal   *prometheus.CounterVec
	ModulesTotal       *prometheus.CounterVec
	ModuleDuration     *prometheus.HistogramVec
	ShardsActive       prometheus.Gauge
	RetryAttemptsTotal *prometheus.CounterVec
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invocore",
			Name:      "invocations_total",
			Help:      "Invocations completed, labeled by outcome.",
		}, []string{"outcome"}),
		ModulesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invocore",
			Name:      "modules_total",
			Help:      "Test modules run, labeled by module name and outcome.",
		}, []string{"module", "outcome"}),
		ModuleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invocore",
			Name:      "module_duration_seconds",
			Help:      "Wall-clock duration of a single module run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),
		ShardsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "invocore",
			Name:      "shards_active",
			Help:      "Number of shard runners currently executing.",
		}),
		RetryAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invocore",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts issued, labeled by module and strategy.",
		}, []string{"module", "strategy"}),
	}
}

// ObserveModule records a completed module run's duration and outcome.
func (r *Registry) ObserveModule(module, outcome string, elapsed time.Duration) {
	r.ModulesTotal.WithLabelValues(module, outcome).Inc()
	r.ModuleDuration.WithLabelValues(module).Observe(elapsed.Seconds())
}
