// metrics.go is a thin abstraction over Prometheus so the engine can run
// with or without metrics. ConfigureMetrics(reg) switches every Cache
// created afterward onto real Prometheus collectors; the default is a
// no-op sink so the hot path never pays for a metric update unless the
// caller opted in.
//
// ┌────────────────────────────┐
// │ Metric                │ Type │
// ├────────────────────────┼──────┤
// │ pathway_cas_total      │ Ctr  │
// │ pathway_cas_retry_total│ Ctr  │
// │ pathway_dispatch_total │ Ctr  │
// │ pathway_drop_total     │ Ctr, labeled by reason │
// │ pathway_activate_total │ Ctr  │
// │ pathway_deactivate_total│ Ctr │
// │ pathway_shutoff_total  │ Ctr  │
// │ pathway_supersede_total│ Ctr  │
// │ pathway_active_paths   │ Gge  │
// └────────────────────────────┘
//
// © 2025 pathway authors. MIT License.
package pathway

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucent-dataflow/pathway/pkg/errs"
)

// metricsSink is an internal interface abstracting away the concrete
// backend (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
	incCAS()
	incRetry()
	incDispatch()
	incDrop(reason string)
	incActivate()
	incDeactivate()
	incShutOff()
	incSupersede()
	setActivePaths(delta int64)
}

type noopMetrics struct{}

func (noopMetrics) incCAS()                {}
func (noopMetrics) incRetry()              {}
func (noopMetrics) incDispatch()           {}
func (noopMetrics) incDrop(string)         {}
func (noopMetrics) incActivate()           {}
func (noopMetrics) incDeactivate()         {}
func (noopMetrics) incShutOff()            {}
func (noopMetrics) incSupersede()          {}
func (noopMetrics) setActivePaths(int64)   {}

type promMetrics struct {
	cas        prometheus.Counter
	retry      prometheus.Counter
	dispatch   prometheus.Counter
	drop       *prometheus.CounterVec
	activate   prometheus.Counter
	deactivate prometheus.Counter
	shutoff    prometheus.Counter
	supersede  prometheus.Counter
	active     prometheus.Gauge

	activeMirror atomic.Int64
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		cas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "cas_total", Help: "Successful cache compare-and-swaps.",
		}),
		retry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "cas_retry_total", Help: "Lost compare-and-swap races.",
		}),
		dispatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "dispatch_total", Help: "Values pushed to receivers.",
		}),
		drop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathway", Name: "drop_total", Help: "Values dropped instead of dispatched.",
		}, []string{"reason"}),
		activate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "activate_total", Help: "Path activations.",
		}),
		deactivate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "deactivate_total", Help: "Path deactivations.",
		}),
		shutoff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "shutoff_total", Help: "GSA terminal shut-offs.",
		}),
		supersede: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathway", Name: "supersede_total", Help: "Switch-map rebindings that superseded a prior selection.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pathway", Name: "active_paths", Help: "Paths currently in the ACTIVE state.",
		}),
	}
	reg.MustRegister(pm.cas, pm.retry, pm.dispatch, pm.drop, pm.activate, pm.deactivate, pm.shutoff, pm.supersede, pm.active)
	return pm
}

func (m *promMetrics) incCAS()        { m.cas.Inc() }
func (m *promMetrics) incRetry()      { m.retry.Inc() }
func (m *promMetrics) incDispatch()   { m.dispatch.Inc() }
func (m *promMetrics) incDrop(reason string) {
	m.drop.WithLabelValues(reason).Inc()
}
func (m *promMetrics) incActivate()   { m.activate.Inc() }
func (m *promMetrics) incDeactivate() { m.deactivate.Inc() }
func (m *promMetrics) incShutOff()    { m.shutoff.Inc() }
func (m *promMetrics) incSupersede()  { m.supersede.Inc() }
func (m *promMetrics) setActivePaths(delta int64) {
	v := m.activeMirror.Add(delta)
	m.active.Set(float64(v))
}

var (
	metricsValue  atomic.Pointer[metricsSink]
	metricsFrozen atomic.Bool
)

// ConfigureMetrics switches the engine onto real Prometheus collectors
// registered against reg. Like the other ambient knobs, it freezes on
// first use (the first Cache constructed without an explicit sink).
func ConfigureMetrics(reg *prometheus.Registry) error {
	if metricsFrozen.Load() {
		return errs.NewUsageViolation("pathway: metrics sink already frozen", Debug())
	}
	if reg != nil {
		var sink metricsSink = newPromMetrics(reg)
		metricsValue.Store(&sink)
	}
	return nil
}

func currentMetrics() metricsSink {
	metricsFrozen.Store(true)
	if v := metricsValue.Load(); v != nil {
		return *v
	}
	return noopMetrics{}
}

// Snapshot gathers the engine's own counters/gauges out of reg into a flat
// map suitable for a debug JSON endpoint, the way pathway-inspect consumes
// it. Counter vecs are flattened to "<metric>{<label>=<value>,...}" keys.
// Gathering goes through reg itself rather than the live atomics behind
// promMetrics, so Snapshot works against any registry - including one a
// caller populated through means other than ConfigureMetrics.
func Snapshot(reg *prometheus.Registry) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		name := fam.GetName()
		if len(name) < 8 || name[:8] != "pathway_" {
			continue
		}
		for _, m := range fam.GetMetric() {
			key := name
			if labels := m.GetLabel(); len(labels) > 0 {
				key += "{"
				for i, l := range labels {
					if i > 0 {
						key += ","
					}
					key += l.GetName() + "=" + l.GetValue()
				}
				key += "}"
			}
			switch {
			case m.Counter != nil:
				out[key] = m.Counter.GetValue()
			case m.Gauge != nil:
				out[key] = m.Gauge.GetValue()
			}
		}
	}
	return out, nil
}
