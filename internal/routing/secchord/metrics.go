package secchord

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 安全路由指标
//
// 零值 *Metrics（nil）可安全调用，所有方法都是空操作。
type Metrics struct {
	lookups     *prometheus.CounterVec
	hops        prometheus.Histogram
	duration    prometheus.Histogram
	rpcErrors   *prometheus.CounterVec
	evidence    *prometheus.CounterVec
	retries     prometheus.Counter
	backtracks  prometheus.Counter
	liveIterats prometheus.Gauge
}

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "lookups_total",
			Help:      "Completed lookups by outcome.",
		}, []string{"outcome"}),
		hops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "lookup_hops",
			Help:      "Accepted hops per completed lookup.",
			Buckets:   prometheus.LinearBuckets(0, 2, 16),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "lookup_duration_seconds",
			Help:      "Lookup latency from first hop to terminal event.",
			Buckets:   prometheus.DefBuckets,
		}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "rpc_errors_total",
			Help:      "Failed routing RPCs by kind.",
		}, []string{"kind"}),
		evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "evidence_total",
			Help:      "Misbehavior evidence observed during lookups.",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "hop_retries_total",
			Help:      "Hop retries with expanded candidates.",
		}),
		backtracks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "backtracks_total",
			Help:      "Accepted hops invalidated by later evidence.",
		}),
		liveIterats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "secchord",
			Subsystem: "routing",
			Name:      "live_iterators",
			Help:      "Shared iterators currently tracked by the factory.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.lookups, m.hops, m.duration, m.rpcErrors, m.evidence, m.retries, m.backtracks, m.liveIterats,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeLookup(outcome string, hops int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
	m.hops.Observe(float64(hops))
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) rpcError(kind string) {
	if m == nil {
		return
	}
	m.rpcErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) evidenceObserved(kind string) {
	if m == nil {
		return
	}
	m.evidence.WithLabelValues(kind).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) backtrack() {
	if m == nil {
		return
	}
	m.backtracks.Inc()
}

func (m *Metrics) setLive(n int) {
	if m == nil {
		return
	}
	m.liveIterats.Set(float64(n))
}
