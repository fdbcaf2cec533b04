package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements every hook interface with Prometheus collectors.
type Prometheus struct {
	mutations     *prometheus.CounterVec
	violations    *prometheus.CounterVec
	resyncs       prometheus.Counter
	resyncDrops   prometheus.Counter
	relayouts     *prometheus.CounterVec
	relayoutTime  prometheus.Histogram
	layoutItems   prometheus.Gauge
	layoutReused  prometheus.Counter
	layoutAnomaly prometheus.Counter
	connections   prometheus.Gauge
	connectTotal  prometheus.Counter
	disconnects   *prometheus.CounterVec
	frames        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "mutations_total",
			Help: "Mutations received, by operation and outcome.",
		}, []string{"op", "outcome"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "protocol_violations_total",
			Help: "Rejected mutations and malformed frames, by error code.",
		}, []string{"code"}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "resyncs_total",
			Help: "Completed full resyncs.",
		}),
		resyncDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "resync_destroyed_entities_total",
			Help: "Entities destroyed because a resync did not mention them.",
		}),
		relayouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "relayouts_total",
			Help: "Relayout passes, by result.",
		}, []string{"result"}),
		relayoutTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pipescope", Name: "relayout_duration_seconds",
			Help:    "Time spent in one relayout pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		layoutItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipescope", Name: "layout_items",
			Help: "Items in the current layout.",
		}),
		layoutReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "layout_components_reused_total",
			Help: "Connected components served from the layout cache.",
		}),
		layoutAnomaly: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "layout_anomalies_total",
			Help: "Layout invariant violations that forced a fallback layout.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipescope", Name: "producer_connections",
			Help: "Currently connected producers.",
		}),
		connectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "producer_connections_total",
			Help: "Accepted producer connections.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "producer_disconnects_total",
			Help: "Closed producer connections, by reason.",
		}, []string{"reason"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "frames_total",
			Help: "Frames read from producers, by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipescope", Name: "http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pipescope", Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		p.mutations, p.violations, p.resyncs, p.resyncDrops,
		p.relayouts, p.relayoutTime, p.layoutItems, p.layoutReused, p.layoutAnomaly,
		p.connections, p.connectTotal, p.disconnects, p.frames,
		p.httpRequests, p.httpDurations,
	)
	return p
}

// Install registers p for every hook category.
func Install(p *Prometheus) {
	SetReplicaHooks(p)
	SetLayoutHooks(p)
	SetTransportHooks(p)
	SetHTTPHooks(p)
}

func (p *Prometheus) OnMutation(_ context.Context, op, outcome string) {
	p.mutations.WithLabelValues(op, outcome).Inc()
}

func (p *Prometheus) OnViolation(_ context.Context, code string) {
	p.violations.WithLabelValues(code).Inc()
}

func (p *Prometheus) OnResync(_ context.Context, _ string, destroyed int) {
	p.resyncs.Inc()
	p.resyncDrops.Add(float64(destroyed))
}

func (p *Prometheus) OnRelayout(_ context.Context, items, _, reused int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "fallback"
	}
	p.relayouts.WithLabelValues(result).Inc()
	p.relayoutTime.Observe(d.Seconds())
	p.layoutItems.Set(float64(items))
	p.layoutReused.Add(float64(reused))
}

func (p *Prometheus) OnAnomaly(context.Context, error) {
	p.layoutAnomaly.Inc()
}

func (p *Prometheus) OnConnect(context.Context, string) {
	p.connections.Inc()
	p.connectTotal.Inc()
}

func (p *Prometheus) OnDisconnect(_ context.Context, _ string, err error) {
	p.connections.Dec()
	reason := "eof"
	if err != nil {
		reason = "error"
	}
	p.disconnects.WithLabelValues(reason).Inc()
}

func (p *Prometheus) OnFrame(_ context.Context, kind string) {
	p.frames.WithLabelValues(kind).Inc()
}

func (p *Prometheus) OnRequest(_ context.Context, method, route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDurations.WithLabelValues(route).Observe(d.Seconds())
}
