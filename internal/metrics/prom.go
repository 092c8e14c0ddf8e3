// Package metrics exposes the agent's operational metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggoodman/xrce-agent-go/agent"
)

// Prom is an agent.MetricsSink backed by Prometheus collectors. Metric names
// the sink does not know are ignored.
type Prom struct {
	buildInfo  *prometheus.GaugeVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	clients    prometheus.Gauge
	objects    prometheus.Gauge
	dropped    prometheus.Counter
}

// NewProm creates the collectors and registers them with r.
func NewProm(r prometheus.Registerer) *Prom {
	p := &Prom{
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xrce_agent_build_info",
				Help: "Build information for the xrce agent",
			},
			[]string{"version"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: agent.MetricOperations,
				Help: "Completed operations by kind and implementation status",
			},
			[]string{"op", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    agent.MetricOperationDuration,
				Help:    "Operation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"op"},
		),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: agent.MetricClients,
			Help: "Number of admitted client sessions",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: agent.MetricObjects,
			Help: "Number of live entities across all sessions",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: agent.MetricEventsDropped,
			Help: "Session directory changes dropped because the queue was full",
		}),
	}
	r.MustRegister(p.buildInfo, p.operations, p.duration, p.clients, p.objects, p.dropped)
	return p
}

// SetBuildInfo records the running version.
func (p *Prom) SetBuildInfo(version string) {
	p.buildInfo.WithLabelValues(version).Set(1)
}

func (p *Prom) IncCounter(name string, tags map[string]string) {
	switch name {
	case agent.MetricOperations:
		p.operations.WithLabelValues(tags["op"], tags["status"]).Inc()
	case agent.MetricEventsDropped:
		p.dropped.Inc()
	}
}

func (p *Prom) ObserveHistogram(name string, value float64, tags map[string]string) {
	if name == agent.MetricOperationDuration {
		p.duration.WithLabelValues(tags["op"]).Observe(value)
	}
}

func (p *Prom) SetGauge(name string, value float64, tags map[string]string) {
	switch name {
	case agent.MetricClients:
		p.clients.Set(value)
	case agent.MetricObjects:
		p.objects.Set(value)
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ agent.MetricsSink = (*Prom)(nil)
