package hooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/cascade/pkg/api"
)

const metricsNamespace = "cascade"

// Prometheus exports flow, step and node outcomes and node cost as
// Prometheus collectors.
type Prometheus struct {
	FlowsTotal    *prometheus.CounterVec
	FlowDuration  *prometheus.HistogramVec
	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	NodesTotal    *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	TokensTotal   *prometheus.CounterVec
	CostUSDTotal  *prometheus.CounterVec
	FlowsInFlight *prometheus.GaugeVec
}

// NewPrometheus creates the collectors under the "cascade" namespace and
// registers them with reg. A nil reg leaves them unregistered.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	return NewPrometheusWithNamespace(reg, metricsNamespace)
}

// NewPrometheusWithNamespace is NewPrometheus with a custom metric namespace.
func NewPrometheusWithNamespace(reg prometheus.Registerer, ns string) (*Prometheus, error) {
	if ns == "" {
		ns = metricsNamespace
	}
	p := &Prometheus{
		FlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "flows_total",
				Help:      "Total number of finished flow runs",
			},
			[]string{"flow", "outcome"}, // outcome: success, error
		),
		FlowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "flow_duration_seconds",
				Help:      "Histogram of flow run duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"flow", "outcome"},
		),
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "steps_total",
				Help:      "Total number of finished steps",
			},
			[]string{"flow", "step", "outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "step_duration_seconds",
				Help:      "Histogram of step duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"flow", "step"},
		),
		NodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "nodes_total",
				Help:      "Total number of finished node executions, compensations included",
			},
			[]string{"flow", "node", "outcome"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "node_duration_seconds",
				Help:      "Histogram of node duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"flow", "node"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "tokens_total",
				Help:      "Total tokens reported by node outputs",
			},
			[]string{"node", "provider", "model", "type"}, // type: input, output
		),
		CostUSDTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cost_usd_total",
				Help:      "Total cost in USD reported by node outputs",
			},
			[]string{"node", "provider", "model"},
		),
		FlowsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "flows_in_flight",
				Help:      "Number of flow runs currently executing",
			},
			[]string{"flow"},
		),
	}

	if reg != nil {
		for _, c := range p.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Prometheus) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.FlowsTotal, p.FlowDuration,
		p.StepsTotal, p.StepDuration,
		p.NodesTotal, p.NodeDuration,
		p.TokensTotal, p.CostUSDTotal,
		p.FlowsInFlight,
	}
}

// Hooks returns the callbacks that feed p.
func (p *Prometheus) Hooks() api.Hooks {
	return api.Hooks{
		BeforeFlow: func(hc api.HookContext) {
			p.FlowsInFlight.WithLabelValues(hc.FlowName).Inc()
		},
		AfterFlow: func(hc api.HookContext) {
			o := outcome(hc.Err)
			p.FlowsInFlight.WithLabelValues(hc.FlowName).Dec()
			p.FlowsTotal.WithLabelValues(hc.FlowName, o).Inc()
			p.FlowDuration.WithLabelValues(hc.FlowName, o).Observe(hc.Duration.Seconds())
		},
		AfterStep: func(hc api.HookContext) {
			p.StepsTotal.WithLabelValues(hc.FlowName, hc.StepName, outcome(hc.Err)).Inc()
			p.StepDuration.WithLabelValues(hc.FlowName, hc.StepName).Observe(hc.Duration.Seconds())
		},
		AfterNode: func(hc api.HookContext) {
			p.NodesTotal.WithLabelValues(hc.FlowName, hc.NodeName, outcome(hc.Err)).Inc()
			p.NodeDuration.WithLabelValues(hc.FlowName, hc.NodeName).Observe(hc.Duration.Seconds())
		},
		OnCost: func(c api.CostEntry) {
			if c.TokensIn > 0 {
				p.TokensTotal.WithLabelValues(c.NodeName, c.Provider, c.Model, "input").Add(float64(c.TokensIn))
			}
			if c.TokensOut > 0 {
				p.TokensTotal.WithLabelValues(c.NodeName, c.Provider, c.Model, "output").Add(float64(c.TokensOut))
			}
			if c.CostUSD > 0 {
				p.CostUSDTotal.WithLabelValues(c.NodeName, c.Provider, c.Model).Add(c.CostUSD)
			}
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
