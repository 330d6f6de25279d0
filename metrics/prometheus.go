package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink adapts Sink onto the prometheus client. Each distinct
// metric ID registered gets one GaugeVec (labeled by field name), reused
// for every subsequent sample carrying that ID. This mirrors how the
// coordinator's own remapping table grows monotonically and is never
// purged for the lifetime of the process: neither does this sink's gauge
// set.
type PrometheusSink struct {
	registerer prometheus.Registerer

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

// NewPrometheusSink constructs a PrometheusSink registering series on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	return &PrometheusSink{
		registerer: reg,
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (p *PrometheusSink) RegisterSchema(operatorIndex uint64, metricID string, schema Schema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.gauges[metricID]; ok {
		return
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "windowpipe",
		Subsystem: "window",
		Name:      schema.Name,
		Help:      "window operator inner-pipeline metric: " + schema.Name,
	}, []string{"field"})
	p.registerer.MustRegister(gv)
	p.gauges[metricID] = gv
}

func (p *PrometheusSink) Observe(operatorIndex uint64, metricID string, sample Sample) {
	p.mu.Lock()
	gv, ok := p.gauges[metricID]
	p.mu.Unlock()
	if !ok {
		return
	}
	for field, v := range sample.Values {
		gv.WithLabelValues(field).Set(v)
	}
}

var _ Sink = (*PrometheusSink)(nil)
