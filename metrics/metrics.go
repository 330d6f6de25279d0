// Package metrics defines the external metrics sink collaborator: the
// interface the window coordinator forwards remapped inner-pipeline metric
// registrations and samples to.
//
// Per spec, operator-level throughput metrics emitted by an inner pipeline
// are never forwarded here — there is simply no code path in package
// window that calls Sink methods for them.
package metrics

// Schema describes one registered metric series.
type Schema struct {
	Name   string
	Fields []string
}

// Sample is one observation of a registered metric series.
type Sample struct {
	Values map[string]float64
}

// Sink receives metric registrations and samples keyed by an operator index
// and a metric ID. In this module the metric ID is always the
// coordinator-generated outer ID from its remapping table (see
// window.Coordinator), never the inner pipeline's own ID, so that two
// windows' independent metric streams can never collide.
type Sink interface {
	RegisterSchema(operatorIndex uint64, metricID string, schema Schema)
	Observe(operatorIndex uint64, metricID string, sample Sample)
}

// Nop discards every registration and sample.
type Nop struct{}

func (Nop) RegisterSchema(uint64, string, Schema) {}
func (Nop) Observe(uint64, string, Sample)        {}

// Collecting buffers every registration/sample, for tests that assert on
// what the coordinator forwarded.
type Collecting struct {
	Schemas []RegisteredSchema
	Samples []ObservedSample
}

type RegisteredSchema struct {
	OperatorIndex uint64
	MetricID      string
	Schema        Schema
}

type ObservedSample struct {
	OperatorIndex uint64
	MetricID      string
	Sample        Sample
}

func (c *Collecting) RegisterSchema(operatorIndex uint64, metricID string, schema Schema) {
	c.Schemas = append(c.Schemas, RegisteredSchema{operatorIndex, metricID, schema})
}

func (c *Collecting) Observe(operatorIndex uint64, metricID string, sample Sample) {
	c.Samples = append(c.Samples, ObservedSample{operatorIndex, metricID, sample})
}
