// Package batch implements the immutable, splittable row-set that flows
// through every channel in the window operator: outer input, per-window
// input, per-window output, and outer output alike.
package batch

// Schema describes the shape of the rows in a Batch. It is intentionally
// minimal: the window operator never inspects it at all, only row counts.
type Schema struct {
	Name   string
	Fields []string
}

// Equal reports whether two schemas describe the same named fields in the
// same order.
func (s Schema) Equal(other Schema) bool {
	if s.Name != other.Name || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

// Batch is an immutable, row-addressable chunk of events. A zero-row Batch
// is the canonical end-of-stream sentinel on any channel in this module.
type Batch struct {
	schema Schema
	rows   []any
}

// New constructs a Batch from the given schema and rows. The rows slice is
// retained, not copied; callers must not mutate it afterwards.
func New(schema Schema, rows []any) Batch {
	return Batch{schema: schema, rows: rows}
}

// EOF returns the zero-row sentinel batch.
func EOF() Batch {
	return Batch{}
}

// Rows returns the number of rows in the batch.
func (b Batch) Rows() int {
	return len(b.rows)
}

// IsEOF reports whether b is the zero-row end-of-stream sentinel.
func (b Batch) IsEOF() bool {
	return len(b.rows) == 0
}

// Schema returns the batch's schema.
func (b Batch) Schema() Schema {
	return b.schema
}

// Values returns the underlying rows. Callers must treat the result as
// read-only.
func (b Batch) Values() []any {
	return b.rows
}

// Split partitions b into a prefix of at most n rows and the remaining
// suffix, without copying the backing array. If n >= b.Rows(), the suffix is
// the EOF sentinel. Split is the only structural operation the window
// operator needs over batches besides row count and schema, per the design
// notes: it must run in constant time so that routing a batch across a
// window boundary never becomes an O(n) hot path under high parallelism.
func (b Batch) Split(n int) (head, tail Batch) {
	if n >= len(b.rows) {
		return b, EOF()
	}
	if n <= 0 {
		return EOF(), b
	}
	return Batch{schema: b.schema, rows: b.rows[:n]}, Batch{schema: b.schema, rows: b.rows[n:]}
}
