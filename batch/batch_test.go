package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenzir/windowpipe/batch"
)

func rows(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestEOFIsZeroRows(t *testing.T) {
	assert.True(t, batch.EOF().IsEOF())
	assert.Equal(t, 0, batch.EOF().Rows())
}

func TestSplitPrefixSuffix(t *testing.T) {
	b := batch.New(batch.Schema{Name: "s"}, rows(5))

	head, tail := b.Split(2)
	assert.Equal(t, 2, head.Rows())
	assert.Equal(t, 3, tail.Rows())
	assert.Equal(t, []any{0, 1}, head.Values())
	assert.Equal(t, []any{2, 3, 4}, tail.Values())
}

func TestSplitBeyondRowsYieldsEOFTail(t *testing.T) {
	b := batch.New(batch.Schema{Name: "s"}, rows(3))

	head, tail := b.Split(10)
	assert.Equal(t, 3, head.Rows())
	assert.True(t, tail.IsEOF())
}

func TestSplitAtZeroYieldsEOFHead(t *testing.T) {
	b := batch.New(batch.Schema{Name: "s"}, rows(3))

	head, tail := b.Split(0)
	assert.True(t, head.IsEOF())
	assert.Equal(t, 3, tail.Rows())
}

func TestSchemaEqual(t *testing.T) {
	a := batch.Schema{Name: "s", Fields: []string{"a", "b"}}
	b := batch.Schema{Name: "s", Fields: []string{"a", "b"}}
	c := batch.Schema{Name: "s", Fields: []string{"a"}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
