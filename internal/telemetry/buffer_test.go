package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularBuffer_KeepsOrder(t *testing.T) {
	buf := NewCircularBuffer[string](10)

	buf.Add("query1")
	buf.Add("query2")
	buf.Add("query3")

	assert.Equal(t, []string{"query1", "query2", "query3"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	for _, q := range []string{"query1", "query2", "query3", "query4", "query5"} {
		buf.Add(q)
	}

	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EmptyItems(t *testing.T) {
	buf := NewCircularBuffer[string](10)

	items := buf.Items()
	assert.Empty(t, items)
	assert.NotNil(t, items)
}

func TestCircularBuffer_DefaultCapacity(t *testing.T) {
	buf := NewCircularBuffer[int](0)

	for i := range 150 {
		buf.Add(i)
	}

	assert.Equal(t, 100, buf.Size())
	assert.Equal(t, 50, buf.Items()[0])
}

func TestCircularBuffer_DrainEmpties(t *testing.T) {
	buf := NewCircularBuffer[string](2)
	buf.Add("a")
	buf.Add("b")
	buf.Add("c")

	assert.Equal(t, []string{"b", "c"}, buf.Drain())
	assert.Equal(t, 0, buf.Size())

	buf.Add("d")
	assert.Equal(t, []string{"d"}, buf.Items())
}
