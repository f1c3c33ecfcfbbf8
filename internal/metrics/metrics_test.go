package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	c := NewCollector()

	c.RecordOperation("memory_store", "ok", 5*time.Millisecond)
	c.RecordOperation("memory_store", "ok", 2*time.Millisecond)
	c.RecordOperation("memory_refresh", "error", time.Millisecond)

	counts, err := c.Gather()
	require.NoError(t, err)
	require.Len(t, counts, 2)

	byKey := map[string]float64{}
	for _, oc := range counts {
		byKey[oc.Operation+"/"+oc.Status] = oc.Count
	}
	assert.Equal(t, 2.0, byKey["memory_store/ok"])
	assert.Equal(t, 1.0, byKey["memory_refresh/error"])
}

func TestRecordError(t *testing.T) {
	c := NewCollector()

	// Typed errors land in their own counter, not the operations one
	c.RecordError("memory_refresh", "invalid_state")
	c.RecordError("memory_refresh", "invalid_state")
	c.RecordError("memory_store", "invalid_citation")

	counts, err := c.Gather()
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.RecordOperation("memory_store", "ok", time.Millisecond)

	counts, err := b.Gather()
	require.NoError(t, err)
	assert.Empty(t, counts, "each collector owns its registry")
}
