package metrics

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMutation(t *testing.T) {
	okBefore := testutil.ToFloat64(MutationsTotal.WithLabelValues("create_chat", OutcomeSuccess))
	errBefore := testutil.ToFloat64(MutationsTotal.WithLabelValues("create_chat", OutcomeError))

	RecordMutation("create_chat", nil, 0.01)
	RecordMutation("create_chat", errors.New("boom"), 0.02)
	RecordMutation("create_chat", nil, 0.01)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(MutationsTotal.WithLabelValues("create_chat", OutcomeSuccess)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(MutationsTotal.WithLabelValues("create_chat", OutcomeError)))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	assert.Equal(t, hits+1, testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("miss")))
}

func TestRecordInvalidation(t *testing.T) {
	before := testutil.ToFloat64(CacheInvalidationsTotal.WithLabelValues("messages"))
	RecordInvalidation("messages")
	assert.Equal(t, before+1, testutil.ToFloat64(CacheInvalidationsTotal.WithLabelValues("messages")))
}

func TestWrite(t *testing.T) {
	RecordMutation("delete_chat", nil, 0.003)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	out := buf.String()
	assert.Contains(t, out, "# TYPE convstore_mutations_total counter")
	assert.Contains(t, out, `convstore_mutations_total{operation="delete_chat",outcome="success"}`)
	assert.Contains(t, out, "convstore_mutation_duration_seconds_bucket")
}
