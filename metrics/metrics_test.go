package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordConsumerOutcome(t *testing.T) {
	before := testutil.ToFloat64(ConsumerOutcomes.WithLabelValues("acked"))

	RecordConsumerOutcome("acked", 10*time.Millisecond)
	RecordConsumerOutcome("acked", 20*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(ConsumerOutcomes.WithLabelValues("acked")))
}

func TestAddReindexed(t *testing.T) {
	before := testutil.ToFloat64(ReindexedCount)
	AddReindexed(3)
	assert.Equal(t, before+3, testutil.ToFloat64(ReindexedCount))
}
