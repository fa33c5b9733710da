package metrics

import (
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpEmbedding, 10*time.Millisecond)
	c.RecordTiming(OpEmbedding, 30*time.Millisecond)

	snap := c.Snapshot()
	emb, ok := snap.Operations[OpEmbedding]
	require.True(t, ok)
	assert.Equal(t, int64(2), emb.Count)
	assert.Equal(t, int64(40), emb.TotalTimeMs)
	assert.Equal(t, 20.0, emb.AvgTimeMs)
	assert.Equal(t, int64(10), emb.MinTimeMs)
	assert.Equal(t, int64(30), emb.MaxTimeMs)

	_, ok = snap.Operations[OpCrawl]
	assert.False(t, ok)
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpIndex, time.Millisecond)
			c.RecordOutcome("file", OutcomeReady)
			c.RecordDropped(1)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Operations[OpIndex].Count)
	assert.Equal(t, int64(50), snap.Outcomes[OutcomeReady])
	assert.Equal(t, int64(50), snap.DroppedEvents)
}

func TestHandlerExposesSeries(t *testing.T) {
	c := NewCollector()
	done := c.Time(OpSummarize)
	done()
	c.RecordOutcome("website_root", OutcomeFailed)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `contextbase_operation_duration_seconds_count{operation="summarize"} 1`)
	assert.Contains(t, string(body), `contextbase_jobs_total{kind="website_root",outcome="failed"} 1`)
}
