// Package metrics records pipeline timings and outcomes, both as an in-memory
// snapshot and as Prometheus series.
package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline operations.
const (
	OpExtract   = "extract"
	OpEmbedding = "embedding"
	OpIndex     = "index"
	OpSummarize = "summarize"
	OpCrawl     = "crawl"
	OpMap       = "map"
)

// Job outcomes.
const (
	OutcomeReady  = "ready"
	OutcomeFailed = "failed"
)

type opStats struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// OperationSnapshot holds computed stats for one operation.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot is the server's statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                      `json:"uptimeSeconds"`
	Operations    map[string]OperationSnapshot `json:"operations"`
	Outcomes      map[string]int64             `json:"outcomes"`
	DroppedEvents int64                        `json:"droppedEvents"`
}

// Collector aggregates statistics. All methods are safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*opStats
	outcomes  map[string]int64
	dropped   int64

	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	jobs      *prometheus.CounterVec
	drops     prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*opStats),
		outcomes:  make(map[string]int64),
		registry:  prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contextbase",
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"operation"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextbase",
			Name:      "jobs_total",
			Help:      "Ingestion jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contextbase",
			Name:      "progress_events_dropped_total",
			Help:      "Progress events dropped because a subscriber was slow.",
		}),
	}
	c.registry.MustRegister(c.durations, c.jobs, c.drops)
	return c
}

// RecordTiming records one run of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.durations.WithLabelValues(op).Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.ops[op]
	if !ok {
		s = &opStats{min: time.Duration(math.MaxInt64)}
		c.ops[op] = s
	}
	s.count++
	s.total += d
	s.min = min(s.min, d)
	s.max = max(s.max, d)
}

// Time returns a func that records the elapsed time for op when called.
func (c *Collector) Time(op string) func() {
	start := time.Now()
	return func() { c.RecordTiming(op, time.Since(start)) }
}

// RecordOutcome counts a finished job.
func (c *Collector) RecordOutcome(kind, outcome string) {
	c.jobs.WithLabelValues(kind, outcome).Inc()

	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
}

// RecordDropped counts progress events lost to slow subscribers.
func (c *Collector) RecordDropped(n int) {
	c.drops.Add(float64(n))

	c.mu.Lock()
	c.dropped += int64(n)
	c.mu.Unlock()
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make(map[string]OperationSnapshot, len(c.ops)),
		Outcomes:      make(map[string]int64, len(c.outcomes)),
		DroppedEvents: c.dropped,
	}
	for op, s := range c.ops {
		snap.Operations[op] = OperationSnapshot{
			Count:       s.count,
			TotalTimeMs: s.total.Milliseconds(),
			AvgTimeMs:   float64(s.total.Milliseconds()) / float64(s.count),
			MinTimeMs:   s.min.Milliseconds(),
			MaxTimeMs:   s.max.Milliseconds(),
		}
	}
	for k, v := range c.outcomes {
		snap.Outcomes[k] = v
	}
	return snap
}

// Handler serves the collector's Prometheus series.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
