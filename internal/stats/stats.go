// Package stats accumulates per-run counters and exposes them both as a
// RunSummary for persistence and as prometheus/client_golang counters and a
// histogram for scraping, following the teacher's AtomicInt32Counter style for
// in-memory tallies while adding the metrics surface the teacher's
// Kong-focused reconciler never needed. SampleHost takes one gopsutil reading
// of host CPU/memory; nothing in a run calls it.
package stats

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tommytoolman/marketsync/internal/model"
)

var (
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_actions_total",
		Help: "Outbound actions dispatched, by platform, op and outcome.",
	}, []string{"platform", "op", "outcome"})

	eventsDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_events_detected_total",
		Help: "SyncEvents written during detection, by platform and change type.",
	}, []string{"platform", "change_type"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketsync_run_duration_seconds",
		Help:    "Wall-clock duration of a full sync run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(actionsTotal, eventsDetectedTotal, runDuration)
}

// Collector accumulates one run's counters. A single Collector is built
// per coordinator run and fed by its detection phase; dispatch.New also
// accepts one for action counts.
type Collector struct {
	mu sync.Mutex

	eventsProcessed int64
	eventsPartial   int64
	eventsError     int64
	eventsSkipped   int64
	actionsAttempt  int64
	actionsOK       int64
	actionsKO       int64

	perPlatform map[model.PlatformTag]*platformCounters
}

type platformCounters struct {
	fetched int64
	creates int64
	updates int64
	removes int64
	errText string
}

// NewCollector builds an empty Collector.
func NewCollector() *Collector {
	return &Collector{perPlatform: make(map[model.PlatformTag]*platformCounters)}
}

func (c *Collector) platform(p model.PlatformTag) *platformCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.perPlatform[p]
	if !ok {
		pc = &platformCounters{}
		c.perPlatform[p] = pc
	}
	return pc
}

// RecordFetched tallies the number of remote listings fetched for platform.
func (c *Collector) RecordFetched(p model.PlatformTag, n int) {
	atomic.AddInt64(&c.platform(p).fetched, int64(n))
}

// RecordDetected tallies one detected change for platform/changeType.
func (c *Collector) RecordDetected(p model.PlatformTag, changeType model.ChangeType) {
	pc := c.platform(p)
	switch changeType {
	case model.ChangeNewListing:
		atomic.AddInt64(&pc.creates, 1)
	case model.ChangeRemovedListing:
		atomic.AddInt64(&pc.removes, 1)
	default:
		atomic.AddInt64(&pc.updates, 1)
	}
	eventsDetectedTotal.WithLabelValues(string(p), string(changeType)).Inc()
}

// RecordDetectionError records that platform's detection task failed or
// timed out; it does not abort the run (spec §4.7).
func (c *Collector) RecordDetectionError(p model.PlatformTag, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.perPlatform[p]
	if !ok {
		pc = &platformCounters{}
		c.perPlatform[p] = pc
	}
	pc.errText = reason
}

// RecordEventOutcome tallies one SyncEvent's final status after reconcile/dispatch.
func (c *Collector) RecordEventOutcome(status model.EventStatus) {
	switch status {
	case model.EventProcessed:
		atomic.AddInt64(&c.eventsProcessed, 1)
	case model.EventPartial:
		atomic.AddInt64(&c.eventsPartial, 1)
	case model.EventError:
		atomic.AddInt64(&c.eventsError, 1)
	case model.EventSkipped:
		atomic.AddInt64(&c.eventsSkipped, 1)
	}
}

// RecordAction tallies one dispatched action's outcome.
func (c *Collector) RecordAction(p model.PlatformTag, op string, ok bool) {
	atomic.AddInt64(&c.actionsAttempt, 1)
	outcome := "ok"
	if ok {
		atomic.AddInt64(&c.actionsOK, 1)
	} else {
		atomic.AddInt64(&c.actionsKO, 1)
		outcome = "error"
	}
	actionsTotal.WithLabelValues(string(p), op, outcome).Inc()
}

// ObserveRunDuration records one run's wall-clock duration in seconds.
func ObserveRunDuration(seconds float64) {
	runDuration.Observe(seconds)
}

// Summary materializes the collector's state as a model.RunSummary.
func (c *Collector) Summary() model.RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := model.NewRunSummary()
	summary.EventsProcessed = int(c.eventsProcessed)
	summary.EventsPartial = int(c.eventsPartial)
	summary.EventsError = int(c.eventsError)
	summary.EventsSkipped = int(c.eventsSkipped)
	summary.ActionsAttempted = int(c.actionsAttempt)
	summary.ActionsSucceeded = int(c.actionsOK)
	summary.ActionsFailed = int(c.actionsKO)

	detected := 0
	for platformTag, pc := range c.perPlatform {
		summary.PerPlatform[platformTag] = model.PlatformSummary{
			Fetched:        int(pc.fetched),
			Creates:        int(pc.creates),
			Updates:        int(pc.updates),
			Removes:        int(pc.removes),
			DetectionError: pc.errText,
		}
		detected += int(pc.creates + pc.updates + pc.removes)
	}
	summary.EventsDetected = detected
	return summary
}

// HostSample is a point-in-time host resource sample taken via gopsutil.
type HostSample struct {
	CPUPercent  float64
	MemUsedPct  float64
}

// SampleHost takes one gopsutil reading. Errors are swallowed into zero
// values: a missing resource sample must never fail a sync run.
func SampleHost() HostSample {
	var sample HostSample
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sample.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemUsedPct = vm.UsedPercent
	}
	return sample
}
