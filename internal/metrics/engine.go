// Package metrics maintains live, queryable aggregates over the
// processed event stream: per-service counters, a global fold, and a
// volume ranking.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/model"
)

// ServiceMetrics is the point-in-time aggregate for one service.
type ServiceMetrics struct {
	ServiceName  string                `json:"service_name"`
	TotalCount   int64                 `json:"total_count"`
	CountByLevel map[model.Level]int64 `json:"count_by_level"`
	TotalBytes   int64                 `json:"total_bytes"`
	FirstSeen    time.Time             `json:"first_seen"`
	LastSeen     time.Time             `json:"last_seen"`
	// IngestionRate is events per second over the engine's rolling
	// sample window.
	IngestionRate float64 `json:"ingestion_rate"`
}

// ServiceRank is one entry of the volume ranking.
type ServiceRank struct {
	ServiceName string `json:"service_name"`
	TotalCount  int64  `json:"total_count"`
}

// ProcessingMetrics counts worker outcomes. Dropped items are the
// observable trace of ProcessingExhausted losses.
type ProcessingMetrics struct {
	EventsProcessed int64 `json:"events_processed"`
	EventsDropped   int64 `json:"events_dropped"`
	ItemsDropped    int64 `json:"items_dropped"`
}

// GlobalMetrics aggregates across all known services.
type GlobalMetrics struct {
	TotalServices int                   `json:"total_services"`
	TotalCount    int64                 `json:"total_count"`
	CountByLevel  map[model.Level]int64 `json:"count_by_level"`
	TotalBytes    int64                 `json:"total_bytes"`
	IngestionRate float64               `json:"ingestion_rate"`
	Ranking       []ServiceRank         `json:"ranking"`
	Processing    ProcessingMetrics     `json:"processing"`
}

const maxRateSamples = 4096

// serviceState is mutated only under its own mutex, so concurrent
// Consume calls for the same service never lose updates while different
// services do not contend.
type serviceState struct {
	mu      sync.Mutex
	name    string
	total   int64
	byLevel map[model.Level]int64
	bytes   int64
	first   time.Time
	last    time.Time
	samples []time.Time
}

// Engine consumes processed events and serves stats queries. Counters
// are purely additive, which is what makes the queue's at-least-once
// redelivery safe (double counting on retry, never silent loss).
type Engine struct {
	mu       sync.RWMutex
	services map[string]*serviceState

	procMu       sync.Mutex
	processed    int64
	droppedItems int64
	droppedEvts  int64

	rateWindow time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewEngine returns an engine computing ingestion rates over window
// (one minute when zero).
func NewEngine(window time.Duration, logger zerolog.Logger) *Engine {
	if window <= 0 {
		window = time.Minute
	}
	return &Engine{
		services:   make(map[string]*serviceState),
		rateWindow: window,
		now:        time.Now,
		logger:     logger.With().Str("component", "metrics").Logger(),
	}
}

func (e *Engine) state(name string) *serviceState {
	e.mu.RLock()
	st, ok := e.services[name]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.services[name]; ok {
		return st
	}
	st = &serviceState{name: name, byLevel: make(map[model.Level]int64)}
	e.services[name] = st
	return st
}

// Consume folds one processed event into its service's counters.
func (e *Engine) Consume(event *model.LogEvent) error {
	now := e.now()
	st := e.state(event.ServiceName)
	st.mu.Lock()
	st.total++
	st.byLevel[event.Level]++
	st.bytes += int64(event.EncodedSize())
	if st.first.IsZero() {
		st.first = now
	}
	st.last = now
	st.samples = append(st.samples, now)
	st.trimSamples(now.Add(-e.rateWindow))
	st.mu.Unlock()

	e.procMu.Lock()
	e.processed++
	e.procMu.Unlock()
	return nil
}

// RecordDrop accounts a worker item whose retries were exhausted. The
// gateway acked the item long ago; this counter is the observable trace
// of the loss.
func (e *Engine) RecordDrop(serviceName string, events int) {
	e.procMu.Lock()
	e.droppedItems++
	e.droppedEvts += int64(events)
	e.procMu.Unlock()
	e.logger.Warn().
		Str("service", serviceName).
		Int("events", events).
		Msg("recorded processing loss")
}

// trimSamples drops rate samples older than cutoff; called with st.mu held.
func (st *serviceState) trimSamples(cutoff time.Time) {
	idx := 0
	for idx < len(st.samples) && st.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		st.samples = append(st.samples[:0], st.samples[idx:]...)
	}
	if len(st.samples) > maxRateSamples {
		st.samples = append(st.samples[:0], st.samples[len(st.samples)-maxRateSamples:]...)
	}
}

// snapshot renders the state under its lock.
func (e *Engine) snapshot(st *serviceState) ServiceMetrics {
	now := e.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.trimSamples(now.Add(-e.rateWindow))
	byLevel := make(map[model.Level]int64, len(st.byLevel))
	for level, count := range st.byLevel {
		byLevel[level] = count
	}
	return ServiceMetrics{
		ServiceName:   st.name,
		TotalCount:    st.total,
		CountByLevel:  byLevel,
		TotalBytes:    st.bytes,
		FirstSeen:     st.first,
		LastSeen:      st.last,
		IngestionRate: float64(len(st.samples)) / e.rateWindow.Seconds(),
	}
}

// ServiceStats returns the named service's aggregate; ok is false for a
// service the engine has never seen.
func (e *Engine) ServiceStats(serviceName string) (ServiceMetrics, bool) {
	e.mu.RLock()
	st, ok := e.services[serviceName]
	e.mu.RUnlock()
	if !ok {
		return ServiceMetrics{ServiceName: serviceName, CountByLevel: map[model.Level]int64{}}, false
	}
	return e.snapshot(st), true
}

// GlobalStats folds every service's aggregate at read time, so totals
// are always consistent with the per-service numbers.
func (e *Engine) GlobalStats() GlobalMetrics {
	e.mu.RLock()
	states := make([]*serviceState, 0, len(e.services))
	for _, st := range e.services {
		states = append(states, st)
	}
	e.mu.RUnlock()

	global := GlobalMetrics{
		TotalServices: len(states),
		CountByLevel:  make(map[model.Level]int64),
		Ranking:       make([]ServiceRank, 0, len(states)),
	}
	for _, st := range states {
		snap := e.snapshot(st)
		global.TotalCount += snap.TotalCount
		global.TotalBytes += snap.TotalBytes
		global.IngestionRate += snap.IngestionRate
		for level, count := range snap.CountByLevel {
			global.CountByLevel[level] += count
		}
		global.Ranking = append(global.Ranking, ServiceRank{ServiceName: snap.ServiceName, TotalCount: snap.TotalCount})
	}
	rankDescending(global.Ranking)

	e.procMu.Lock()
	global.Processing = ProcessingMetrics{
		EventsProcessed: e.processed,
		EventsDropped:   e.droppedEvts,
		ItemsDropped:    e.droppedItems,
	}
	e.procMu.Unlock()
	return global
}

// TopServices returns up to limit services ordered by volume descending,
// ties broken by service name so results are reproducible.
func (e *Engine) TopServices(limit int) []ServiceRank {
	global := e.GlobalStats()
	if limit <= 0 || limit > len(global.Ranking) {
		limit = len(global.Ranking)
	}
	return global.Ranking[:limit]
}

func rankDescending(ranking []ServiceRank) {
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].TotalCount != ranking[j].TotalCount {
			return ranking[i].TotalCount > ranking[j].TotalCount
		}
		return ranking[i].ServiceName < ranking[j].ServiceName
	})
}
