package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records event ingestion outcomes.
type PipelineMetrics struct {
	processed       *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	stacksCreated   prometheus.Counter
	duplicateStacks prometheus.Counter
	mergesAbandoned prometheus.Counter
	deadLettered    *prometheus.CounterVec
}

// NewPipelineMetrics registers the ingestion metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_processed",
		Help: "Events processed by the ingestion pipeline, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_event_duration_seconds",
		Help:    "Time spent processing a single event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	stacksCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_stacks_created",
		Help: "New stacks created during ingestion.",
	})
	duplicateStacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_duplicate_stacks",
		Help: "Stack creation races resolved by adopting the existing row.",
	})
	mergesAbandoned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_stack_merges_abandoned",
		Help: "Stack counter merges abandoned after repeated conflicts.",
	})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_dead_lettered",
		Help: "Messages parked after exhausting delivery attempts.",
	}, []string{"queue"})
	reg.MustRegister(processed, duration, stacksCreated, duplicateStacks, mergesAbandoned, deadLettered)
	return &PipelineMetrics{
		processed:       processed,
		duration:        duration,
		stacksCreated:   stacksCreated,
		duplicateStacks: duplicateStacks,
		mergesAbandoned: mergesAbandoned,
		deadLettered:    deadLettered,
	}
}

// IncProcessed increments the processed counter for the given outcome.
func (p *PipelineMetrics) IncProcessed(outcome string) {
	if p == nil || p.processed == nil {
		return
	}
	p.processed.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveEventDuration records how long a single event took to process.
func (p *PipelineMetrics) ObserveEventDuration(eventType string, duration time.Duration) {
	if p == nil || p.duration == nil {
		return
	}
	p.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// IncStacksCreated increments the new stack counter.
func (p *PipelineMetrics) IncStacksCreated() {
	if p == nil || p.stacksCreated == nil {
		return
	}
	p.stacksCreated.Inc()
}

// IncDuplicateStacks increments the duplicate stack counter.
func (p *PipelineMetrics) IncDuplicateStacks() {
	if p == nil || p.duplicateStacks == nil {
		return
	}
	p.duplicateStacks.Inc()
}

// IncMergesAbandoned increments the abandoned merge counter.
func (p *PipelineMetrics) IncMergesAbandoned() {
	if p == nil || p.mergesAbandoned == nil {
		return
	}
	p.mergesAbandoned.Inc()
}

// IncDeadLettered increments the dead letter counter for the named queue.
func (p *PipelineMetrics) IncDeadLettered(queue string) {
	if p == nil || p.deadLettered == nil {
		return
	}
	p.deadLettered.WithLabelValues(normalizeLabel(queue)).Inc()
}
