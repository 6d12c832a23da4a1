// Package progress defines the coarse progress events emitted by the sync
// pipeline and fans them out to pluggable sinks. Volume is low (partitions,
// pages, and dates — never individual records), so delivery is synchronous.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage denotes which pipeline phase an Event describes.
type Stage string

// Supported progress stages.
const (
	StageCount      Stage = "COUNT"       // count phase: Done/Total = partitions counted
	StagePages      Stage = "PAGES"       // page streaming: Done/Total = rows written vs missing
	StageItems      Stage = "ITEMS"       // dependent records: Done/Total = parents resolved
	StagePageSkip   Stage = "PAGE_SKIPPED"
	StageDateDone   Stage = "DATE_DONE"
	StageDateFailed Stage = "DATE_FAILED"
)

// Event captures one progress milestone.
type Event struct {
	RunID     uuid.UUID
	TS        time.Time
	Dataset   string // "contratacoes" or "pca"
	Stage     Stage
	DateRef   string
	Partition int // modality code; 0 when not partition-scoped
	Done      int64
	Total     int64
	Rows      int64 // rows written by the step this event reports
	Note      string
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Observe(evt Event)
}

// Reporter stamps events with the run id and timestamp and forwards them to
// every sink. The zero-value-safe nil Reporter discards events, so deep
// pipeline code never has to nil-check.
type Reporter struct {
	runID uuid.UUID
	mu    sync.Mutex
	sinks []Sink
}

// NewReporter builds a Reporter for one sync run.
func NewReporter(runID uuid.UUID, sinks ...Sink) *Reporter {
	return &Reporter{runID: runID, sinks: sinks}
}

// RunID returns the identifier stamped on emitted events.
func (r *Reporter) RunID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return r.runID
}

// Emit forwards evt to all sinks, filling RunID and TS when unset.
func (r *Reporter) Emit(evt Event) {
	if r == nil {
		return
	}
	if evt.RunID == uuid.Nil {
		evt.RunID = r.runID
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		if s != nil {
			s.Observe(evt)
		}
	}
}
