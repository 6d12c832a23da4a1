package sinks

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/licitabr/pncp-mirror/internal/progress"
)

// PrometheusSink exports sync progress via Prometheus collectors.
type PrometheusSink struct {
	datesCompleted *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	pagesSkipped   *prometheus.CounterVec
	phaseProgress  *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		datesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_sync_dates_total",
			Help: "Dates processed partitioned by dataset and result.",
		}, []string{"dataset", "result"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_sync_rows_written_total",
			Help: "Rows written partitioned by dataset and stage.",
		}, []string{"dataset", "stage"}),
		pagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_sync_pages_skipped_total",
			Help: "Pages abandoned after exhausting retries.",
		}, []string{"dataset"}),
		phaseProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pncp_sync_phase_progress_ratio",
			Help: "Fraction of the current phase completed.",
		}, []string{"dataset", "stage"}),
	}
	for _, collector := range []prometheus.Collector{
		s.datesCompleted,
		s.rowsWritten,
		s.pagesSkipped,
		s.phaseProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Observe updates the collectors for one event. Safe for concurrent use.
func (s *PrometheusSink) Observe(evt progress.Event) {
	switch evt.Stage {
	case progress.StageDateDone:
		s.datesCompleted.WithLabelValues(evt.Dataset, "success").Inc()
	case progress.StageDateFailed:
		s.datesCompleted.WithLabelValues(evt.Dataset, "failed").Inc()
	case progress.StagePageSkip:
		s.pagesSkipped.WithLabelValues(evt.Dataset).Inc()
	case progress.StageCount, progress.StagePages, progress.StageItems:
		if evt.Rows > 0 {
			s.rowsWritten.WithLabelValues(evt.Dataset, string(evt.Stage)).Add(float64(evt.Rows))
		}
		if evt.Total > 0 {
			s.phaseProgress.WithLabelValues(evt.Dataset, string(evt.Stage)).
				Set(float64(evt.Done) / float64(evt.Total))
		}
	}
}
