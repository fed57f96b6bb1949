// Package metrics registers the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts job creations via the API.
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foldy",
		Name:      "jobs_created_total",
		Help:      "Number of jobs created.",
	})

	// JobsCompleted counts jobs by terminal status.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldy",
		Name:      "jobs_completed_total",
		Help:      "Number of jobs that reached a terminal status.",
	}, []string{"status"})

	// CancelRequests counts cancel calls and whether they flipped the job.
	CancelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldy",
		Name:      "cancel_requests_total",
		Help:      "Number of cancel requests, by outcome.",
	}, []string{"outcome"})

	// EventsPublished counts events pushed to per-job queues.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldy",
		Name:      "events_published_total",
		Help:      "Number of events appended to job event queues.",
	}, []string{"event_type"})

	// ActiveStreams tracks currently open SSE streams.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "foldy",
		Name:      "active_streams",
		Help:      "Number of SSE streams currently being served.",
	})

	// ReaperDeletions counts keys and files removed by the reaper.
	ReaperDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldy",
		Name:      "reaper_deletions_total",
		Help:      "Number of stale objects removed by the reaper.",
	}, []string{"kind"})

	// ArchiveWrites counts terminal-state mirror writes, by result.
	ArchiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldy",
		Name:      "archive_writes_total",
		Help:      "Number of archive mirror writes, by result.",
	}, []string{"result"})
)
