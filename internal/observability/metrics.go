// Package observability holds the process-wide metrics and tracer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Tracer is shared by the resolver, ingestion and cache flushes.
var Tracer = otel.Tracer("github.com/jward/xrefdb")

// Metrics definitions
var (
	LinksResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrefdb_links_resolved_total",
		Help: "Total number of links scored against their candidates.",
	})

	LinkTargetChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrefdb_link_target_changes_total",
		Help: "Total number of link resolutions that changed the stored target.",
	})

	ImageLinksResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrefdb_image_links_resolved_total",
		Help: "Total number of image links scored against the image files sharing their file name.",
	})

	NewTopicBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrefdb_new_topic_batches_total",
		Help: "Total number of new-topic batches rescored against existing links.",
	})

	ReferenceFlushSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xrefdb_reference_flush_seconds",
		Help:    "Time spent flushing reference count changes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	ReferenceRowsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrefdb_reference_rows_deleted_total",
		Help: "Total number of class and context rows deleted after reaching zero references.",
	}, []string{"kind"})

	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xrefdb_lock_wait_seconds",
		Help:    "Time spent waiting to acquire the database lock.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"mode"})

	FilesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrefdb_files_ingested_total",
		Help: "Total number of files processed by ingestion, by result.",
	}, []string{"result"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrefdb_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
