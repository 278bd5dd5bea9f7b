// Package metrics содержит метрики Prometheus сервиса визуального поиска.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "visual_search"

// Исходы операций для меток outcome.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	// SearchDuration время полного поиска: извлечение, сканирование, разрешение метаданных.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of image search requests",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method"},
	)

	// IndexSize число векторов в индексе семейства.
	IndexSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_size",
			Help:      "Number of vectors in the index",
		},
		[]string{"method"},
	)

	// OnlineAdds считает онлайн-добавления изображений.
	OnlineAdds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "online_adds_total",
			Help:      "Single image additions by outcome",
		},
		[]string{"method", "outcome"},
	)

	// BuildBatchDuration время обработки одного батча построителем.
	BuildBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_batch_duration_seconds",
			Help:      "Time spent on a single build batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"method"},
	)

	// BuildItems считает элементы корпуса, обработанные построителем.
	BuildItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_items_total",
			Help:      "Corpus entries processed by the index builder",
		},
		[]string{"method", "outcome"},
	)

	// SnapshotPublishDuration время публикации снимка.
	SnapshotPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_publish_duration_seconds",
			Help:      "Time spent publishing an index snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"method"},
	)
)

// ObserveSince записывает длительность с момента start.
func ObserveSince(h *prometheus.HistogramVec, method string, start time.Time) {
	h.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
