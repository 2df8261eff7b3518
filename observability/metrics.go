package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tapMetricsOnce sync.Once
	tapRegistry    *TapMetrics

	storeMetricsOnce sync.Once
	storeRegistry    *ReceiptStoreMetrics
)

// TapMetrics wraps collectors tracking receipt admission.
type TapMetrics struct {
	receipts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Tap exposes the lazily initialised receipt admission metrics.
func Tap() *TapMetrics {
	tapMetricsOnce.Do(func() {
		tapRegistry = &TapMetrics{
			receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "indexer",
				Subsystem: "tap",
				Name:      "receipts_total",
				Help:      "Receipts processed by the admission manager segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "indexer",
				Subsystem: "tap",
				Name:      "receipt_admission_seconds",
				Help:      "Latency distribution for receipt admission, including storage.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(tapRegistry.receipts, tapRegistry.latency)
	})
	return tapRegistry
}

// RecordOutcome counts one admission attempt and its latency.
func (m *TapMetrics) RecordOutcome(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	label := labelOutcome(outcome)
	m.receipts.WithLabelValues(label).Inc()
	m.latency.WithLabelValues(label).Observe(d.Seconds())
}

// ReceiptStoreMetrics wraps collectors tracking receipt persistence.
type ReceiptStoreMetrics struct {
	inserts       *prometheus.CounterVec
	notifications prometheus.Counter
}

// ReceiptStore exposes the lazily initialised receipt store metrics.
func ReceiptStore() *ReceiptStoreMetrics {
	storeMetricsOnce.Do(func() {
		storeRegistry = &ReceiptStoreMetrics{
			inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "indexer",
				Subsystem: "receipt_store",
				Name:      "inserts_total",
				Help:      "Receipt insert attempts segmented by result.",
			}, []string{"result"}),
			notifications: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "indexer",
				Subsystem: "receipt_store",
				Name:      "notifications_total",
				Help:      "Receipt notifications received by listeners.",
			}),
		}
		prometheus.MustRegister(storeRegistry.inserts, storeRegistry.notifications)
	})
	return storeRegistry
}

// RecordInsert counts an insert attempt.
func (m *ReceiptStoreMetrics) RecordInsert(result string) {
	if m == nil {
		return
	}
	m.inserts.WithLabelValues(labelOutcome(result)).Inc()
}

// RecordNotification counts a notification delivered to a listener.
func (m *ReceiptStoreMetrics) RecordNotification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func labelOutcome(outcome string) string {
	normalized := strings.ToLower(strings.TrimSpace(outcome))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
