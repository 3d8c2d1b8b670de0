package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DecodeTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_tokens_total",
		Help: "The total number of decode steps executed",
	})

	DecodeDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "decode_duration_seconds",
		Help: "Duration of single-token decode steps",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernel_duration_seconds",
		Help:    "Histogram of CPU kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_capacity_bytes",
		Help: "Total bytes preallocated for the KV cache",
	})

	KVCacheUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_used_bytes",
		Help: "Bytes of the KV cache holding appended positions",
	})

	KVCacheOutOfBounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_oob_total",
		Help: "Count of rejected out-of-bounds KV cache accesses",
	})

	LogitNaNCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_nan_count_total",
		Help: "Total count of NaN values observed in logits",
	})

	ShapeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shape_errors_total",
		Help: "Total number of kernel shape contract violations",
	}, []string{"kernel"})

	WeightsMappedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weights_mapped_bytes",
		Help: "Bytes of model weights currently memory mapped",
	})
)

// ObserveKernel records one kernel execution started at t.
func ObserveKernel(kernel string, t time.Time) {
	KernelDuration.WithLabelValues(kernel).Observe(time.Since(t).Seconds())
}

// RecordDecode records one completed decode step.
func RecordDecode(d time.Duration) {
	DecodeTokensTotal.Inc()
	DecodeDuration.Observe(d.Seconds())
}

// RecordKVCacheStats sets the capacity and used gauges.
func RecordKVCacheStats(capacityBytes, usedBytes int64) {
	KVCacheCapacityBytes.Set(float64(capacityBytes))
	KVCacheUsedBytes.Set(float64(usedBytes))
}
