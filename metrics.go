package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a single counter tracked by the engine.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricChallengeIssued
	MetricChallengeResent
	MetricChallengeResendBlocked
	MetricOTPSuccess
	MetricOTPFailure
	MetricOTPExpired
	MetricOTPAttemptsExceeded
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricTOTPReplay
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricRegistrationStarted
	MetricRegistrationVerified
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricDeviceNew
	MetricDeviceSuspicious
	MetricDeviceTrusted
	MetricDeviceRevoked
	MetricSessionCreated
	MetricSessionRevoked
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricDeliveryEnqueued
	MetricDeliverySent
	MetricDeliveryFailed
	MetricValidateSuccess
	MetricValidateFailure

	metricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each counter on its own cache line so hot
// counters incremented from different goroutines do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

const histogramBuckets = 8

// Bucket upper bounds in milliseconds. The last bucket is unbounded.
var latencyBucketsMs = [histogramBuckets - 1]int64{5, 10, 25, 50, 100, 250, 500}

type metricHistogram struct {
	buckets [histogramBuckets]paddedCounter
	sumNs   paddedCounter
	count   paddedCounter
}

// Metrics is a lock-free in-process counter set. All methods are safe
// for concurrent use. A nil *Metrics is a valid no-op receiver.
type Metrics struct {
	counters        [metricIDCount]paddedCounter
	validateLatency metricHistogram
	histogramsOn    bool
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{histogramsOn: cfg.EnableLatencyHistograms}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || id < 0 || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id < 0 || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// ObserveValidateLatency records one access-validation duration.
func (m *Metrics) ObserveValidateLatency(d time.Duration) {
	if m == nil || !m.histogramsOn {
		return
	}
	h := &m.validateLatency
	atomic.AddUint64(&h.buckets[bucketIndex(d)].value, 1)
	atomic.AddUint64(&h.sumNs.value, uint64(d.Nanoseconds()))
	atomic.AddUint64(&h.count.value, 1)
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, upper := range latencyBucketsMs {
		if ms <= upper {
			return i
		}
	}
	return histogramBuckets - 1
}

// HistogramSnapshot is a point-in-time copy of one latency histogram.
type HistogramSnapshot struct {
	Buckets [histogramBuckets]uint64
	SumNs   uint64
	Count   uint64
}

// MetricsSnapshot is a point-in-time copy of every counter. The
// snapshot is not atomic across counters; individual reads are.
type MetricsSnapshot struct {
	Counters        [metricIDCount]uint64
	ValidateLatency HistogramSnapshot
	HistogramsOn    bool
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	if m == nil {
		return snap
	}
	for i := range m.counters {
		snap.Counters[i] = atomic.LoadUint64(&m.counters[i].value)
	}
	for i := range m.validateLatency.buckets {
		snap.ValidateLatency.Buckets[i] = atomic.LoadUint64(&m.validateLatency.buckets[i].value)
	}
	snap.ValidateLatency.SumNs = atomic.LoadUint64(&m.validateLatency.sumNs.value)
	snap.ValidateLatency.Count = atomic.LoadUint64(&m.validateLatency.count.value)
	snap.HistogramsOn = m.histogramsOn
	return snap
}

// LatencyBucketBoundsMs exposes the histogram bucket upper bounds for
// exporters. The returned slice excludes the final unbounded bucket.
func LatencyBucketBoundsMs() []int64 {
	out := make([]int64, len(latencyBucketsMs))
	copy(out, latencyBucketsMs[:])
	return out
}

// MetricCount reports how many counter IDs exist, for exporters that
// iterate the full range.
func MetricCount() int { return int(metricIDCount) }
