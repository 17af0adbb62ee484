// Prometheus metrics for rxrt
// 指标：无锁桥的拥塞结果、释放池积压、调度器panic
package rxrt

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sourceLabel    = "source"
	outcomeLabel   = "outcome"
	schedulerLabel = "scheduler"
)

// LockFreeSource 入队结果标签值
const (
	outcomeEnqueued      = "enqueued"
	outcomeOverflowed    = "overflowed"
	outcomeDroppedNewest = "dropped_newest"
	outcomeDroppedOldest = "dropped_oldest"
)

var (
	sourceValues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxrt",
		Subsystem: "lockfree_source",
		Name:      "values_total",
		Help:      "Values offered to lock-free sources, by congestion outcome.",
	}, []string{sourceLabel, outcomeLabel})

	releasePoolPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rxrt",
		Subsystem: "release_pool",
		Name:      "pending",
		Help:      "Retired values waiting for the release pool sweep.",
	})

	releasePoolReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rxrt",
		Subsystem: "release_pool",
		Name:      "released_total",
		Help:      "Retired values released by the release pool.",
	})

	schedulerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxrt",
		Subsystem: "scheduler",
		Name:      "panics_total",
		Help:      "Scheduled actions that panicked and were recovered.",
	}, []string{schedulerLabel})
)

// RegisterMetrics 把rxrt的指标注册到reg；重复注册不视为错误
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		sourceValues,
		releasePoolPending,
		releasePoolReleased,
		schedulerPanics,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return errors.Wrap(err, "rxrt: register metrics")
		}
	}
	return nil
}

// sourceCounters 预先解析好标签的计数器，热路径上只做原子加
type sourceCounters struct {
	enqueued      prometheus.Counter
	overflowed    prometheus.Counter
	droppedNewest prometheus.Counter
	droppedOldest prometheus.Counter
}

func newSourceCounters(name string) sourceCounters {
	return sourceCounters{
		enqueued:      sourceValues.WithLabelValues(name, outcomeEnqueued),
		overflowed:    sourceValues.WithLabelValues(name, outcomeOverflowed),
		droppedNewest: sourceValues.WithLabelValues(name, outcomeDroppedNewest),
		droppedOldest: sourceValues.WithLabelValues(name, outcomeDroppedOldest),
	}
}
