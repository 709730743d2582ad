package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const jobName = "finechan"

// Metrics tracks acquisition progress on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	snapshots       prometheus.Counter
	rounds          prometheus.Counter
	segments        *prometheus.CounterVec
	droppedChannels prometheus.Counter
	roundDuration   prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "finechan_snapshots_total",
			Help: "Snapshot batches read from the source",
		}),
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "finechan_rounds_total",
			Help: "Completed accumulation rounds",
		}),
		segments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finechan_segments_total",
			Help: "Fine FFT segments accumulated per coarse channel",
		}, []string{"chan"}),
		droppedChannels: factory.NewCounter(prometheus.CounterOpts{
			Name: "finechan_dropped_channels_total",
			Help: "Requested channels dropped because the source does not provide them",
		}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "finechan_round_duration_seconds",
			Help:    "Wall time of one acquisition and accumulation round",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) Snapshots(n int) {
	if m == nil {
		return
	}
	m.snapshots.Add(float64(n))
}

func (m *Metrics) Round(d time.Duration, segments map[int]int) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.roundDuration.Observe(d.Seconds())
	for ch, n := range segments {
		m.segments.WithLabelValues(strconv.Itoa(ch)).Add(float64(n))
	}
}

func (m *Metrics) DroppedChannels(n int) {
	if m == nil {
		return
	}
	m.droppedChannels.Add(float64(n))
}

// Push sends the current values to a Prometheus pushgateway, grouped by run.
func (m *Metrics) Push(url, run string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, jobName).Gatherer(m.Registry).Grouping("run", run).Push(); err != nil {
		return fmt.Errorf("unable to push metrics to %s: %w", url, err)
	}
	return nil
}
