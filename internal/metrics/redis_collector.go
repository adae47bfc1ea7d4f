package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// redisCollector reads queue state at scrape time. Key names are the ones
// producers write.
type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	pendingDesc  *prometheus.Desc
	ongoingDesc  *prometheus.Desc
	inFlightDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		pendingDesc: prometheus.NewDesc(
			"captureq_pending_captures",
			"Captures waiting in to_capture.",
			nil, nil,
		),
		ongoingDesc: prometheus.NewDesc(
			"captureq_ongoing_captures",
			"Captures claimed and not yet cleaned up.",
			nil, nil,
		),
		inFlightDesc: prometheus.NewDesc(
			"captureq_bucket_in_flight",
			"In-flight captures charged to each producer bucket.",
			[]string{"bucket"}, nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingDesc
	ch <- c.ongoingDesc
	ch <- c.inFlightDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.rdb.Pipeline()
	pending := pipe.ZCard(ctx, "to_capture")
	ongoing := pipe.SCard(ctx, "ongoing")
	buckets := pipe.ZRangeWithScores(ctx, "queues", 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	emitGauge(ch, c.pendingDesc, float64(pending.Val()))
	emitGauge(ch, c.ongoingDesc, float64(ongoing.Val()))
	for _, z := range buckets.Val() {
		name, _ := z.Member.(string)
		emitGauge(ch, c.inFlightDesc, z.Score, name)
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
