package observability

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ghalamif/kinsumer/internal/ports"
)

// PromObs logs through zap and records per-shard Prometheus metrics.
type PromObs struct {
	logger   *zap.Logger
	counters map[string]*prometheus.CounterVec
	gauges   map[string]prometheus.Gauge
	histos   map[string]*prometheus.HistogramVec
}

// NewLogger builds a zap logger for level ("debug", "info", ...).
func NewLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// NewPromObs registers the consumer metrics on reg. Collectors that are
// already registered (a second consumer in the same process) are reused.
func NewPromObs(reg prometheus.Registerer, logger *zap.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	counter := func(name, help string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"shard"})
		return register(reg, c)
	}
	histogram := func(name, help string, buckets []float64) *prometheus.HistogramVec {
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, []string{"shard"})
		return register(reg, h)
	}

	active := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricActiveShards,
		Help: "Number of shards currently tracked by the supervisor.",
	}))

	return &PromObs{
		logger: logger,
		counters: map[string]*prometheus.CounterVec{
			ports.MetricRecordsFetched:   counter(ports.MetricRecordsFetched, "Records fetched from the stream."),
			ports.MetricBatchesProcessed: counter(ports.MetricBatchesProcessed, "Batches handed to the hook chains."),
			ports.MetricCheckpoints:      counter(ports.MetricCheckpoints, "Checkpoints committed."),
			ports.MetricHookErrors:       counter(ports.MetricHookErrors, "Transform or after-consume hooks that failed."),
			ports.MetricFetchErrors:      counter(ports.MetricFetchErrors, "GetRecords calls that failed."),
			ports.MetricOverhangJumps:    counter(ports.MetricOverhangJumps, "Times a lagging shard jumped to LATEST."),
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricActiveShards: active,
		},
		histos: map[string]*prometheus.HistogramVec{
			ports.MetricBatchLatency: histogram(ports.MetricBatchLatency, "Time spent running hooks and checkpointing one batch.", prometheus.ExponentialBuckets(0.001, 2, 12)),
			ports.MetricRecordLag:    histogram(ports.MetricRecordLag, "Age of the newest record in a fetch.", prometheus.ExponentialBuckets(0.1, 2, 14)),
		},
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Logger exposes the underlying zap logger.
func (p *PromObs) Logger() *zap.Logger { return p.logger }

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.logger.Warn(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name, shardID string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.WithLabelValues(shardID).Add(v)
	}
}

func (p *PromObs) ObserveLatency(name, shardID string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.WithLabelValues(shardID).Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
