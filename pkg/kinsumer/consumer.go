package kinsumer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/kinsumer/internal/adapters/kinesis"
	"github.com/ghalamif/kinsumer/internal/adapters/observability"
	"github.com/ghalamif/kinsumer/internal/app/pipeline"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("kinsumer: consumer already running")

// Consumer reads every shard of one stream, feeds drained batches through
// the registered hooks and checkpoints after each batch.
type Consumer struct {
	id           string
	cfg          *Config
	client       ports.StreamClient
	checkpointer ports.Checkpointer
	obs          ports.Observability
	gatherer     prometheus.Gatherer
	serveMetrics bool
	closers      []func() error

	hooks      *pipeline.Hooks
	supervisor *pipeline.Supervisor
	running    atomic.Bool
	metricsSrv *http.Server
}

// ShardStatus is a point-in-time view of one tracked shard.
type ShardStatus struct {
	ShardID  string `json:"shard_id"`
	State    string `json:"state"`
	Sequence string `json:"sequence,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Conf loads YAML from disk and builds a Consumer from it.
func Conf(path string, opts ...Option) (*Consumer, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// New wires the default adapters (Kinesis client, configured checkpoint
// backend, zap + Prometheus observability). Options override any of them.
func New(cfg *Config, opts ...Option) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Consumer{
		id:           uuid.NewString(),
		cfg:          cfg,
		serveMetrics: true,
		hooks:        &pipeline.Hooks{},
	}
	if o.serveMetrics != nil {
		c.serveMetrics = *o.serveMetrics
	}

	if g, ok := o.registerer.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	c.obs = o.observability
	if c.obs == nil {
		logger := o.logger
		if logger == nil {
			var err error
			logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return nil, err
			}
			c.closers = append(c.closers, func() error { _ = logger.Sync(); return nil })
		}
		c.obs = observability.NewPromObs(o.registerer, logger)
	}

	c.client = o.client
	if c.client == nil {
		sess, err := kinesis.NewSession(cfg.Stream.Region, cfg.Stream.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		c.client = kinesis.New(sess)
	}

	c.checkpointer = o.checkpointer
	if c.checkpointer == nil {
		cp, closer, err := openCheckpointer(context.Background(), cfg, c.checkpointName())
		if err != nil {
			c.close()
			return nil, err
		}
		c.checkpointer = cp
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}

	retry := o.retry
	if retry == nil {
		var err error
		retry, err = cfg.RetryPolicy()
		if err != nil {
			c.close()
			return nil, err
		}
	}

	c.supervisor = pipeline.NewSupervisor(cfg.Stream.Name, pipeline.Deps{
		Client:       c.client,
		Checkpointer: c.checkpointer,
		Hooks:        c.hooks,
		Policy:       cfg.Policy(),
		Retry:        retry,
		Obs:          c.obs,
	})
	return c, nil
}

// ID is a random identifier for this process's consumer instance.
func (c *Consumer) ID() string { return c.id }

// checkpointName keys this consumer's rows in shared checkpoint stores. It
// must survive restarts, so it falls back to the stream name, not the ID.
func (c *Consumer) checkpointName() string {
	if c.cfg.Consumer.Name != "" {
		return c.cfg.Consumer.Name
	}
	return c.cfg.Stream.Name
}

// Transform registers a hook that may filter or replace each batch's
// records. The most recently registered transform runs first.
func (c *Consumer) Transform(fn TransformFunc) *Consumer {
	c.hooks.OnTransform(fn)
	return c
}

// AfterConsume registers a hook receiving every transformed batch.
func (c *Consumer) AfterConsume(fn AfterConsumeFunc) *Consumer {
	c.hooks.OnAfterConsume(fn)
	return c
}

// TeardownConsumer registers a hook run when a shard worker exits and once
// more, with an empty shard ID, when Run returns.
func (c *Consumer) TeardownConsumer(fn TeardownFunc) *Consumer {
	c.hooks.OnTeardown(fn)
	return c
}

// Run consumes the stream until ctx is cancelled or discovery fails. It
// returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if c.serveMetrics {
		c.startMetrics()
	}
	c.obs.LogInfo("consumer_started",
		ports.Field{Key: "stream", Value: c.cfg.Stream.Name},
		ports.Field{Key: "consumer_id", Value: c.id},
		ports.Field{Key: "checkpoint_name", Value: c.checkpointName()},
	)

	err := c.supervisor.Dispatch(ctx)

	cause := err
	if ports.Classify(err) == ports.ErrorCanceled {
		cause = nil
	}
	sc := pipeline.NewShardContext(c.cfg.Stream.Name, "", c.obs)
	if terr := c.hooks.RunTeardown(context.WithoutCancel(ctx), sc, cause); terr != nil {
		c.obs.LogError("teardown_hook_failed", terr, sc.Fields()...)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := c.shutdown(shutdownCtx); serr != nil {
		cause = errors.Join(cause, serr)
	}
	if cause != nil {
		c.obs.LogError("consumer_stopped", cause, ports.Field{Key: "stream", Value: c.cfg.Stream.Name})
	} else {
		c.obs.LogInfo("consumer_stopped", ports.Field{Key: "stream", Value: c.cfg.Stream.Name})
	}
	return cause
}

// Shards reports every tracked shard worker.
func (c *Consumer) Shards() []ShardStatus {
	ids := c.supervisor.Tracked()
	out := make([]ShardStatus, 0, len(ids))
	for _, id := range ids {
		w, ok := c.supervisor.Worker(id)
		if !ok {
			continue
		}
		st := ShardStatus{ShardID: id, State: w.State().String(), Sequence: w.Sequence()}
		if err := w.Err(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Checkpoints returns a snapshot of every stored checkpoint.
func (c *Consumer) Checkpoints(ctx context.Context) (map[string]string, error) {
	return c.checkpointer.GetCheckpoints(ctx)
}

// Describe asks the stream service for the current stream description.
func (c *Consumer) Describe(ctx context.Context) (Stream, error) {
	return c.client.DescribeStream(ctx, c.cfg.Stream.Name)
}

// Close releases the checkpoint backend without running. Run does this on
// its own way out.
func (c *Consumer) Close() error {
	if c.running.Load() {
		return nil
	}
	return c.close()
}

func (c *Consumer) shutdown(ctx context.Context) error {
	var errs []error
	if c.metricsSrv != nil {
		if err := c.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if err := c.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Consumer) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Consumer) startMetrics() {
	handler := promhttp.Handler()
	if c.gatherer != nil {
		handler = promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	c.metricsSrv = &http.Server{
		Addr:              c.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := c.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.obs.LogError("metrics_server_exited", err, ports.Field{Key: "addr", Value: srv.Addr})
		}
	}()
}
