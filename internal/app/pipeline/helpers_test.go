package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ghalamif/kinsumer/internal/adapters/checkpoint"
	"github.com/ghalamif/kinsumer/internal/adapters/memstream"
	"github.com/ghalamif/kinsumer/internal/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	critical []error
	warnings []string
	counters map[string]float64
	gauges   map[string]float64
}

func newMockObs() *mockObs {
	return &mockObs{counters: make(map[string]float64), gauges: make(map[string]float64)}
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogWarn(msg string, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, msg)
}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}
func (m *mockObs) LogCritical(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critical = append(m.critical, err)
}
func (m *mockObs) IncCounter(name, _ string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, string, float64) {}
func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockObs) gauge(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func (m *mockObs) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

// recordedSleep never blocks; it records the requested delays.
type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleep) calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// batchSink collects every batch seen by the after-consume chain.
type batchSink struct {
	mu      sync.Mutex
	batches []Batch
}

func (b *batchSink) hook(_ context.Context, batch Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	return nil
}

func (b *batchSink) all() []Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Batch(nil), b.batches...)
}

func (b *batchSink) recordCount() int {
	n := 0
	for _, batch := range b.all() {
		n += len(batch.Records)
	}
	return n
}

func testPolicy() ports.Policy {
	return ports.Policy{
		StartIteratorType: ports.IteratorTrimHorizon,
		ReadLimit:         50,
		PollInterval:      time.Second,
		MonitorInterval:   time.Hour,
		OverhangThreshold: 30 * time.Second,
		BucketSizeLimit:   1,
		BucketCountLimit:  1,
	}
}

type fixture struct {
	stream *memstream.Stream
	cp     *checkpoint.MemoryCheckpointer
	obs    *mockObs
	sleep  *recordedSleep
	sink   *batchSink
	hooks  *Hooks
	deps   Deps
}

func newFixture(pol ports.Policy, shardIDs ...string) *fixture {
	f := &fixture{
		stream: memstream.New("events", shardIDs...),
		cp:     checkpoint.NewMemoryCheckpointer(),
		obs:    newMockObs(),
		sleep:  &recordedSleep{},
		sink:   &batchSink{},
		hooks:  &Hooks{},
	}
	f.hooks.OnAfterConsume(f.sink.hook)
	f.deps = Deps{
		Client:       f.stream,
		Checkpointer: f.cp,
		Hooks:        f.hooks,
		Policy:       pol,
		Obs:          f.obs,
		sleep:        f.sleep.sleep,
	}
	return f
}

func (f *fixture) put(t *testing.T, shardID string, n int) []string {
	t.Helper()
	seqs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		r, err := f.stream.Put(shardID, "pk", []byte{byte(i)})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		seqs = append(seqs, r.SequenceNumber)
	}
	return seqs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
