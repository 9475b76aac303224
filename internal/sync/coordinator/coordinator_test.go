package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/offlinesync/internal/cache"
	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/network"
	"github.com/kimhsiao/offlinesync/internal/storage"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// recordingHandler records the kinds it was called with and fails the
// kinds listed in fail.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (h *recordingHandler) Handle(_ context.Context, a queue.Action) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, a.Kind)
	return h.fail[a.Kind]
}

func (h *recordingHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type flushLog struct {
	mu      sync.Mutex
	results []FlushResult
}

func (l *flushLog) record(r FlushResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *flushLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

func (l *flushLog) Triggers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.results))
	for i, r := range l.results {
		out[i] = r.Trigger
	}
	return out
}

type fixture struct {
	store    *storage.Memory
	clock    *fakeClock
	queue    *queue.Queue
	observer *network.Manual
	flushes  *flushLog
}

func newFixture(t *testing.T, initial network.State, qopts ...queue.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemory(),
		clock:    newFakeClock(),
		observer: network.NewManual(initial),
		flushes:  &flushLog{},
	}
	f.queue = queue.New(f.store, append([]queue.Option{queue.WithClock(f.clock.Now)}, qopts...)...)
	return f
}

func (f *fixture) start(t *testing.T, h Handler, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithClock(f.clock.Now), WithOnFlush(f.flushes.record)}, opts...)
	c := New(f.queue, f.observer, h, opts...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *fixture) enqueue(t *testing.T, kinds ...string) []string {
	t.Helper()
	ids := make([]string, len(kinds))
	for i, k := range kinds {
		id, err := f.queue.Enqueue(context.Background(), k, map[string]string{"kind": k})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func pendingKinds(q *queue.Queue) []string {
	actions := q.List(context.Background())
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

// =====================================================
// SyncNow Tests
// =====================================================

func TestSyncNow_offlineIsNoOp(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	h := &recordingHandler{}
	c := f.start(t, h)
	f.enqueue(t, "A", "B")

	res, err := c.SyncNow(context.Background())
	assert.Nil(t, res)
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))

	assert.Empty(t, h.Calls())
	assert.Equal(t, []string{"A", "B"}, pendingKinds(f.queue))
	state := c.State()
	assert.False(t, state.IsOnline)
	assert.False(t, state.IsSyncing)
	assert.Equal(t, 2, state.PendingCount)
	assert.Nil(t, state.LastSyncAt)
	assert.Zero(t, f.flushes.Len())
}

func TestSyncNow_partialFailure(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	h := &recordingHandler{fail: map[string]error{"B": errors.New("503")}}
	c := f.start(t, h)
	f.enqueue(t, "A", "B")

	f.clock.Advance(time.Minute)
	flushTime := f.clock.Now()
	f.observer.Set(network.Connected(true))
	c.Wait()

	assert.Equal(t, []string{"A", "B"}, h.Calls())
	assert.Equal(t, []string{"B"}, pendingKinds(f.queue))

	state := c.State()
	assert.True(t, state.IsOnline)
	assert.Equal(t, 1, state.PendingCount)
	require.NotNil(t, state.LastSyncAt)
	assert.True(t, flushTime.Equal(*state.LastSyncAt))

	b := f.queue.List(context.Background())[0]
	assert.Equal(t, 1, b.RetryCount)
	assert.Contains(t, b.LastError, "503")

	res, ok := c.LastResult()
	require.True(t, ok)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.DeadLettered)
}

func TestSyncNow_manual(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	h := &recordingHandler{}
	c := f.start(t, h)
	c.Wait()

	f.enqueue(t, "A", "B", "C")
	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, telemetry.TriggerManual, res.Trigger)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, []string{"A", "B", "C"}, h.Calls(), "replayed in enqueue order")
	assert.Zero(t, c.State().PendingCount)
}

func TestSyncNow_skipsHeldBackActions(t *testing.T) {
	f := newFixture(t, network.Connected(true), queue.WithRetryPolicy(queue.RetryPolicy{
		InitialInterval: time.Minute,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	}))
	h := &recordingHandler{fail: map[string]error{"A": errors.New("down")}}
	c := f.start(t, h)
	c.Wait()

	f.enqueue(t, "A", "B")
	_, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, h.Calls())

	delete(h.fail, "A")
	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, []string{"A"}, pendingKinds(f.queue))

	f.clock.Advance(time.Minute)
	res, err = c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, pendingKinds(f.queue))
}

func TestSyncNow_deadLetters(t *testing.T) {
	f := newFixture(t, network.Connected(true), queue.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 2}))
	h := &recordingHandler{fail: map[string]error{"A": errors.New("500")}}
	c := f.start(t, h)
	c.Wait()

	f.enqueue(t, "A", "B")

	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.DeadLettered)

	f.enqueue(t, "C")
	res, err = c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
	assert.Equal(t, 1, res.Succeeded)

	assert.Empty(t, pendingKinds(f.queue))
	letters := f.queue.DeadLetters(context.Background())
	require.Len(t, letters, 1)
	assert.Equal(t, "A", letters[0].Kind)
}

func TestSyncNow_closed(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	c := f.start(t, &recordingHandler{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.SyncNow(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
	assert.True(t, apperrors.Is(c.Start(context.Background()), apperrors.ErrInvalid))
}

func TestQueueAction(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	c := f.start(t, &recordingHandler{})
	f.enqueue(t, "A")
	require.Equal(t, 1, c.State().PendingCount)

	id, err := c.QueueAction(context.Background(), "cart/add", map[string]int{"sku": 7})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, c.State().PendingCount)

	actions := f.queue.List(context.Background())
	require.Len(t, actions, 2)
	added := actions[1]
	assert.Equal(t, id, added.ID)
	assert.Equal(t, "cart/add", added.Kind)
	assert.Zero(t, added.RetryCount)
	assert.JSONEq(t, `{"sku":7}`, string(added.Payload))
	assert.True(t, f.clock.Now().Equal(added.EnqueuedAt))

	_, err = c.QueueAction(context.Background(), "", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
	assert.Equal(t, 2, c.State().PendingCount)
}

// =====================================================
// Connectivity Tests
// =====================================================

func TestReconnect_flushesExactlyOnce(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	h := &recordingHandler{}
	c := f.start(t, h)

	f.enqueue(t, "A")
	f.observer.Set(network.Disconnected())
	f.observer.Set(network.Connected(true))
	f.observer.Set(network.Connected(true))
	f.observer.Set(network.State{IsConnected: true})
	c.Wait()

	assert.Equal(t, 1, f.flushes.Len())
	assert.Equal(t, []string{telemetry.TriggerReconnect}, f.flushes.Triggers())
	assert.Equal(t, []string{"A"}, h.Calls())
}

func TestReconnect_initialOnlineReportFlushes(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	f.enqueue(t, "A")
	h := &recordingHandler{}
	c := f.start(t, h)
	c.Wait()

	assert.Equal(t, []string{"A"}, h.Calls())
	assert.Equal(t, 1, f.flushes.Len())
}

func TestReconnect_unreachableIsOffline(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	h := &recordingHandler{}
	c := f.start(t, h)
	f.enqueue(t, "A")

	f.observer.Set(network.Connected(false))
	c.Wait()

	assert.False(t, c.State().IsOnline)
	assert.Empty(t, h.Calls())
}

func TestReconnect_eachOutageFlushes(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	h := &recordingHandler{}
	c := f.start(t, h)

	for i := 0; i < 3; i++ {
		f.enqueue(t, "A")
		f.observer.Set(network.Connected(true))
		c.Wait()
		f.observer.Set(network.Disconnected())
	}

	assert.Equal(t, 3, f.flushes.Len())
	assert.Len(t, h.Calls(), 3)
}

func TestOffline_duringFlush(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	h := HandlerFunc(func(context.Context, queue.Action) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		return nil
	})
	c := f.start(t, h)
	f.enqueue(t, "A", "B")

	f.observer.Set(network.Connected(true))
	<-entered

	f.observer.Set(network.Disconnected())
	state := c.State()
	assert.False(t, state.IsOnline, "offline is reported immediately")
	assert.True(t, state.IsSyncing)

	close(release)
	c.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "in-flight pass runs to completion")
	assert.False(t, c.State().IsSyncing)
	assert.Empty(t, pendingKinds(f.queue))
}

// =====================================================
// Single-Flight Tests
// =====================================================

func TestSyncNow_singleFlight(t *testing.T) {
	f := newFixture(t, network.Disconnected())

	var active, maxActive int32
	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	var seenMu sync.Mutex
	var seen []string
	h := HandlerFunc(func(_ context.Context, a queue.Action) error {
		seenMu.Lock()
		seen = append(seen, a.Kind)
		seenMu.Unlock()
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		return nil
	})
	c := f.start(t, h)
	f.enqueue(t, "A")

	f.observer.Set(network.Connected(true))
	<-entered

	var wg sync.WaitGroup
	results := make([]*FlushResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.SyncNow(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.waiters == len(results)
	}, time.Second, time.Millisecond)

	f.enqueue(t, "B")
	close(release)
	wg.Wait()
	c.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	assert.Equal(t, []string{telemetry.TriggerReconnect, telemetry.TriggerRerun}, f.flushes.Triggers(),
		"concurrent triggers coalesce into one extra pass")

	seenMu.Lock()
	assert.Equal(t, []string{"A", "B"}, seen, "each action is replayed once")
	seenMu.Unlock()
	f.flushes.mu.Lock()
	passes := append([]FlushResult(nil), f.flushes.results...)
	f.flushes.mu.Unlock()
	require.Len(t, passes, 2)
	assert.Equal(t, 1, passes[0].Attempted, "an action enqueued mid-pass waits for the next pass")
	assert.Equal(t, 1, passes[0].Succeeded)
	assert.Equal(t, 1, passes[1].Attempted)
	assert.Equal(t, 1, passes[1].Succeeded)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, telemetry.TriggerRerun, res.Trigger)
	}
	assert.Empty(t, pendingKinds(f.queue))
}

func TestSyncNow_waitRespectsContext(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	entered := make(chan struct{})
	release := make(chan struct{})
	c := f.start(t, HandlerFunc(func(context.Context, queue.Action) error {
		close(entered)
		<-release
		return nil
	}))
	f.enqueue(t, "A")
	f.observer.Set(network.Connected(true))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.SyncNow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	c.Wait()
}

// =====================================================
// Handler Failure Tests
// =====================================================

func TestFlush_handlerPanic(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	c := f.start(t, HandlerFunc(func(_ context.Context, a queue.Action) error {
		if a.Kind == "boom" {
			panic("nil map")
		}
		return nil
	}))
	c.Wait()
	f.enqueue(t, "boom", "ok")

	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Succeeded)

	actions := f.queue.List(context.Background())
	require.Len(t, actions, 1)
	assert.Equal(t, "boom", actions[0].Kind)
	assert.Contains(t, actions[0].LastError, "HANDLER_FAILED")
}

func TestFlush_handlerTimeout(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	c := f.start(t, HandlerFunc(func(ctx context.Context, _ queue.Action) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithHandlerTimeout(5*time.Millisecond))
	c.Wait()
	f.enqueue(t, "slow")

	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Interrupted)
	assert.Equal(t, 1, f.queue.List(context.Background())[0].RetryCount)
}

func TestFlush_cancelledLeavesActionsUntouched(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	ctx, cancel := context.WithCancel(context.Background())
	c := f.start(t, HandlerFunc(func(hctx context.Context, a queue.Action) error {
		if a.Kind == "A" {
			return nil
		}
		cancel()
		<-hctx.Done()
		return hctx.Err()
	}))
	c.Wait()
	f.enqueue(t, "A", "B", "C")

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Failed)

	actions := f.queue.List(context.Background())
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Zero(t, a.RetryCount)
	}
}

// hungHandler blocks until its context is cancelled.
func hungHandler(entered chan<- string) Handler {
	return HandlerFunc(func(ctx context.Context, a queue.Action) error {
		entered <- a.Kind
		<-ctx.Done()
		return ctx.Err()
	})
}

func closeWithin(t *testing.T, c *Coordinator, d time.Duration) {
	t.Helper()
	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(d):
		t.Fatal("Close blocked on an in-flight handler")
	}
}

func TestClose_cancelsHungReconnectFlush(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	entered := make(chan string, 1)
	c := f.start(t, hungHandler(entered))
	f.enqueue(t, "A", "B")

	f.observer.Set(network.Connected(true))
	assert.Equal(t, "A", <-entered)

	closeWithin(t, c, 5*time.Second)

	assert.False(t, c.State().IsSyncing)
	res, ok := c.LastResult()
	require.True(t, ok)
	assert.True(t, res.Interrupted)
	assert.Zero(t, res.Attempted)

	actions := f.queue.List(context.Background())
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Zero(t, a.RetryCount, "an interrupted pass charges no retry")
	}
}

func TestClose_cancelsHungManualFlush(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	entered := make(chan string, 1)
	c := f.start(t, hungHandler(entered))
	c.Wait()
	f.enqueue(t, "A")

	results := make(chan *FlushResult, 1)
	go func() {
		res, err := c.SyncNow(context.Background())
		assert.NoError(t, err)
		results <- res
	}()
	<-entered

	closeWithin(t, c, 5*time.Second)

	res := <-results
	require.NotNil(t, res)
	assert.True(t, res.Interrupted)
	assert.Equal(t, []string{"A"}, pendingKinds(f.queue))
	assert.Zero(t, f.queue.List(context.Background())[0].RetryCount)
}

func TestRouter(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	router := NewRouter()
	var added int32
	router.RegisterFunc("cart/add", func(context.Context, queue.Action) error {
		atomic.AddInt32(&added, 1)
		return nil
	})
	c := f.start(t, router)
	c.Wait()
	f.enqueue(t, "cart/add", "unknown/kind")

	res, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&added))
	assert.Equal(t, 1, res.DeadLettered, "unknown kinds are rejected")
	assert.Empty(t, pendingKinds(f.queue))

	router.Fallback(HandlerFunc(func(context.Context, queue.Action) error { return nil }))
	assert.NoError(t, router.Handle(context.Background(), queue.Action{Kind: "other"}))
}

// =====================================================
// Last Sync / Periodic / Metrics Tests
// =====================================================

func TestLastSync_persisted(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	lastSync := cache.New(f.store, cache.WithClock(f.clock.Now))
	c := f.start(t, &recordingHandler{}, WithLastSyncStore(lastSync))
	c.Wait()
	flushed := f.clock.Now()
	require.NoError(t, c.Close())

	ms, ok := cache.Get[int64](context.Background(), lastSync, LastSyncKey)
	require.True(t, ok)
	assert.Equal(t, flushed.UnixMilli(), ms)

	other := New(f.queue, network.NewManual(network.Disconnected()), &recordingHandler{},
		WithLastSyncStore(lastSync))
	require.NoError(t, other.Start(context.Background()))
	defer other.Close()

	state := other.State()
	require.NotNil(t, state.LastSyncAt)
	assert.Equal(t, flushed.UnixMilli(), state.LastSyncAt.UnixMilli())
}

func TestPeriodicFlush(t *testing.T) {
	f := newFixture(t, network.Connected(true))
	c := f.start(t, &recordingHandler{}, WithPeriodicFlush(5*time.Millisecond))

	require.Eventually(t, func() bool {
		for _, tr := range f.flushes.Triggers() {
			if tr == telemetry.TriggerPeriodic {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	n := f.flushes.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, f.flushes.Len(), "no flushes after Close")
}

func TestPeriodicFlush_offline(t *testing.T) {
	f := newFixture(t, network.Disconnected())
	f.start(t, &recordingHandler{}, WithPeriodicFlush(2*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.flushes.Len())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	f := newFixture(t, network.Disconnected(), queue.WithMetrics(m))
	h := &recordingHandler{fail: map[string]error{"B": errors.New("x")}}
	c := f.start(t, h, WithMetrics(m))
	f.enqueue(t, "A", "B")

	f.observer.Set(network.Connected(true))
	c.Wait()

	assert.Equal(t, 1.0, gatherValue(t, reg, "offlinesync_flushes_total", "trigger", telemetry.TriggerReconnect))
	assert.Equal(t, 1.0, gatherValue(t, reg, "offlinesync_actions_total", "result", telemetry.ResultSucceeded))
	assert.Equal(t, 1.0, gatherValue(t, reg, "offlinesync_actions_total", "result", telemetry.ResultFailed))
	assert.Equal(t, 2.0, gatherValue(t, reg, "offlinesync_actions_total", "result", telemetry.ResultEnqueued))
	assert.Equal(t, 1.0, gatherValue(t, reg, "offlinesync_pending_actions", "", ""))
	assert.Equal(t, 1.0, gatherValue(t, reg, "offlinesync_online", "", ""))
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" {
				match := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}
