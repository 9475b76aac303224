// Package coordinator replays the pending action queue whenever the
// device is online.
//
// A Coordinator watches a network.Observer. On every offline to online
// transition it flushes the queue in the background; SyncNow flushes on
// demand. At most one flush runs at a time: a trigger that arrives during
// a flush is coalesced into one more pass after it.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/offlinesync/internal/cache"
	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/network"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

// LastSyncKey is the cache key holding the last flush time in epoch
// milliseconds.
const LastSyncKey = "last_sync"

// State is a snapshot of the coordinator.
type State struct {
	IsOnline     bool
	IsSyncing    bool
	PendingCount int

	// LastSyncAt is nil until the first completed flush.
	LastSyncAt *time.Time
}

// FlushResult describes one pass over the queue.
type FlushResult struct {
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time

	Attempted    int
	Succeeded    int
	Failed       int
	DeadLettered int
	// Skipped counts actions still held back by the retry policy.
	Skipped int
	// Interrupted is set when the context ended the pass early.
	Interrupted bool
}

// Coordinator drives queue replay.
type Coordinator struct {
	queue    *queue.Queue
	observer network.Observer
	handler  Handler

	now              func() time.Time
	lastSyncStore    *cache.Cache
	handlerTimeout   time.Duration
	periodicInterval time.Duration
	onFlush          func(FlushResult)
	metrics          *telemetry.Metrics

	mu          sync.Mutex
	started     bool
	closed      bool
	online      bool
	syncing     bool
	rerun       bool
	waiters     int
	done        chan struct{}
	lastSyncAt  time.Time
	lastResult  *FlushResult
	unsubscribe func()
	baseCtx     context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithLastSyncStore persists the last flush time in c under LastSyncKey
// and restores it on Start.
func WithLastSyncStore(c *cache.Cache) Option {
	return func(co *Coordinator) {
		co.lastSyncStore = c
	}
}

// WithHandlerTimeout bounds each handler call. Zero means no bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.handlerTimeout = d
	}
}

// WithPeriodicFlush flushes every interval while online, so actions held
// back by the retry policy are retried without waiting for a reconnect.
func WithPeriodicFlush(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.periodicInterval = interval
	}
}

// WithOnFlush registers fn to receive every flush result.
func WithOnFlush(fn func(FlushResult)) Option {
	return func(c *Coordinator) {
		c.onFlush = fn
	}
}

// WithMetrics records flush activity.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a coordinator. Call Start to begin watching connectivity.
func New(q *queue.Queue, observer network.Observer, handler Handler, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:    q,
		observer: observer,
		handler:  handler,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start restores the last sync time and subscribes to the observer. The
// state before the first report is offline, so an initial online report
// triggers a flush. Background flushes run under a context derived from
// ctx. Calling Start again is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalid, "coordinator is closed")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	if c.lastSyncStore != nil {
		if ms, ok := cache.Get[int64](ctx, c.lastSyncStore, LastSyncKey); ok {
			c.lastSyncAt = time.UnixMilli(ms)
		}
	}
	c.mu.Unlock()

	unsubscribe := c.observer.Subscribe(c.onNetworkChange)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	if c.periodicInterval > 0 && !c.closed {
		c.wg.Add(1)
		go c.periodicLoop()
	}
	c.mu.Unlock()

	c.metrics.SetPending(c.queue.Len(ctx))
	logging.Info("Sync coordinator started", map[string]interface{}{
		"periodic_interval_ms": c.periodicInterval.Milliseconds(),
	})
	return nil
}

// Close unsubscribes, stops periodic flushing, cancels an in-flight
// flush and waits for it to return. It is safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	cancel := c.cancel
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(c.stopCh)
	// cancel first so a handler stuck without a timeout cannot block Close;
	// the interrupted pass leaves its remaining actions queued
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	logging.Info("Sync coordinator stopped")
	return nil
}

// State returns a snapshot. PendingCount is read from the queue.
func (c *Coordinator) State() State {
	c.mu.Lock()
	s := State{
		IsOnline:  c.online,
		IsSyncing: c.syncing,
	}
	if !c.lastSyncAt.IsZero() {
		t := c.lastSyncAt
		s.LastSyncAt = &t
	}
	c.mu.Unlock()

	s.PendingCount = c.queue.Len(context.Background())
	return s
}

// LastResult returns the result of the most recent flush.
func (c *Coordinator) LastResult() (FlushResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResult == nil {
		return FlushResult{}, false
	}
	return *c.lastResult, true
}

// QueueAction enqueues an action for replay.
func (c *Coordinator) QueueAction(ctx context.Context, kind string, payload any) (string, error) {
	return c.queue.Enqueue(ctx, kind, payload)
}

// SyncNow flushes the queue and returns the result. Offline, it returns an
// OFFLINE error and touches nothing. When a flush is already running the
// request is coalesced: it waits for that flush and the one extra pass it
// schedules, and returns the last result.
func (c *Coordinator) SyncNow(ctx context.Context) (*FlushResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrInvalid, "coordinator is closed")
	}
	if !c.online {
		c.mu.Unlock()
		logging.Warn("Cannot sync while offline")
		return nil, apperrors.New(apperrors.ErrOffline, "cannot sync while offline")
	}
	if c.syncing {
		c.rerun = true
		c.waiters++
		done := c.done
		logging.Debug("Sync already in progress, coalescing", map[string]interface{}{
			"waiters": c.waiters,
		})
		c.mu.Unlock()

		defer func() {
			c.mu.Lock()
			c.waiters--
			c.mu.Unlock()
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		res, _ := c.LastResult()
		return &res, nil
	}
	c.beginLocked()
	base := c.baseCtx
	c.mu.Unlock()

	// Close cancels manual flushes too
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(base, cancel)
	defer stop()

	return c.run(ctx, telemetry.TriggerManual), nil
}

// Wait blocks until no flush is running.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	if !c.syncing {
		c.mu.Unlock()
		return
	}
	done := c.done
	c.mu.Unlock()
	<-done
}

// onNetworkChange handles an observer report.
func (c *Coordinator) onNetworkChange(s network.State) {
	online := s.Online()

	c.mu.Lock()
	defer c.mu.Unlock()

	wasOnline := c.online
	c.online = online
	c.metrics.SetOnline(online)

	if wasOnline != online {
		logging.Info("Online status changed", map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  online,
		})
	}
	if online && !wasOnline {
		c.triggerLocked(telemetry.TriggerReconnect)
	}
}

// periodicLoop flushes on every tick while online and idle.
func (c *Coordinator) periodicLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.periodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.baseCtx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			switch {
			case !c.online:
			case c.syncing:
				logging.Debug("Sync already in progress, skipping periodic flush")
			default:
				c.triggerLocked(telemetry.TriggerPeriodic)
			}
			c.mu.Unlock()
		}
	}
}

// triggerLocked starts a background flush, or marks a rerun when one is
// running. Callers hold c.mu.
func (c *Coordinator) triggerLocked(trigger string) {
	if c.closed || !c.started {
		return
	}
	if c.syncing {
		c.rerun = true
		return
	}
	c.beginLocked()
	go c.run(c.baseCtx, trigger)
}

// beginLocked claims the flush slot. Callers hold c.mu and have checked
// that no flush is running.
func (c *Coordinator) beginLocked() {
	c.syncing = true
	c.rerun = false
	c.done = make(chan struct{})
	c.wg.Add(1)
}

// run flushes, repeating once per coalesced trigger while still online,
// then releases the flush slot.
func (c *Coordinator) run(ctx context.Context, trigger string) *FlushResult {
	defer c.wg.Done()

	for {
		res := c.flush(ctx, trigger)

		c.mu.Lock()
		c.lastResult = res
		if c.rerun && c.online && !c.closed && ctx.Err() == nil {
			c.rerun = false
			c.mu.Unlock()
			trigger = telemetry.TriggerRerun
			continue
		}
		c.rerun = false
		c.syncing = false
		close(c.done)
		c.mu.Unlock()
		return res
	}
}
