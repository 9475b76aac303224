// Package queue provides the durable pending action queue used while offline.
//
// The whole queue is one JSON array under a single storage key. Every
// mutation is a read-modify-write of that array, serialized by the queue's
// mutex and applied through storage.Update, so concurrent producers never
// lose each other's writes.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/kimhsiao/offlinesync/internal/cache"
	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/storage"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
	"github.com/kimhsiao/offlinesync/internal/uuid"
)

// Storage keys, relative to the namespace.
const (
	PendingKey    = "pending_actions"
	DeadLetterKey = "dead_letters"
)

const component = "queue"

// Action is a user mutation waiting to be replayed.
type Action struct {
	ID         string
	Kind       string
	Payload    json.RawMessage
	EnqueuedAt time.Time
	RetryCount int

	// NextAttemptAt is zero until the first failure.
	NextAttemptAt time.Time
	LastError     string
}

// Ready reports whether the action may be replayed at now.
func (a Action) Ready(now time.Time) bool {
	return a.NextAttemptAt.IsZero() || !a.NextAttemptAt.After(now)
}

// Decode unmarshals the payload into dst.
func (a Action) Decode(dst any) error {
	if err := json.Unmarshal(a.Payload, dst); err != nil {
		return apperrors.Wrap(apperrors.ErrDecode, "failed to unmarshal action payload", err)
	}
	return nil
}

// record is the persisted form of an Action.
type record struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"`
	RetryCount    int             `json:"retryCount"`
	NextAttemptAt int64           `json:"nextAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

func (a Action) toRecord() record {
	r := record{
		ID:         a.ID,
		Type:       a.Kind,
		Payload:    a.Payload,
		Timestamp:  a.EnqueuedAt.UnixMilli(),
		RetryCount: a.RetryCount,
		LastError:  a.LastError,
	}
	if !a.NextAttemptAt.IsZero() {
		r.NextAttemptAt = a.NextAttemptAt.UnixMilli()
	}
	return r
}

func fromRecord(r record) Action {
	a := Action{
		ID:         r.ID,
		Kind:       r.Type,
		Payload:    r.Payload,
		EnqueuedAt: time.UnixMilli(r.Timestamp),
		RetryCount: r.RetryCount,
		LastError:  r.LastError,
	}
	if r.NextAttemptAt > 0 {
		a.NextAttemptAt = time.UnixMilli(r.NextAttemptAt)
	}
	return a
}

// Stats summarises the queue.
type Stats struct {
	Pending      int
	Ready        int
	DeadLettered int
}

// Queue is a durable FIFO of pending actions.
type Queue struct {
	mu        sync.Mutex
	store     storage.Store
	namespace string
	now       func() time.Time
	newID     func() string
	policy    RetryPolicy
	metrics   *telemetry.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithNamespace sets the key prefix.
func WithNamespace(ns string) Option {
	return func(q *Queue) {
		q.namespace = ns
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(newID func() string) Option {
	return func(q *Queue) {
		q.newID = newID
	}
}

// WithRetryPolicy sets the failure policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) {
		q.policy = p
	}
}

// WithMetrics records queue activity.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// New creates a queue over store.
func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		namespace: cache.DefaultNamespace,
		now:       time.Now,
		newID:     uuid.New,
		policy:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the retry policy in use.
func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// errUnchanged tells mutate to leave the stored list as it is.
var errUnchanged = stderrors.New("unchanged")

func decodeList(raw string, ok bool) ([]record, error) {
	if !ok {
		return nil, nil
	}
	var recs []record
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecode, "failed to unmarshal queue", err)
	}
	return recs, nil
}

// readLocked reads the list stored under key. Callers hold q.mu.
func (q *Queue) readLocked(ctx context.Context, key string) ([]record, error) {
	raw, ok, err := q.store.Get(ctx, q.namespace+key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read queue", err)
	}
	return decodeList(raw, ok)
}

// mutateLocked rewrites the list stored under key with fn's result. The
// stored list is left untouched when fn fails or returns errUnchanged.
// It returns the length of the resulting list. Callers hold q.mu.
func (q *Queue) mutateLocked(ctx context.Context, key string, fn func([]record) ([]record, error)) (int, error) {
	var n int
	err := storage.Update(ctx, q.store, q.namespace+key, func(cur string, ok bool) (string, bool, error) {
		recs, err := decodeList(cur, ok)
		if err != nil {
			return "", false, err
		}
		next, err := fn(recs)
		if stderrors.Is(err, errUnchanged) {
			n = len(recs)
			return cur, ok, nil
		}
		if err != nil {
			return "", false, err
		}
		if next == nil {
			next = []record{}
		}
		data, err := json.Marshal(next)
		if err != nil {
			return "", false, apperrors.Wrap(apperrors.ErrEncode, "failed to marshal queue", err)
		}
		n = len(next)
		return string(data), true, nil
	})
	return n, err
}

func (q *Queue) recover(op string, err error, context map[string]interface{}) {
	code := apperrors.CodeOf(err)
	q.metrics.RecordStorageError(component, string(code))
	logging.ErrorWithCode("Queue "+op+" failed", string(code), err, context)
}

// Enqueue appends an action and returns its id.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	if kind == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "action kind is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrEncode, "failed to marshal action payload", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rec := record{
		ID:        q.newID(),
		Type:      kind,
		Payload:   data,
		Timestamp: q.now().UnixMilli(),
	}
	n, err := q.mutateLocked(ctx, PendingKey, func(recs []record) ([]record, error) {
		for _, r := range recs {
			if r.ID == rec.ID {
				return nil, apperrors.Newf(apperrors.ErrDuplicate, "action id %s is already queued", rec.ID)
			}
		}
		return append(recs, rec), nil
	})
	if err != nil {
		q.recover("enqueue", err, map[string]interface{}{"kind": kind})
		return "", err
	}

	q.metrics.RecordAction(telemetry.ResultEnqueued)
	q.metrics.SetPending(n)
	logging.Info("Enqueued pending action", map[string]interface{}{
		"action_id": rec.ID,
		"kind":      kind,
		"pending":   n,
	})
	return rec.ID, nil
}

// List returns all pending actions in enqueue order. A missing or
// unreadable queue is empty.
func (q *Queue) List(ctx context.Context) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked(ctx, PendingKey)
}

func (q *Queue) listLocked(ctx context.Context, key string) []Action {
	recs, err := q.readLocked(ctx, key)
	if err != nil {
		q.recover("read", err, map[string]interface{}{"key": key})
		return []Action{}
	}
	actions := make([]Action, len(recs))
	for i, r := range recs {
		actions[i] = fromRecord(r)
	}
	return actions
}

// Len returns the number of pending actions.
func (q *Queue) Len(ctx context.Context) int {
	return len(q.List(ctx))
}

// Remove deletes the action with id. Unknown ids are ignored.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.mutateLocked(ctx, PendingKey, func(recs []record) ([]record, error) {
		return without(recs, id)
	})
	if err != nil {
		q.recover("remove", err, map[string]interface{}{"action_id": id})
		return err
	}
	q.metrics.SetPending(n)
	return nil
}

// without returns recs minus id, keeping order, or errUnchanged.
func without(recs []record, id string) ([]record, error) {
	out := make([]record, 0, len(recs))
	for _, r := range recs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	if len(out) == len(recs) {
		return nil, errUnchanged
	}
	return out, nil
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(ctx, q.namespace+PendingKey); err != nil {
		q.recover("clear", err, nil)
		return err
	}
	q.metrics.SetPending(0)
	logging.Info("Pending action queue cleared")
	return nil
}

// Fail records a failed replay of id under the retry policy. It reports
// whether the action was moved to the dead-letter list, which happens when
// the policy is exhausted or cause carries ACTION_REJECTED.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	recs, err := q.readLocked(ctx, PendingKey)
	if err != nil {
		q.recover("fail", err, map[string]interface{}{"action_id": id})
		return false, err
	}
	idx := -1
	for i, r := range recs {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		// removed while the handler ran
		return false, nil
	}

	now := q.now()
	failed := recs[idx]
	failed.RetryCount++
	if cause != nil {
		failed.LastError = cause.Error()
	}

	if q.policy.Exhausted(failed.RetryCount) || apperrors.Is(cause, apperrors.ErrActionRejected) {
		return true, q.deadLetterLocked(ctx, failed)
	}

	delay := q.policy.Delay(failed.RetryCount)
	if delay > 0 {
		failed.NextAttemptAt = now.Add(delay).UnixMilli()
	}
	_, err = q.mutateLocked(ctx, PendingKey, func(recs []record) ([]record, error) {
		for i, r := range recs {
			if r.ID == id {
				recs[i] = failed
				return recs, nil
			}
		}
		return nil, errUnchanged
	})
	if err != nil {
		q.recover("fail", err, map[string]interface{}{"action_id": id})
		return false, err
	}

	logging.Warn("Pending action failed, will retry", map[string]interface{}{
		"action_id":   id,
		"kind":        failed.Type,
		"retry_count": failed.RetryCount,
		"max_retries": q.policy.MaxAttempts,
		"delay_ms":    delay.Milliseconds(),
	})
	return false, nil
}

// deadLetterLocked appends rec to the dead-letter list, then removes it
// from the queue. A crash in between leaves it in both lists; replaying
// an action twice is preferred to losing it.
func (q *Queue) deadLetterLocked(ctx context.Context, rec record) error {
	_, err := q.mutateLocked(ctx, DeadLetterKey, func(recs []record) ([]record, error) {
		for _, r := range recs {
			if r.ID == rec.ID {
				return nil, errUnchanged
			}
		}
		return append(recs, rec), nil
	})
	if err != nil {
		q.recover("dead-letter", err, map[string]interface{}{"action_id": rec.ID})
		return err
	}

	n, err := q.mutateLocked(ctx, PendingKey, func(recs []record) ([]record, error) {
		return without(recs, rec.ID)
	})
	if err != nil {
		q.recover("dead-letter", err, map[string]interface{}{"action_id": rec.ID})
		return err
	}

	q.metrics.SetPending(n)
	logging.ErrorWithCode("Pending action moved to dead letters", string(apperrors.ErrHandlerFailed), stderrors.New(rec.LastError),
		map[string]interface{}{
			"action_id":   rec.ID,
			"kind":        rec.Type,
			"retry_count": rec.RetryCount,
		})
	return nil
}

// DeadLetters returns the actions that exhausted the retry policy.
func (q *Queue) DeadLetters(ctx context.Context) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked(ctx, DeadLetterKey)
}

// RetryDeadLetters moves every dead letter back to the tail of the queue
// with its retry state reset, and returns how many were moved.
func (q *Queue) RetryDeadLetters(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dead, err := q.readLocked(ctx, DeadLetterKey)
	if err != nil {
		q.recover("retry dead letters", err, nil)
		return 0, err
	}
	if len(dead) == 0 {
		return 0, nil
	}

	n, err := q.mutateLocked(ctx, PendingKey, func(recs []record) ([]record, error) {
		queued := make(map[string]bool, len(recs))
		for _, r := range recs {
			queued[r.ID] = true
		}
		for _, r := range dead {
			if queued[r.ID] {
				continue
			}
			r.RetryCount = 0
			r.NextAttemptAt = 0
			r.LastError = ""
			recs = append(recs, r)
		}
		return recs, nil
	})
	if err != nil {
		q.recover("retry dead letters", err, nil)
		return 0, err
	}
	if err := q.store.Remove(ctx, q.namespace+DeadLetterKey); err != nil {
		q.recover("retry dead letters", err, nil)
		return 0, err
	}

	q.metrics.SetPending(n)
	logging.Info("Requeued dead letters", map[string]interface{}{"count": len(dead)})
	return len(dead), nil
}

// ClearDeadLetters discards the dead-letter list.
func (q *Queue) ClearDeadLetters(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(ctx, q.namespace+DeadLetterKey); err != nil {
		q.recover("clear dead letters", err, nil)
		return err
	}
	return nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	pending := q.listLocked(ctx, PendingKey)
	stats := Stats{
		Pending:      len(pending),
		DeadLettered: len(q.listLocked(ctx, DeadLetterKey)),
	}
	for _, a := range pending {
		if a.Ready(now) {
			stats.Ready++
		}
	}
	return stats
}
