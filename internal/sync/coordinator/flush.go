package coordinator

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

// flush makes one pass over a snapshot of the queue in enqueue order.
// Actions enqueued during the pass wait for the next one.
func (c *Coordinator) flush(ctx context.Context, trigger string) *FlushResult {
	res := &FlushResult{
		Trigger:   trigger,
		StartedAt: c.now(),
	}

	actions := c.queue.List(ctx)
	logging.Info("Flushing pending actions", map[string]interface{}{
		"trigger": trigger,
		"pending": len(actions),
	})

	for _, action := range actions {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if !action.Ready(c.now()) {
			res.Skipped++
			continue
		}

		res.Attempted++
		err := c.replay(ctx, action)
		if err != nil && ctx.Err() != nil {
			// cancelled mid-call: not the action's fault
			res.Attempted--
			res.Interrupted = true
			break
		}

		if err == nil {
			res.Succeeded++
			c.metrics.RecordAction(telemetry.ResultSucceeded)
			if rmErr := c.queue.Remove(ctx, action.ID); rmErr != nil {
				logging.Error("Failed to remove replayed action", rmErr, map[string]interface{}{
					"action_id": action.ID,
				})
			}
			continue
		}

		res.Failed++
		logging.Warn("Failed to replay pending action", map[string]interface{}{
			"action_id":   action.ID,
			"kind":        action.Kind,
			"retry_count": action.RetryCount,
			"error":       err.Error(),
		})
		dead, failErr := c.queue.Fail(ctx, action.ID, err)
		if failErr != nil {
			logging.Error("Failed to record replay failure", failErr, map[string]interface{}{
				"action_id": action.ID,
			})
		}
		if dead {
			res.DeadLettered++
			c.metrics.RecordAction(telemetry.ResultDeadLettered)
		} else {
			c.metrics.RecordAction(telemetry.ResultFailed)
		}
	}

	res.FinishedAt = c.now()
	if !res.Interrupted {
		c.recordLastSync(ctx, res.FinishedAt)
	}

	c.metrics.RecordFlush(trigger, res.FinishedAt.Sub(res.StartedAt))
	c.metrics.SetPending(c.queue.Len(context.WithoutCancel(ctx)))

	logging.Info("Flush completed", map[string]interface{}{
		"trigger":       trigger,
		"attempted":     res.Attempted,
		"succeeded":     res.Succeeded,
		"failed":        res.Failed,
		"dead_lettered": res.DeadLettered,
		"skipped":       res.Skipped,
		"interrupted":   res.Interrupted,
	})

	if c.onFlush != nil {
		c.onFlush(*res)
	}
	return res
}

// replay runs the handler for one action. Panics and untyped errors come
// back as HANDLER_FAILED.
func (c *Coordinator) replay(ctx context.Context, action queue.Action) (err error) {
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.ErrHandlerFailed, fmt.Sprintf("handler panicked: %v", r))
		}
	}()

	if err := c.handler.Handle(ctx, action); err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrInternal {
			return apperrors.Wrap(apperrors.ErrHandlerFailed, "handler failed", err)
		}
		return err
	}
	return nil
}

func (c *Coordinator) recordLastSync(ctx context.Context, at time.Time) {
	c.mu.Lock()
	c.lastSyncAt = at
	c.mu.Unlock()

	if c.lastSyncStore != nil {
		c.lastSyncStore.Save(ctx, LastSyncKey, at.UnixMilli(), 0)
	}
}
