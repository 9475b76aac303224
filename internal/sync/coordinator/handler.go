package coordinator

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
)

// Handler replays one pending action against the remote service.
//
// A nil error removes the action from the queue. Any other error leaves
// it queued under the retry policy, except errors carrying
// ACTION_REJECTED, which dead-letter it at once. Handlers must tolerate
// seeing the same action more than once.
type Handler interface {
	Handle(ctx context.Context, action queue.Action) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, action queue.Action) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, action queue.Action) error {
	return f(ctx, action)
}

// Router dispatches actions to handlers by kind.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register sets the handler for kind.
func (r *Router) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// RegisterFunc sets a handler function for kind.
func (r *Router) RegisterFunc(kind string, fn func(ctx context.Context, action queue.Action) error) {
	r.Register(kind, HandlerFunc(fn))
}

// Fallback sets the handler for kinds without a registration.
func (r *Router) Fallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Handle implements Handler. Unknown kinds are rejected.
func (r *Router) Handle(ctx context.Context, action queue.Action) error {
	r.mu.RLock()
	h, ok := r.handlers[action.Kind]
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()

	if h == nil {
		return apperrors.Newf(apperrors.ErrActionRejected, "no handler for action kind %q", action.Kind)
	}
	return h.Handle(ctx, action)
}
