package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/salesgrid/platform/internal/events"
)

// ErrQueueFull is returned by Publish when the backlog is at capacity.
var ErrQueueFull = errors.New("notification queue full")

// NotificationWorker moves event delivery off the request path. Publish
// enqueues, and Run drains the queue into the wrapped dispatcher.
type NotificationWorker struct {
	inner   events.Dispatcher
	queue   chan queued
	workers int
	logger  *zap.Logger
}

type queued struct {
	ctx   context.Context
	event events.Event
}

// NewNotificationWorker wraps inner with a bounded queue.
func NewNotificationWorker(inner events.Dispatcher, logger *zap.Logger, workers, buffer int) *NotificationWorker {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &NotificationWorker{
		inner:   inner,
		queue:   make(chan queued, buffer),
		workers: workers,
		logger:  logger,
	}
}

// Publish enqueues the event without waiting for handlers.
func (w *NotificationWorker) Publish(ctx context.Context, event events.Event) error {
	select {
	case w.queue <- queued{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe registers a handler on the wrapped dispatcher.
func (w *NotificationWorker) Subscribe(eventType events.EventType, handler events.EventHandler) {
	w.inner.Subscribe(eventType, handler)
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already buffered.
func (w *NotificationWorker) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case item := <-w.queue:
					w.deliver(item)
				case <-ctx.Done():
					w.drain()
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (w *NotificationWorker) drain() {
	for {
		select {
		case item := <-w.queue:
			w.deliver(item)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(item queued) {
	if err := w.inner.Publish(item.ctx, item.event); err != nil {
		w.logger.Error("event delivery failed",
			zap.String("event_id", item.event.ID),
			zap.String("event_type", string(item.event.Type)),
			zap.Error(err))
	}
}
