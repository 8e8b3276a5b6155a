package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/comigor/triage-go/internal/events"
	"github.com/comigor/triage-go/internal/intent"
	"github.com/comigor/triage-go/internal/logger"
)

// ErrInvalidEvent marks an event that can never be processed. Consumers
// should drop it instead of retrying.
var ErrInvalidEvent = errors.New("invalid event")

// OnRouted acknowledges a routing event. The triage service only counts it.
func (d *Dispatcher) OnRouted(_ context.Context, ev events.Routed) error {
	if _, err := intent.Parse(ev.Intent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	d.metrics.ObserveEvent(events.TopicRouted)
	logger.L.Info("learning event", "topic", events.TopicRouted, "user_id", ev.UserID, "intent", ev.Intent, "agent", ev.Agent)
	return nil
}

// OnLearningResponse raises the user's mastery of the answered topic.
func (d *Dispatcher) OnLearningResponse(ctx context.Context, ev events.Response) error {
	if ev.UserID <= 0 || ev.Module == "" || ev.Topic == "" {
		return fmt.Errorf("%w: user_id, module and topic are required", ErrInvalidEvent)
	}
	d.metrics.ObserveEvent(events.TopicResponse)
	if err := d.store.RecordLearning(ctx, ev.UserID, ev.Module, ev.Topic); err != nil {
		return fmt.Errorf("record learning: %w", err)
	}
	logger.L.Info("learning progress recorded", "user_id", ev.UserID, "module", ev.Module, "topic", ev.Topic)
	return nil
}

// EventHandlers maps subscribed topics to their handlers, for use with a
// bus subscriber.
func (d *Dispatcher) EventHandlers() map[string]events.Handler {
	return map[string]events.Handler{
		events.TopicRouted:   events.Typed(d.OnRouted),
		events.TopicResponse: events.Typed(d.OnLearningResponse),
	}
}
