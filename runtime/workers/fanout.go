package workers

import (
	"context"
	"log/slog"
	"time"

	"assist-chat/contract"
	"assist-chat/domain/event"
	"assist-chat/observability"
)

// FanoutWorker distributes accepted domain events to the connections
// attending the event's conversation, plus the permanent sinks (search
// index, telemetry). Best-effort: a slow sink is abandoned after the
// configured timeout so one stalled connection cannot back up the pipeline.
//
// FanoutWorker is not a message broker; durability comes from the
// repositories, not from this fan-out.
type FanoutWorker struct {
	log            *slog.Logger
	events         chan event.DomainEvent
	registry       contract.IRegistry
	permanentSinks []contract.EventSink
	sinkTimeout    time.Duration
	monitor        *observability.Monitor
}

func NewFanoutWorker(log *slog.Logger,
	events chan event.DomainEvent,
	registry contract.IRegistry,
	monitor *observability.Monitor,
	sinkTimeout time.Duration,
	permanentSinks ...contract.EventSink) *FanoutWorker {
	return &FanoutWorker{
		log:            log,
		events:         events,
		registry:       registry,
		permanentSinks: permanentSinks,
		sinkTimeout:    sinkTimeout,
		monitor:        monitor,
	}
}

func (w *FanoutWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout delivers one event to every interested sink.
func (w *FanoutWorker) Fanout(ctx context.Context, evt event.DomainEvent) {
	if _, ok := evt.(event.MessageAccepted); ok {
		w.monitor.MessageAccepted()
	}

	sinks := w.registry.GetSinksForConversation(evt.ConversationID())
	sinks = append(sinks, w.permanentSinks...)

	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Warn("Sink failed to consume event", "conversationId", evt.ConversationID(), "error", err)
			w.monitor.DeliveryFailed()
		} else {
			w.monitor.EventDelivered()
		}
		cancel()
	}
}
