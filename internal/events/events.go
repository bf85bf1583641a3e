// Package events carries domain events out of the settlement core. Publishing
// never blocks and never fails the caller: a full buffer drops the event and
// a failing sink is logged.
package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Type string

// Event types double as RabbitMQ routing keys.
const (
	RequestSubmitted      Type = "request.submitted"
	RequestCompleted      Type = "request.completed"
	RequestFailed         Type = "request.failed"
	CommissionCredited    Type = "commission.credited"
	WalletCredited        Type = "wallet.credited"
	AccountChangeApproved Type = "account_change.approved"
	AccountChangeRejected Type = "account_change.rejected"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	UserID     string         `json:"user_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func New(t Type, userID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     userID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// ForRequest sets RequestID and returns the event.
func (e Event) ForRequest(requestID string) Event {
	e.RequestID = requestID
	return e
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Observer is told about events that never reached a sink.
type Observer interface {
	EventDropped(t Type)
	EventDeliveryFailed(sink string, t Type)
}

type Bus struct {
	queue       chan Event
	sinks       []Sink
	logger      *slog.Logger
	observer    Observer
	sinkTimeout time.Duration
	dropped     atomic.Uint64
}

func NewBus(buffer int, logger *slog.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:       make(chan Event, buffer),
		sinks:       sinks,
		logger:      logger,
		sinkTimeout: 5 * time.Second,
	}
}

func (b *Bus) SetObserver(observer Observer) {
	b.observer = observer
}

// AddSink must be called before Run.
func (b *Bus) AddSink(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

func (b *Bus) Publish(event Event) {
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped: buffer full", "type", event.Type, "user_id", event.UserID, "request_id", event.RequestID)
		if b.observer != nil {
			b.observer.EventDropped(event.Type)
		}
	}
}

func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run delivers events until ctx is cancelled, then flushes what is already
// buffered.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case event := <-b.queue:
			b.deliver(ctx, event)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
	defer cancel()
	for {
		select {
		case event := <-b.queue:
			b.deliver(ctx, event)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, event Event) {
	for _, sink := range b.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
		err := sink.Deliver(sinkCtx, event)
		cancel()
		if err != nil {
			b.logger.Warn("event delivery failed", "sink", sink.Name(), "type", event.Type, "event_id", event.ID, "error", err)
			if b.observer != nil {
				b.observer.EventDeliveryFailed(sink.Name(), event.Type)
			}
		}
	}
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return LogSink{logger: logger}
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, event Event) error {
	s.logger.Info("event", "type", event.Type, "event_id", event.ID, "user_id", event.UserID, "request_id", event.RequestID)
	return nil
}
