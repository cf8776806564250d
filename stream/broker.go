package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/ext"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension              = (*Broker)(nil)
	_ ext.RunStarted             = (*Broker)(nil)
	_ ext.PhaseChanged           = (*Broker)(nil)
	_ ext.StepCompleted          = (*Broker)(nil)
	_ ext.StepFailed             = (*Broker)(nil)
	_ ext.SignalReceived         = (*Broker)(nil)
	_ ext.RunContinued           = (*Broker)(nil)
	_ ext.RunCompleted           = (*Broker)(nil)
	_ ext.RunFailed              = (*Broker)(nil)
	_ ext.RunRejected            = (*Broker)(nil)
	_ ext.RunCancelled           = (*Broker)(nil)
	_ ext.CompensationUnresolved = (*Broker)(nil)
	_ ext.CronFired              = (*Broker)(nil)
	_ ext.Shutdown               = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle events as an extension and fans them out to
// subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		now:        time.Now,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics. An empty
// subscriberID gets a generated one.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	if subscriberID == "" {
		subscriberID = id.NewSubscriberID().String()
	}
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Watch subscribes to a single run.
func (b *Broker) Watch(runID id.RunID) *Subscriber {
	return b.Subscribe("", RunTopic(runID.String()))
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	stats := BrokerStats{
		TopicCount:     b.topics.TopicCount(),
		TotalPublished: b.totalPublished.Load(),
	}
	b.subscribers.Range(func(_, v any) bool {
		stats.SubscriberCount++
		stats.TotalDropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return stats
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(evt *Event) {
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) publishRun(typ EventType, r *workflow.Run, data RunEventData) {
	b.publish(&Event{
		Type:      typ,
		Timestamp: b.now().UTC(),
		RunID:     r.ID.String(),
		Workflow:  r.Name,
		Data:      mustMarshal(data),
	})
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnRunStarted(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventRunStarted, r, RunEventData{Phase: r.Phase})
	return nil
}

func (b *Broker) OnPhaseChanged(_ context.Context, r *workflow.Run, from, to string) error {
	b.publishRun(EventPhaseChanged, r, RunEventData{From: from, Phase: to})
	return nil
}

func (b *Broker) OnStepCompleted(_ context.Context, r *workflow.Run, step string, elapsed time.Duration) error {
	b.publishRun(EventStepCompleted, r, RunEventData{Phase: r.Phase, Step: step, ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, r *workflow.Run, step string, stepErr error) error {
	b.publishRun(EventStepFailed, r, RunEventData{Phase: r.Phase, Step: step, Error: stepErr.Error()})
	return nil
}

func (b *Broker) OnSignalReceived(_ context.Context, r *workflow.Run, sig *signal.Signal) error {
	b.publishRun(EventSignal, r, RunEventData{Phase: r.Phase, SignalType: sig.Type})
	return nil
}

func (b *Broker) OnRunContinued(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventRunContinued, r, RunEventData{Phase: r.Phase})
	return nil
}

func (b *Broker) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	b.publishRun(EventRunCompleted, r, RunEventData{Phase: r.Phase, ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnRunFailed(_ context.Context, r *workflow.Run, runErr error) error {
	b.publishRun(EventRunFailed, r, RunEventData{Phase: r.Phase, Error: runErr.Error()})
	return nil
}

func (b *Broker) OnRunRejected(_ context.Context, r *workflow.Run, reason string) error {
	b.publishRun(EventRunRejected, r, RunEventData{Phase: r.Phase, Reason: reason})
	return nil
}

func (b *Broker) OnRunCancelled(_ context.Context, r *workflow.Run, reason string) error {
	b.publishRun(EventRunCancelled, r, RunEventData{Phase: r.Phase, Reason: reason})
	return nil
}

// ── Compensation and cron hooks ─────────────────────

func (b *Broker) OnCompensationUnresolved(_ context.Context, r *workflow.Run, e *compensation.Entry) error {
	b.publish(&Event{
		Type:      EventCompensationUnresolved,
		Timestamp: b.now().UTC(),
		RunID:     r.ID.String(),
		Workflow:  r.Name,
		Data: mustMarshal(CompensationEventData{
			CompensationID: e.ID.String(),
			Step:           e.Step,
			Kind:           string(e.Kind),
			Error:          e.Error,
			Attempts:       e.Attempts,
		}),
	})
	return nil
}

func (b *Broker) OnCronFired(_ context.Context, entryName string, runID id.RunID) error {
	b.publish(&Event{
		Type:      EventCronFired,
		Timestamp: b.now().UTC(),
		RunID:     runID.String(),
		Data:      mustMarshal(CronEventData{EntryName: entryName}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.topics.UnsubscribeAll(sub.ID())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
