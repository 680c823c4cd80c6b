package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.JobEnqueued    = (*Broker)(nil)
	_ ext.JobStarted     = (*Broker)(nil)
	_ ext.JobCompleted   = (*Broker)(nil)
	_ ext.JobFailed      = (*Broker)(nil)
	_ ext.JobRetrying    = (*Broker)(nil)
	_ ext.JobCancelled   = (*Broker)(nil)
	_ ext.LedgerRefunded = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// LookupFunc loads a job record. queue.Manager.GetStatus satisfies it.
type LookupFunc func(ctx context.Context, jobID id.JobID) (*job.Job, error)

// Broker receives lifecycle events as an extension and fans them out to
// subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
	now            func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
		now:            time.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
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

// Wait blocks until jobID reaches a terminal state and returns the
// terminal event. When lookup is set, a job that already finished before
// the subscription was made is reported from its record instead.
func (b *Broker) Wait(ctx context.Context, jobID id.JobID, lookup LookupFunc) (*Event, error) {
	subID := "wait-" + uuid.NewString()
	sub := b.Subscribe(subID, JobTopic(jobID.String()))
	defer b.RemoveSubscriber(subID)
	sub.SetFilter(func(e *Event) bool { return e.Type.Terminal() })

	if lookup != nil {
		j, err := lookup(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("genqueue/stream: wait: %w", err)
		}
		if j.Status.Terminal() {
			return b.terminalEvent(j), nil
		}
	}

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("genqueue/stream: wait: broker shut down")
			}
			// Events published before the filter was set still arrive.
			if evt.Type.Terminal() {
				return evt, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event for j to every matching topic.
func (b *Broker) publish(typ EventType, j *job.Job, data JobEventData) {
	data.JobID = j.ID.String()
	data.Status = string(j.Status)
	data.Attempts = j.Attempts
	if req, err := job.DecodeRequest(j.Payload); err == nil {
		data.UserID = req.UserID
	}

	evt := &Event{
		Type:      typ,
		Timestamp: b.now().UTC(),
		Topic:     JobTopic(data.JobID),
		Data:      mustMarshal(data),
	}
	b.broadcast(evt, data.UserID)
}

func (b *Broker) broadcast(evt *Event, userID string) {
	topics := resolveTopics(evt, userID)
	if delivered := b.topics.Broadcast(topics, evt); delivered > 0 {
		b.totalPublished.Add(int64(delivered))
	} else {
		b.totalDropped.Add(1)
	}
}

// terminalEvent builds the event a finished job would have produced.
func (b *Broker) terminalEvent(j *job.Job) *Event {
	typ := EventJobCompleted
	data := JobEventData{JobID: j.ID.String(), Status: string(j.Status), Attempts: j.Attempts}
	switch j.Status {
	case job.StatusCompleted:
		data.Result = j.Result
	case job.StatusFailed:
		typ = EventJobFailed
		data.Error = j.ErrorMessage
	case job.StatusCancelled:
		typ = EventJobCancelled
	}
	return &Event{Type: typ, Timestamp: b.now().UTC(), Topic: JobTopic(data.JobID), Data: mustMarshal(data)}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Lifecycle hooks ─────────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publish(EventJobEnqueued, j, JobEventData{})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(EventJobStarted, j, JobEventData{})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publish(EventJobCompleted, j, JobEventData{ElapsedMs: elapsed.Milliseconds(), Result: j.Result})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	data := JobEventData{}
	if jobErr != nil {
		data.Error = jobErr.Error()
	}
	b.publish(EventJobFailed, j, data)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, attempt int) error {
	b.publish(EventJobRetrying, j, JobEventData{Attempt: attempt})
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publish(EventJobCancelled, j, JobEventData{})
	return nil
}

func (b *Broker) OnLedgerRefunded(_ context.Context, j *job.Job, amount int64) error {
	b.publish(EventLedgerRefunded, j, JobEventData{Amount: amount})
	return nil
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		value.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
