package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJob(userID string) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Status:      job.StatusQueued,
		Priority:    job.PriorityNormal,
		Payload:     json.RawMessage(`{"prompt":"hi","user_id":"` + userID + `"}`),
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func expectNone(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("subscriber %s got unexpected %s", sub.ID(), evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_Topics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob("u1")

	firehose := b.Subscribe("firehose", TopicFirehose)
	jobs := b.Subscribe("jobs", TopicJobs)
	ledger := b.Subscribe("ledger", TopicLedger)
	mine := b.Subscribe("mine", JobTopic(j.ID.String()))
	user := b.Subscribe("user", UserTopic("u1"))
	other := b.Subscribe("other", UserTopic("u2"))

	_ = b.OnJobEnqueued(context.Background(), j)

	for _, sub := range []*Subscriber{firehose, jobs, mine, user} {
		evt := receive(t, sub)
		if evt.Type != EventJobEnqueued {
			t.Errorf("%s: Type = %q, want %q", sub.ID(), evt.Type, EventJobEnqueued)
		}
	}
	expectNone(t, ledger)
	expectNone(t, other)

	_ = b.OnLedgerRefunded(context.Background(), j, 4)
	evt := receive(t, ledger)
	data, err := evt.JobData()
	if err != nil {
		t.Fatalf("JobData: %v", err)
	}
	if data.Amount != 4 || data.UserID != "u1" {
		t.Fatalf("refund data = %+v", data)
	}
	expectNone(t, jobs)
}

func TestBroker_SubscriberOnManyTopicsGetsOneCopy(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob("u1")
	sub := b.Subscribe("s", TopicFirehose, TopicJobs, JobTopic(j.ID.String()))

	_ = b.OnJobStarted(context.Background(), j)
	receive(t, sub)
	expectNone(t, sub)
}

func TestBroker_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicJobs, TopicFirehose)
	b.Unsubscribe("s", TopicJobs)

	if got := sub.Topics(); len(got) != 1 || got[0] != TopicFirehose {
		t.Fatalf("Topics = %v", got)
	}

	b.RemoveSubscriber("s")
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed")
	}
	if st := b.Stats(); st.SubscriberCount != 0 || st.TopicCount != 0 {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestBroker_CreditsLimitDelivery(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithDefaultCredits(1))
	sub := b.Subscribe("s", TopicJobs)

	_ = b.OnJobStarted(context.Background(), testJob("u1"))
	_ = b.OnJobStarted(context.Background(), testJob("u1"))
	receive(t, sub)
	expectNone(t, sub)

	sub.AddCredits(1)
	_ = b.OnJobStarted(context.Background(), testJob("u1"))
	receive(t, sub)

	if st := b.Stats(); st.TotalPublished != 2 || st.TotalDropped != 1 {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestBroker_FullBufferDrops(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	sub := b.Subscribe("s", TopicJobs)

	_ = b.OnJobStarted(context.Background(), testJob("u1"))
	_ = b.OnJobStarted(context.Background(), testJob("u1"))

	if sub.Credits() != DefaultCredits-1 {
		t.Fatalf("dropped send must refund its credit, have %d", sub.Credits())
	}
}

func TestBroker_WaitReceivesTerminalEvent(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob("u1")

	done := make(chan *Event, 1)
	go func() {
		evt, err := b.Wait(context.Background(), j.ID, nil)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- evt
	}()

	// Wait until the waiter is subscribed.
	deadline := time.Now().Add(time.Second)
	for b.Topics().SubscriberCount(JobTopic(j.ID.String())) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = b.OnJobStarted(context.Background(), j)
	j.Status = job.StatusCompleted
	j.Result = json.RawMessage(`{"text":"ok"}`)
	_ = b.OnJobCompleted(context.Background(), j, 10*time.Millisecond)

	select {
	case evt := <-done:
		if evt == nil || evt.Type != EventJobCompleted {
			t.Fatalf("got %+v, want job.completed", evt)
		}
		data, _ := evt.JobData()
		if string(data.Result) != `{"text":"ok"}` {
			t.Fatalf("result = %s", data.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestBroker_WaitAlreadyFinished(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob("u1")
	j.Status = job.StatusFailed
	j.ErrorMessage = "backend down"

	evt, err := b.Wait(context.Background(), j.ID, func(context.Context, id.JobID) (*job.Job, error) {
		return j, nil
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	data, _ := evt.JobData()
	if evt.Type != EventJobFailed || data.Error != "backend down" {
		t.Fatalf("got %s %+v", evt.Type, data)
	}
}

func TestBroker_WaitErrors(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	jobID := id.NewJobID()

	_, err := b.Wait(context.Background(), jobID, func(context.Context, id.JobID) (*job.Job, error) {
		return nil, genqueue.ErrJobNotFound
	})
	if !errors.Is(err, genqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Wait(ctx, jobID, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBroker_ShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicFirehose)

	_ = b.OnShutdown(context.Background())
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed")
	}
	// Publishing after shutdown must not panic.
	_ = b.OnJobStarted(context.Background(), testJob("u1"))
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic string
		ok    bool
	}{
		{TopicJobs, true},
		{TopicLedger, true},
		{TopicFirehose, true},
		{JobTopic("job_1"), true},
		{UserTopic("u1"), true},
		{"job:", false},
		{"queue:x", false},
		{"nonsense", false},
	}
	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateTopic(%q) = %v, want ok=%v", tt.topic, err, tt.ok)
		}
	}
}
