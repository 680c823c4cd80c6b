package cron_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/genqueue/cron"
)

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "@every 5m", "@hourly", "0 3 * * 1-5"}
	for _, expr := range valid {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
	if _, err := cron.ParseSchedule("not a schedule"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestScheduler_RegisterInvalid(t *testing.T) {
	s := cron.NewScheduler(nil)
	err := s.Register("bad", "61 * * * *", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if len(s.Tasks()) != 0 {
		t.Fatal("invalid task should not be registered")
	}
}

func TestScheduler_RegisterReplaces(t *testing.T) {
	s := cron.NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	if err := s.Register("sweep", "@every 1h", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("sweep", "@every 2h", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("clean", "@hourly", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := len(s.Tasks()); got != 2 {
		t.Fatalf("Tasks = %d, want 2", got)
	}
}

func TestScheduler_FiresTasks(t *testing.T) {
	s := cron.NewScheduler(nil, cron.WithTaskTimeout(time.Second))

	var ok, failed atomic.Int32
	_ = s.Register("ok", "@every 1s", func(ctx context.Context) error {
		if _, has := ctx.Deadline(); !has {
			t.Error("task context should carry the task timeout")
		}
		ok.Add(1)
		return nil
	})
	_ = s.Register("failing", "@every 1s", func(context.Context) error {
		failed.Add(1)
		return errors.New("sweep failed")
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for ok.Load() == 0 || failed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("tasks did not fire: ok=%d failed=%d", ok.Load(), failed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestScheduler_StopCancelsRunningTask(t *testing.T) {
	s := cron.NewScheduler(nil)

	started := make(chan struct{})
	var cancelled atomic.Bool
	_ = s.Register("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	_ = s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Stop(ctx)

	if !cancelled.Load() {
		t.Fatal("running task should be cancelled when Stop times out")
	}
}
