package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsJobsUntilCanceled(t *testing.T) {
	var fast, failing atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	New(
		Job{Name: "fast", Interval: 20 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Job{Name: "failing", Interval: 20 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Job{Name: "disabled", Interval: 0, Run: func(context.Context) error {
			t.Error("job with zero interval must not run")
			return nil
		}},
	).Start(ctx)

	assert.GreaterOrEqual(t, fast.Load(), int32(3))
	assert.GreaterOrEqual(t, failing.Load(), int32(3), "a failing job keeps its schedule")
}

func TestScheduler_TickIsBoundedByInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go New(Job{Name: "stuck", Interval: 30 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case done <- ctx.Err():
		default:
		}
		return ctx.Err()
	}}).Start(ctx)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not bounded")
	}
	cancel()
}
