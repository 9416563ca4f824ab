package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTrigger_NextInterval(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	next := Every(15 * time.Minute).Next(now)
	assert.Equal(t, now.Add(15*time.Minute), next)
}

func TestTrigger_NextDailyLaterToday(t *testing.T) {
	now := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	next := DailyAt(6, 30, time.UTC).Next(now)
	assert.Equal(t, time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC), next)
}

func TestTrigger_NextDailyTomorrow(t *testing.T) {
	now := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	next := DailyAt(6, 30, time.UTC).Next(now)
	assert.Equal(t, time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC), next)
}

func TestTrigger_NextDailyExactlyNowRollsOver(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC)
	next := DailyAt(6, 30, time.UTC).Next(now)
	assert.Equal(t, time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC), next)
}

func TestTrigger_NextDailyHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 11:00 UTC is 06:00 or 07:00 New York depending on DST; either way a
	// 06:30 New York trigger resolves in that zone, not UTC.
	now := time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC)
	next := DailyAt(6, 30, loc).Next(now)

	assert.Equal(t, 6, next.In(loc).Hour())
	assert.Equal(t, 30, next.In(loc).Minute())
	assert.True(t, next.After(now))
}

func TestTrigger_String(t *testing.T) {
	assert.Equal(t, "every 2m0s", Every(2*time.Minute).String())
	assert.Equal(t, "daily at 06:05", DailyAt(6, 5, time.UTC).String())
}

func TestScheduler_FiresIntervalJob(t *testing.T) {
	sched := newTestScheduler()

	var runs atomic.Int32
	sched.Register(Job{
		Name: "tick",
		Run: func(ctx context.Context, runID string) error {
			runs.Add(1)
			return nil
		},
	}, Every(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	require.Eventually(t, func() bool { return runs.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	sched.Stop()
}

func TestScheduler_RunIDFormat(t *testing.T) {
	sched := newTestScheduler()

	var mu sync.Mutex
	var got string
	sched.Register(Job{
		Name: "detection",
		Run: func(ctx context.Context, runID string) error {
			mu.Lock()
			if got == "" {
				got = runID
			}
			mu.Unlock()
			return nil
		},
	}, Every(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != ""
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	sched.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, strings.HasPrefix(got, "detection_"))
	stamp := strings.TrimPrefix(got, "detection_")
	_, err := time.Parse("20060102_150405", stamp)
	assert.NoError(t, err, "run ID carries a parseable timestamp")
}

func TestScheduler_SingleInstancePerJob(t *testing.T) {
	sched := newTestScheduler()

	var inFlight, maxInFlight atomic.Int32
	sched.Register(Job{
		Name: "slow",
		Run: func(ctx context.Context, runID string) error {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond) // longer than the interval
			inFlight.Add(-1)
			return nil
		},
	}, Every(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()
	sched.Stop()

	assert.Equal(t, int32(1), maxInFlight.Load(), "overlapping fires must not stack")
}

func TestScheduler_RegisterReplaces(t *testing.T) {
	sched := newTestScheduler()

	var first, second atomic.Int32
	sched.Register(Job{
		Name: "job",
		Run:  func(ctx context.Context, runID string) error { first.Add(1); return nil },
	}, Every(5*time.Millisecond))
	sched.Register(Job{
		Name: "job",
		Run:  func(ctx context.Context, runID string) error { second.Add(1); return nil },
	}, Every(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	require.Eventually(t, func() bool { return second.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	sched.Stop()

	assert.Zero(t, first.Load(), "replaced job must never fire")
}

func TestScheduler_JobTimeout(t *testing.T) {
	sched := newTestScheduler()

	var timedOut, runs atomic.Int32
	sched.Register(Job{
		Name:    "stuck",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context, runID string) error {
			runs.Add(1)
			select {
			case <-ctx.Done():
				timedOut.Add(1)
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	}, Every(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	// The deadline fires, the run returns, and the next firing proceeds.
	require.Eventually(t, func() bool { return timedOut.Load() >= 1 && runs.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	sched.Stop()
}

func TestScheduler_JobErrorDoesNotStopSchedule(t *testing.T) {
	sched := newTestScheduler()

	var runs atomic.Int32
	sched.Register(Job{
		Name: "flaky",
		Run: func(ctx context.Context, runID string) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}, Every(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	sched.Stop()
}

func TestScheduler_StartTwice(t *testing.T) {
	sched := newTestScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- sched.Start(ctx) }()
	require.Eventually(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return sched.started
	}, time.Second, time.Millisecond)

	assert.Error(t, sched.Start(ctx))
	cancel()
	assert.NoError(t, <-errs)
}

func TestScheduler_NextRun(t *testing.T) {
	sched := newTestScheduler()
	sched.Register(Job{
		Name: "daily",
		Run:  func(ctx context.Context, runID string) error { return nil },
	}, DailyAt(6, 0, time.UTC))

	next, ok := sched.NextRun("daily")
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))

	_, ok = sched.NextRun("absent")
	assert.False(t, ok)
}
