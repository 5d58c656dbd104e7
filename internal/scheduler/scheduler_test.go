package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type taskEvent struct {
	key   TaskKey
	event string
}

type eventLog struct {
	mu     sync.Mutex
	events []taskEvent
}

func (l *eventLog) observe(key TaskKey, event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, taskEvent{key: key, event: event})
}

func (l *eventLog) keys(event string) []TaskKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	var keys []TaskKey
	for _, e := range l.events {
		if e.event == event {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func newObservedScheduler(t *testing.T) (*Scheduler, *eventLog) {
	t.Helper()
	log := &eventLog{}
	s := New(zerolog.Nop())
	s.observe = log.observe
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, log
}

func TestSchedulerRunsTaskAtTime(t *testing.T) {
	s, log := newObservedScheduler(t)
	key := ExerciseTask(1, PhaseDue)

	var runs atomic.Int32
	require.True(t, s.Schedule(key, time.Now().Add(20*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.Equal(t, []TaskKey{key}, s.Pending())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, s.Pending())
	require.Equal(t, []TaskKey{key}, log.keys(EventFired))
}

func TestSchedulerPastTimeFiresImmediately(t *testing.T) {
	s, _ := newObservedScheduler(t)

	done := make(chan struct{})
	s.Schedule(ExerciseTask(1, PhaseRelease), time.Now().Add(-time.Hour), func(context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task in the past did not fire")
	}
}

func TestSchedulerRescheduleReplacesTimer(t *testing.T) {
	s, log := newObservedScheduler(t)
	key := ExerciseTask(1, PhaseDue)

	var first, second atomic.Int32
	s.Schedule(key, time.Now().Add(30*time.Millisecond), func(context.Context) error {
		first.Add(1)
		return nil
	})
	at := time.Now().Add(60 * time.Millisecond)
	s.Schedule(key, at, func(context.Context) error {
		second.Add(1)
		return nil
	})

	scheduledAt, ok := s.ScheduledAt(key)
	require.True(t, ok)
	require.True(t, scheduledAt.Equal(at))

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, first.Load())
	require.Len(t, log.keys(EventCancelled), 1)
	require.Len(t, log.keys(EventFired), 1)
}

func TestSchedulerCancelPreventsRun(t *testing.T) {
	s, log := newObservedScheduler(t)
	key := ParticipationTask(1, 2, PhaseDue)

	var runs atomic.Int32
	s.Schedule(key, time.Now().Add(30*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.True(t, s.Cancel(key))
	require.False(t, s.Cancel(key))

	time.Sleep(80 * time.Millisecond)
	require.Zero(t, runs.Load())
	require.Empty(t, log.keys(EventFired))
	require.Empty(t, s.Pending())
}

func TestSchedulerCancelInterruptsRunningTask(t *testing.T) {
	s, _ := newObservedScheduler(t)
	key := ExerciseTask(3, PhaseBuildAndTestAfterDueDate)

	started := make(chan struct{})
	stopped := make(chan error, 1)
	s.Schedule(key, time.Now(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return ctx.Err()
	})

	<-started
	require.True(t, s.Cancel(key))
	select {
	case err := <-stopped:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}

func TestSchedulerShutdown(t *testing.T) {
	s := New(zerolog.Nop())

	var runs atomic.Int32
	s.Schedule(ExerciseTask(1, PhaseDue), time.Now().Add(50*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))
	require.False(t, s.Schedule(ExerciseTask(2, PhaseDue), time.Now(), func(context.Context) error { return nil }))

	time.Sleep(80 * time.Millisecond)
	require.Zero(t, runs.Load())
}
