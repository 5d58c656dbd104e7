package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// TaskKind separates exercise-wide timers from timers of a single participation.
type TaskKind string

const (
	KindExercise      TaskKind = "exercise"
	KindParticipation TaskKind = "participation"
)

// Phase is a point in the lifecycle of an exercise.
type Phase string

const (
	PhaseRelease                  Phase = "RELEASE"
	PhaseDue                      Phase = "DUE"
	PhaseBuildAndTestAfterDueDate Phase = "BUILD_AND_TEST_AFTER_DUE_DATE"
	PhaseAssessmentDue            Phase = "ASSESSMENT_DUE"
)

// Task events reported to observers and metrics.
const (
	EventScheduled = "scheduled"
	EventCancelled = "cancelled"
	EventFired     = "fired"
	EventFailed    = "failed"
)

// TaskKey identifies one timer. Scheduling a key that is already pending replaces the old timer.
type TaskKey struct {
	Kind            TaskKind
	ExerciseID      uint
	ParticipationID uint
	Phase           Phase
}

// ExerciseTask returns the key of an exercise-wide timer.
func ExerciseTask(exerciseID uint, phase Phase) TaskKey {
	return TaskKey{Kind: KindExercise, ExerciseID: exerciseID, Phase: phase}
}

// ParticipationTask returns the key of a timer derived from an individual due date.
func ParticipationTask(exerciseID, participationID uint, phase Phase) TaskKey {
	return TaskKey{Kind: KindParticipation, ExerciseID: exerciseID, ParticipationID: participationID, Phase: phase}
}

func (k TaskKey) String() string {
	if k.Kind == KindParticipation {
		return fmt.Sprintf("participation:%d:%d:%s", k.ExerciseID, k.ParticipationID, k.Phase)
	}
	return fmt.Sprintf("exercise:%d:%s", k.ExerciseID, k.Phase)
}

// Task is the work run when a timer fires. The context is cancelled when the task is
// cancelled or the scheduler shuts down.
type Task func(ctx context.Context) error

type scheduledTask struct {
	key    TaskKey
	at     time.Time
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

// Scheduler owns a set of cancellable timers. Create it with New and release it with Shutdown.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[TaskKey]*scheduledTask
	running map[*scheduledTask]struct{}
	closed  bool

	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup

	logger  zerolog.Logger
	now     func() time.Time
	observe func(key TaskKey, event string)
}

// New constructs a scheduler with no pending timers.
func New(logger zerolog.Logger) *Scheduler {
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:      make(map[TaskKey]*scheduledTask),
		running:    make(map[*scheduledTask]struct{}),
		root:       root,
		cancelRoot: cancel,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		now:        time.Now,
	}
}

func (s *Scheduler) record(key TaskKey, event string) {
	observability.SchedulerTasks().WithLabelValues(string(key.Phase), event).Inc()
	if s.observe != nil {
		s.observe(key, event)
	}
}

// Schedule runs task at the given time, replacing a pending timer with the same key.
// A time in the past fires immediately. It reports false once the scheduler is shut down.
func (s *Scheduler) Schedule(key TaskKey, at time.Time, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.cancelLocked(key)

	ctx, cancel := context.WithCancel(s.root)
	entry := &scheduledTask{key: key, at: at, ctx: ctx, cancel: cancel}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.wg.Add(1)
	entry.timer = time.AfterFunc(delay, func() { s.fire(entry, task) })
	s.tasks[key] = entry
	observability.ScheduledTasksActive().Set(float64(len(s.tasks)))
	s.record(key, EventScheduled)

	s.logger.Debug().Str("task", key.String()).Time("at", at).Msg("task scheduled")
	return true
}

func (s *Scheduler) fire(entry *scheduledTask, task Task) {
	defer s.wg.Done()

	s.mu.Lock()
	if current, ok := s.tasks[entry.key]; !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, entry.key)
	s.running[entry] = struct{}{}
	observability.ScheduledTasksActive().Set(float64(len(s.tasks)))
	s.record(entry.key, EventFired)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, entry)
		s.mu.Unlock()
		entry.cancel()
	}()

	ctx := middleware.ContextWithCorrelation(entry.ctx, "task:"+entry.key.String())
	if err := task(ctx); err != nil {
		s.record(entry.key, EventFailed)
		s.logger.Error().Err(err).Str("task", entry.key.String()).Msg("scheduled task failed")
		return
	}
	s.logger.Debug().Str("task", entry.key.String()).Msg("scheduled task completed")
}

// Cancel stops the pending timer of key. Once Cancel returns the task will not start;
// a run already in progress observes its context being cancelled.
func (s *Scheduler) Cancel(key TaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

func (s *Scheduler) cancelLocked(key TaskKey) bool {
	cancelled := false
	if entry, ok := s.tasks[key]; ok {
		delete(s.tasks, key)
		entry.cancel()
		if entry.timer.Stop() {
			s.wg.Done()
		}
		cancelled = true
	}
	for entry := range s.running {
		if entry.key == key {
			entry.cancel()
			cancelled = true
		}
	}
	if cancelled {
		observability.ScheduledTasksActive().Set(float64(len(s.tasks)))
		s.record(key, EventCancelled)
	}
	return cancelled
}

// Pending lists the keys of timers that have not fired yet in a stable order.
func (s *Scheduler) Pending() []TaskKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]TaskKey, 0, len(s.tasks))
	for key := range s.tasks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ScheduledAt reports when the pending timer of key fires.
func (s *Scheduler) ScheduledAt(key TaskKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[key]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

// Shutdown cancels every timer and waits for running tasks until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key := range s.tasks {
		s.cancelLocked(key)
	}
	s.cancelRoot()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}
