package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

type scheduleRequest struct {
	ExerciseID      uint `json:"exercise_id"`
	ParticipationID uint `json:"participation_id,omitempty"`
}

// InstanceMessages forwards schedule requests from any API instance to the instance that
// owns the timers. Without a NATS connection requests are applied locally.
type InstanceMessages struct {
	nats                 *nats.Conn
	exerciseSubject      string
	participationSubject string
	exercises            *ExerciseScheduler
	participations       repository.ParticipationRepository
	logger               zerolog.Logger
}

// NewInstanceMessages derives the subjects <base>.schedule.exercise and <base>.schedule.participation.
func NewInstanceMessages(natsConn *nats.Conn, channelBase string, exercises *ExerciseScheduler, participations repository.ParticipationRepository, logger zerolog.Logger) *InstanceMessages {
	if channelBase == "" {
		channelBase = "gema:grading"
	}
	base := strings.ReplaceAll(channelBase, ":", ".")
	return &InstanceMessages{
		nats:                 natsConn,
		exerciseSubject:      base + ".schedule.exercise",
		participationSubject: base + ".schedule.participation",
		exercises:            exercises,
		participations:       participations,
		logger:               logger.With().Str("component", "scheduler_messages").Logger(),
	}
}

// Start consumes schedule requests until ctx is done. Only the scheduling instance calls it.
func (m *InstanceMessages) Start(ctx context.Context) error {
	if m.nats == nil {
		return nil
	}

	exerciseSub, err := m.nats.QueueSubscribe(m.exerciseSubject, "gema-scheduler", func(msg *nats.Msg) {
		m.handle(ctx, msg.Data, false)
	})
	if err != nil {
		return err
	}
	participationSub, err := m.nats.QueueSubscribe(m.participationSubject, "gema-scheduler", func(msg *nats.Msg) {
		m.handle(ctx, msg.Data, true)
	})
	if err != nil {
		_ = exerciseSub.Unsubscribe()
		return err
	}

	go func() {
		<-ctx.Done()
		for _, sub := range []*nats.Subscription{exerciseSub, participationSub} {
			if err := sub.Drain(); err != nil {
				m.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("failed to drain schedule subscription")
			}
		}
	}()
	return nil
}

func (m *InstanceMessages) handle(ctx context.Context, payload []byte, participation bool) {
	var request scheduleRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		m.logger.Warn().Err(err).Msg("invalid schedule request payload")
		return
	}

	var err error
	if participation {
		err = m.applyParticipation(ctx, request)
	} else {
		err = m.exercises.ScheduleExerciseByID(ctx, request.ExerciseID)
	}
	if err != nil {
		m.logger.Error().Err(err).
			Uint("exercise_id", request.ExerciseID).
			Uint("participation_id", request.ParticipationID).
			Msg("failed to apply schedule request")
	}
}

func (m *InstanceMessages) applyParticipation(ctx context.Context, request scheduleRequest) error {
	exercise, err := m.exercises.deps.Exercises.GetByID(ctx, request.ExerciseID)
	if err != nil {
		return err
	}
	participation, err := m.participations.GetByID(ctx, request.ParticipationID)
	if err != nil {
		return err
	}
	m.exercises.ScheduleParticipation(ctx, exercise, participation)
	return nil
}

// RequestExerciseSchedule asks the scheduling instance to re-plan an exercise.
func (m *InstanceMessages) RequestExerciseSchedule(ctx context.Context, exerciseID uint) error {
	if exerciseID == 0 {
		return errors.New("exercise id is required")
	}
	if m.nats == nil {
		return m.exercises.ScheduleExerciseByID(ctx, exerciseID)
	}
	return m.send(m.exerciseSubject, scheduleRequest{ExerciseID: exerciseID})
}

// ScheduleParticipation forwards an individual due date change to the scheduling instance.
func (m *InstanceMessages) ScheduleParticipation(ctx context.Context, exercise models.Exercise, participation models.Participation) {
	if m.nats == nil {
		m.exercises.ScheduleParticipation(ctx, exercise, participation)
		return
	}
	if err := m.send(m.participationSubject, scheduleRequest{ExerciseID: exercise.ID, ParticipationID: participation.ID}); err != nil {
		m.logger.Error().Err(err).Uint("participation_id", participation.ID).Msg("failed to request participation schedule")
	}
}

func (m *InstanceMessages) send(subject string, request scheduleRequest) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}
	return m.nats.Publish(subject, payload)
}
