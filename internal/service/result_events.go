package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
)

// Result event types.
const (
	EventResultCreated  = "result.created"
	EventResultUpdated  = "result.updated"
	EventResultDeleted  = "result.deleted"
	EventExerciseLocked = "exercise.locked"
	EventExerciseStage  = "exercise.lifecycle"
)

// ResultEvent is broadcast whenever a result changes so that connected clients can refresh.
type ResultEvent struct {
	Type            string              `json:"type"`
	Source          string              `json:"source"`
	ExerciseID      uint                `json:"exercise_id"`
	ParticipationID uint                `json:"participation_id,omitempty"`
	Result          *dto.ResultResponse `json:"result,omitempty"`
	Detail          string              `json:"detail,omitempty"`
	SentAt          time.Time           `json:"sent_at"`
}

// ResultPublisher broadcasts result events.
type ResultPublisher interface {
	Publish(ctx context.Context, event ResultEvent) error
}

type resultPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	logger       zerolog.Logger
}

// NewResultPublisher publishes to a Redis channel and a NATS subject derived from channelBase.
// Either transport may be nil.
func NewResultPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) ResultPublisher {
	if channelBase == "" {
		channelBase = "gema:grading"
	}
	return &resultPublisher{
		redis:        redisClient,
		redisChannel: channelBase + ":results",
		nats:         natsConn,
		natsSubject:  strings.ReplaceAll(channelBase, ":", ".") + ".results",
		nodeID:       uuid.NewString(),
		logger:       logger.With().Str("component", "result_publisher").Logger(),
	}
}

func (p *resultPublisher) Publish(ctx context.Context, event ResultEvent) error {
	event.Source = p.nodeID
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.nats != nil {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publishResult broadcasts an event and only logs failures; delivery is best effort.
func publishResult(ctx context.Context, publisher ResultPublisher, logger zerolog.Logger, event ResultEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Str("event", event.Type).Msg("failed to publish result event")
	}
}
