package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
)

const resultStreamBufferSize = 16

// ResultStream relays result events of every node to the websocket clients connected here.
type ResultStream interface {
	// Authorize checks that the actor may follow the participation and returns its exercise id.
	Authorize(ctx context.Context, participationID uint, actor ActivityActor) (uint, error)
	Subscribe(exerciseID, participationID uint, actor ActivityActor) (<-chan ResultEvent, func())
	Start(ctx context.Context) error
}

type resultSubscriber struct {
	participationID uint
	redact          bool
	events          chan ResultEvent
}

type resultStream struct {
	participations repository.ParticipationRepository
	redis          *redis.Client
	redisChannel   string
	nats           *nats.Conn
	natsSubject    string
	logger         zerolog.Logger

	mu          sync.RWMutex
	subscribers map[uint]map[*resultSubscriber]struct{}
}

// NewResultStream listens on the channel written by NewResultPublisher for the same channelBase.
// Redis is preferred; NATS is only consumed when no Redis client is given.
func NewResultStream(participations repository.ParticipationRepository, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) ResultStream {
	if channelBase == "" {
		channelBase = "gema:grading"
	}
	return &resultStream{
		participations: participations,
		redis:          redisClient,
		redisChannel:   channelBase + ":results",
		nats:           natsConn,
		natsSubject:    strings.ReplaceAll(channelBase, ":", ".") + ".results",
		logger:         logger.With().Str("component", "result_stream").Logger(),
		subscribers:    make(map[uint]map[*resultSubscriber]struct{}),
	}
}

func (s *resultStream) Authorize(ctx context.Context, participationID uint, actor ActivityActor) (uint, error) {
	participation, err := s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrParticipationNotFound
		}
		return 0, err
	}
	if !actor.IsTutor() && !actor.Is(&participation.StudentID) {
		return 0, forbidden("participation belongs to another student")
	}
	return participation.ExerciseID, nil
}

func (s *resultStream) Subscribe(exerciseID, participationID uint, actor ActivityActor) (<-chan ResultEvent, func()) {
	sub := &resultSubscriber{
		participationID: participationID,
		redact:          !actor.IsTutor(),
		events:          make(chan ResultEvent, resultStreamBufferSize),
	}

	s.mu.Lock()
	if _, ok := s.subscribers[exerciseID]; !ok {
		s.subscribers[exerciseID] = make(map[*resultSubscriber]struct{})
	}
	s.subscribers[exerciseID][sub] = struct{}{}
	s.mu.Unlock()
	observability.ResultStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.mu.Lock()
			if subs, ok := s.subscribers[exerciseID]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(s.subscribers, exerciseID)
				}
			}
			close(sub.events)
			s.mu.Unlock()
			observability.ResultStreamClients().Dec()
		})
	}
	return sub.events, cleanup
}

func (s *resultStream) Start(ctx context.Context) error {
	switch {
	case s.redis != nil:
		pubsub := s.redis.Subscribe(ctx, s.redisChannel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return err
		}
		go s.consumeRedis(ctx, pubsub)
	case s.nats != nil:
		sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
			s.handleEvent(msg.Data)
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := sub.Drain(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to drain result subscription")
			}
		}()
	default:
		s.logger.Warn().Msg("no broker configured, live results are disabled")
	}
	return nil
}

func (s *resultStream) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("result redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *resultStream) handleEvent(payload []byte) {
	var event ResultEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid result event payload")
		return
	}
	s.dispatch(event)
}

// dispatch delivers exercise wide events to every subscriber of the exercise and
// participation events to the subscribers of that participation. Slow clients drop events.
func (s *resultStream) dispatch(event ResultEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subscribers[event.ExerciseID] {
		if event.ParticipationID != 0 && event.ParticipationID != sub.participationID {
			continue
		}
		delivered := event
		if sub.redact {
			// Students refetch through the result endpoints, which apply visibility rules.
			delivered.Result = nil
		}
		select {
		case sub.events <- delivered:
		default:
		}
	}
}
