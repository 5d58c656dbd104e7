package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// EventStreamSubscribed is the first frame written to a live result connection.
const EventStreamSubscribed = "stream.subscribed"

const streamPingInterval = 30 * time.Second

// ResultStreamHandler upgrades participation result requests to websocket feeds.
type ResultStreamHandler struct {
	stream service.ResultStream
	logger zerolog.Logger
}

// NewResultStreamHandler constructs the handler.
func NewResultStreamHandler(stream service.ResultStream, logger zerolog.Logger) *ResultStreamHandler {
	return &ResultStreamHandler{
		stream: stream,
		logger: logger.With().Str("component", "result_stream_handler").Logger(),
	}
}

// Register binds the websocket route under the participations group.
func (h *ResultStreamHandler) Register(router fiber.Router) {
	router.Get("/:id/results/live",
		middleware.WithAuth(h.authorize, middleware.AuthOptions{Role: middleware.AuthRoleStudent}),
		websocket.New(h.serve),
	)
}

func (h *ResultStreamHandler) authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid participation id")
	}

	actor := activityActorFromContext(c)
	exerciseID, err := h.stream.Authorize(c.UserContext(), id, actor)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to open result stream")
	}

	c.Locals("stream_participation_id", id)
	c.Locals("stream_exercise_id", exerciseID)
	c.Locals("stream_actor", actor)
	return c.Next()
}

func (h *ResultStreamHandler) serve(conn *websocket.Conn) {
	participationID, _ := conn.Locals("stream_participation_id").(uint)
	exerciseID, _ := conn.Locals("stream_exercise_id").(uint)
	actor, _ := conn.Locals("stream_actor").(service.ActivityActor)

	events, unsubscribe := h.stream.Subscribe(exerciseID, participationID, actor)
	defer unsubscribe()
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(fiber.Map{"type": EventStreamSubscribed, "exercise_id": exerciseID, "participation_id": participationID}); err != nil {
		return
	}
	h.logger.Info().Uint("participation_id", participationID).Uint("user_id", actor.ID).Msg("result stream connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info().Uint("participation_id", participationID).Msg("result stream disconnected")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug().Err(err).Msg("result stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		}
	}
}
