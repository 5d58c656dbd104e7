package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// ResultHandler serves results, overrides and complaints.
type ResultHandler struct {
	results    service.ResultService
	assessment service.AssessmentService
	complaints service.ComplaintService
	logger     zerolog.Logger
}

// NewResultHandler constructs the handler.
func NewResultHandler(results service.ResultService, assessment service.AssessmentService, complaints service.ComplaintService, logger zerolog.Logger) *ResultHandler {
	return &ResultHandler{
		results:    results,
		assessment: assessment,
		complaints: complaints,
		logger:     logger.With().Str("component", "result_handler").Logger(),
	}
}

// Register attaches result routes to the router group.
func (h *ResultHandler) Register(router fiber.Router) {
	student := middleware.AuthOptions{Role: middleware.AuthRoleStudent}
	instructor := middleware.AuthOptions{Role: middleware.AuthRoleInstructor}

	router.Get("/:id", middleware.WithAuth(h.get, student))
	router.Delete("/:id", middleware.WithAuth(h.delete, instructor))
	router.Put("/:id/override", middleware.WithAuth(h.override, instructor))
	router.Post("/:id/complaints", middleware.WithAuth(h.fileComplaint, student))
}

// RegisterParticipations attaches the result list of a participation.
func (h *ResultHandler) RegisterParticipations(router fiber.Router) {
	router.Get("/:id/results", middleware.WithAuth(h.listByParticipation, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
}

func (h *ResultHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid result id")
	}

	result, err := h.results.Get(c.UserContext(), id, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load result")
	}

	return utils.SendSuccess(c, "result", result)
}

func (h *ResultHandler) listByParticipation(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid participation id")
	}

	results, err := h.results.ListByParticipation(c.UserContext(), id, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list results")
	}

	return utils.SendSuccess(c, "results", results)
}

func (h *ResultHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid result id")
	}

	if err := h.assessment.DeleteResult(c.UserContext(), id, activityActorFromContext(c)); err != nil {
		return sendServiceError(c, h.logger, err, "failed to delete result")
	}

	return utils.SendSuccess(c, "result deleted", nil)
}

func (h *ResultHandler) override(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid result id")
	}

	var payload dto.ManualAssessmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.complaints.OverrideResult(c.UserContext(), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to override result")
	}

	return utils.SendSuccess(c, "result overridden", result)
}

func (h *ResultHandler) fileComplaint(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid result id")
	}

	var payload dto.ComplaintRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	complaint, err := h.complaints.FileComplaint(c.UserContext(), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to file complaint")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "complaint filed", complaint)
}
