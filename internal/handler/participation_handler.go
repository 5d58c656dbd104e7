package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// ParticipationHandler exposes builds, submission counts and individual due dates.
type ParticipationHandler struct {
	grading        service.GradingService
	policies       service.SubmissionPolicyService
	participations service.ParticipationService
	logger         zerolog.Logger
}

// NewParticipationHandler constructs the handler.
func NewParticipationHandler(grading service.GradingService, policies service.SubmissionPolicyService, participations service.ParticipationService, logger zerolog.Logger) *ParticipationHandler {
	return &ParticipationHandler{
		grading:        grading,
		policies:       policies,
		participations: participations,
		logger:         logger.With().Str("component", "participation_handler").Logger(),
	}
}

// Register attaches participation routes to the router group.
func (h *ParticipationHandler) Register(router fiber.Router) {
	student := middleware.AuthOptions{Role: middleware.AuthRoleStudent}

	router.Post("/:id/trigger-build", middleware.WithAuth(h.triggerBuild, student))
	router.Get("/:id/submission-count", middleware.WithAuth(h.submissionCount, student))
	router.Put("/:id/individual-due-date", middleware.WithAuth(h.individualDueDate, middleware.AuthOptions{Role: middleware.AuthRoleInstructor}))
}

func (h *ParticipationHandler) triggerBuild(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid participation id")
	}

	submissionType := models.SubmissionType(strings.ToUpper(strings.TrimSpace(c.Query("submissionType"))))
	submission, err := h.grading.TriggerBuild(c.UserContext(), id, submissionType, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to trigger build")
	}

	return utils.SendSuccess(c, "build triggered", submission)
}

func (h *ParticipationHandler) submissionCount(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid participation id")
	}

	count, err := h.policies.SubmissionCount(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to count submissions")
	}

	return utils.SendSuccess(c, "submission count", dto.SubmissionCountResponse{ParticipationID: id, Count: count})
}

func (h *ParticipationHandler) individualDueDate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid participation id")
	}

	var payload dto.IndividualDueDateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	participation, err := h.participations.SetIndividualDueDate(c.UserContext(), id, payload.DueDate, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to update individual due date")
	}

	return utils.SendSuccess(c, "individual due date updated", participation)
}
