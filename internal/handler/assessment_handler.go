package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// AssessmentHandler exposes the manual assessment workflow to tutors.
type AssessmentHandler struct {
	assessment service.AssessmentService
	complaints service.ComplaintService
	logger     zerolog.Logger
}

// NewAssessmentHandler constructs the handler.
func NewAssessmentHandler(assessment service.AssessmentService, complaints service.ComplaintService, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		assessment: assessment,
		complaints: complaints,
		logger:     logger.With().Str("component", "assessment_handler").Logger(),
	}
}

// RegisterExercises attaches exercise scoped assessment routes.
func (h *AssessmentHandler) RegisterExercises(router fiber.Router) {
	router.Get("/:id/programming-submission-without-assessment", middleware.WithAuth(h.submissionWithoutAssessment, tutorOnly))
}

// RegisterSubmissions attaches submission scoped assessment routes.
func (h *AssessmentHandler) RegisterSubmissions(router fiber.Router) {
	router.Put("/:id/lock", middleware.WithAuth(h.lock, tutorOnly))
	router.Get("/:id/result", middleware.WithAuth(h.resultForRound, tutorOnly))
	router.Put("/:id/cancel-assessment", middleware.WithAuth(h.cancel, tutorOnly))
	router.Put("/:id/assessment-after-complaint", middleware.WithAuth(h.assessmentAfterComplaint, tutorOnly))
}

// RegisterParticipations attaches participation scoped assessment routes.
func (h *AssessmentHandler) RegisterParticipations(router fiber.Router) {
	router.Put("/:id/manual-results", middleware.WithAuth(h.saveManualResult, tutorOnly))
}

var tutorOnly = middleware.AuthOptions{Role: middleware.AuthRoleTutor}

func (h *AssessmentHandler) submissionWithoutAssessment(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}
	round, err := parseCorrectionRound(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	lock, err := parseQueryBool(c, "lock", false)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid lock flag")
	}

	submission, err := h.assessment.LockNextSubmission(c.UserContext(), exerciseID, round, lock, activityActorFromContext(c))
	if err != nil {
		if errors.Is(err, service.ErrNoSubmissionAvailable) {
			return utils.SendSuccess(c, "no submission without assessment", nil)
		}
		return sendServiceError(c, h.logger, err, "failed to load submission without assessment")
	}

	return utils.SendSuccess(c, "submission without assessment", submission)
}

func (h *AssessmentHandler) lock(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}
	round, err := parseCorrectionRound(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.assessment.LockSubmission(c.UserContext(), submissionID, round, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to lock submission")
	}

	return utils.SendSuccess(c, "submission locked", submission)
}

func (h *AssessmentHandler) resultForRound(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}
	round, err := parseCorrectionRound(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.assessment.GetResultForCorrectionRound(c.UserContext(), submissionID, round, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load result")
	}

	return utils.SendSuccess(c, "result", result)
}

func (h *AssessmentHandler) saveManualResult(c *fiber.Ctx) error {
	participationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid participation id")
	}
	round, err := parseCorrectionRound(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	submit, err := parseQueryBool(c, "submit", false)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submit flag")
	}

	var payload dto.ManualAssessmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.assessment.SaveAssessment(c.UserContext(), participationID, round, payload, submit, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to save assessment")
	}

	message := "assessment saved"
	if submit {
		message = "assessment submitted"
	}
	return utils.SendSuccess(c, message, result)
}

func (h *AssessmentHandler) cancel(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}
	round, err := parseCorrectionRound(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.assessment.CancelAssessment(c.UserContext(), submissionID, round, activityActorFromContext(c)); err != nil {
		return sendServiceError(c, h.logger, err, "failed to cancel assessment")
	}

	return utils.SendSuccess(c, "assessment cancelled", nil)
}

func (h *AssessmentHandler) assessmentAfterComplaint(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	var payload dto.ComplaintDecisionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.complaints.ResolveComplaint(c.UserContext(), submissionID, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to resolve complaint")
	}

	return utils.SendSuccess(c, "complaint resolved", result)
}
