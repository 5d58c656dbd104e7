package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// ScheduleRequester re-plans the lifecycle timers of an exercise.
type ScheduleRequester interface {
	RequestExerciseSchedule(ctx context.Context, exerciseID uint) error
}

// ExerciseHandler exposes instructor operations on an exercise.
type ExerciseHandler struct {
	grading   service.GradingService
	testCases service.TestCaseService
	policies  service.SubmissionPolicyService
	schedule  ScheduleRequester
	logger    zerolog.Logger
}

// NewExerciseHandler constructs the handler. The schedule requester may be nil.
func NewExerciseHandler(grading service.GradingService, testCases service.TestCaseService, policies service.SubmissionPolicyService, schedule ScheduleRequester, logger zerolog.Logger) *ExerciseHandler {
	return &ExerciseHandler{
		grading:   grading,
		testCases: testCases,
		policies:  policies,
		schedule:  schedule,
		logger:    logger.With().Str("component", "exercise_handler").Logger(),
	}
}

// Register attaches exercise routes to the router group.
func (h *ExerciseHandler) Register(router fiber.Router) {
	tutor := middleware.AuthOptions{Role: middleware.AuthRoleTutor}
	instructor := middleware.AuthOptions{Role: middleware.AuthRoleInstructor}

	router.Post("/:id/schedule", middleware.WithAuth(h.reschedule, instructor))
	router.Post("/:id/recompute", middleware.WithAuth(h.recompute, instructor))
	router.Get("/:id/test-cases", middleware.WithAuth(h.listTestCases, tutor))
	router.Patch("/:id/test-cases", middleware.WithAuth(h.updateTestCases, instructor))
	router.Get("/:id/submission-policy", middleware.WithAuth(h.getPolicy, tutor))
	router.Post("/:id/submission-policy", middleware.WithAuth(h.addPolicy, instructor))
	router.Patch("/:id/submission-policy", middleware.WithAuth(h.updatePolicy, instructor))
	router.Put("/:id/submission-policy", middleware.WithAuth(h.togglePolicy, instructor))
	router.Delete("/:id/submission-policy", middleware.WithAuth(h.removePolicy, instructor))
}

func (h *ExerciseHandler) reschedule(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}
	if h.schedule == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "scheduler disabled")
	}

	if err := h.schedule.RequestExerciseSchedule(c.UserContext(), id); err != nil {
		return sendServiceError(c, h.logger, err, "failed to schedule exercise")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "exercise scheduled", fiber.Map{"exercise_id": id})
}

func (h *ExerciseHandler) recompute(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	updated, err := h.grading.RecomputeExercise(c.UserContext(), id, false)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to recompute results")
	}

	return utils.SendSuccess(c, "results recomputed", dto.RecomputeResponse{ExerciseID: id, Updated: updated})
}

func (h *ExerciseHandler) listTestCases(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	testCases, err := h.testCases.List(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list test cases")
	}

	return utils.SendSuccess(c, "test cases", testCases)
}

func (h *ExerciseHandler) updateTestCases(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	var payload []dto.TestCaseUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	testCases, err := h.testCases.Update(c.UserContext(), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to update test cases")
	}

	return utils.SendSuccess(c, "test cases updated", testCases)
}

func (h *ExerciseHandler) getPolicy(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	policy, err := h.policies.Get(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load submission policy")
	}

	return utils.SendSuccess(c, "submission policy", policy)
}

func (h *ExerciseHandler) addPolicy(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	var payload dto.SubmissionPolicyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	policy, err := h.policies.Add(c.UserContext(), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to add submission policy")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission policy added", policy)
}

func (h *ExerciseHandler) updatePolicy(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	var payload dto.SubmissionPolicyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	policy, err := h.policies.Update(c.UserContext(), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to update submission policy")
	}

	return utils.SendSuccess(c, "submission policy updated", policy)
}

func (h *ExerciseHandler) togglePolicy(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}
	if c.Query("activate") == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "activate is required")
	}
	activate, err := parseQueryBool(c, "activate", false)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid activate flag")
	}

	policy, err := h.policies.Toggle(c.UserContext(), id, activate, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to toggle submission policy")
	}

	return utils.SendSuccess(c, "submission policy toggled", policy)
}

func (h *ExerciseHandler) removePolicy(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	if err := h.policies.Remove(c.UserContext(), id, activityActorFromContext(c)); err != nil {
		return sendServiceError(c, h.logger, err, "failed to remove submission policy")
	}

	return utils.SendSuccess(c, "submission policy removed", nil)
}
