package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
	"github.com/noah-isme/gema-grader/pkg/buildreport"
)

// BuildResultHandler receives build results from the continuous integration system.
type BuildResultHandler struct {
	grading service.GradingService
	reports *buildreport.Validator
	logger  zerolog.Logger
}

// NewBuildResultHandler constructs the handler.
func NewBuildResultHandler(grading service.GradingService, reports *buildreport.Validator, logger zerolog.Logger) *BuildResultHandler {
	return &BuildResultHandler{
		grading: grading,
		reports: reports,
		logger:  logger.With().Str("component", "build_result_handler").Logger(),
	}
}

// Register attaches the webhook to the router group. The group must guard it with the CI secret.
func (h *BuildResultHandler) Register(router fiber.Router) {
	router.Post("/new-result", h.newResult)
}

func (h *BuildResultHandler) newResult(c *fiber.Ctx) error {
	report, err := h.reports.Decode(c.Body())
	if err != nil {
		if errors.Is(err, buildreport.ErrInvalidReport) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return sendServiceError(c, h.logger, err, "failed to read build result")
	}

	result, err := h.grading.ProcessBuildResult(c.UserContext(), report)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).
			Str("repository", report.RepositoryName).
			Str("commit", report.CommitHash()).
			Msg("build result rejected")
		return sendServiceError(c, h.logger, err, "failed to process build result")
	}

	return utils.SendSuccess(c, "build result processed", result)
}
