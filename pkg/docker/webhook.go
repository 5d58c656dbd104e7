package docker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
)

// WebhookReporter posts build results to the grading webhook with the shared CI secret.
type WebhookReporter struct {
	url     string
	secret  string
	timeout time.Duration
}

// NewWebhookReporter constructs a reporter for the given webhook URL.
func NewWebhookReporter(url, secret string) *WebhookReporter {
	return &WebhookReporter{url: url, secret: secret, timeout: 15 * time.Second}
}

// Report sends the notification and fails on any non-2xx answer.
func (w *WebhookReporter) Report(ctx context.Context, notification dto.BuildResultNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := w.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(w.url)
	agent.Set(middleware.CIHeader, w.secret)
	agent.Set(middleware.BuildIDHeader, middleware.BuildID(notification.RepositoryName, notification.CommitHash()))
	agent.JSON(notification)
	agent.Timeout(timeout)

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post build result: %w", errors.Join(errs...))
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return fmt.Errorf("post build result: status %d: %s", status, truncate(body, 256))
	}
	return nil
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
