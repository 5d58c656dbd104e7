package utils

import "github.com/gofiber/fiber/v2"

// APIResponse describes the common structure for API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
	// Field names the rejected request field of a validation failure.
	Field string `json:"field,omitempty"`
}

// SendSuccess sends a 200 response carrying data.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload using the provided HTTP status code.
// 202 is used for work handed to the build runner or the scheduler.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(APIResponse{Success: true, Data: data, Message: message})
}

// SendError sends an error JSON response with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	return SendFieldError(c, status, "", message)
}

// SendFieldError reports a failure caused by one request field.
func SendFieldError(c *fiber.Ctx, status int, field, message string) error {
	if message == "" {
		message = "error"
	}
	return c.Status(status).JSON(APIResponse{Success: false, Message: message, Field: field})
}
