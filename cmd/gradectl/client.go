package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"
)

// envelope mirrors the response body written by the API.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message"`
}

// APIError is returned when the API answers with an unsuccessful envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

type client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func newClient(baseURL, token string, timeout time.Duration) (*client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("api url must be provided")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{baseURL: base + "/api/v1", token: token, timeout: timeout}, nil
}

func (c *client) do(method, path string, body interface{}) (json.RawMessage, string, error) {
	agent := fiber.AcquireAgent()
	req := agent.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	agent.Timeout(c.timeout)
	if body != nil {
		agent.JSON(body)
	}

	status, payload, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, "", fmt.Errorf("%s %s: %w", method, path, errors.Join(errs...))
	}

	var resp envelope
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, "", &APIError{Status: status, Message: strings.TrimSpace(string(payload))}
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices || !resp.Success {
		return nil, "", &APIError{Status: status, Message: resp.Message}
	}
	return resp.Data, resp.Message, nil
}

func render(w io.Writer, format string, message string, data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		_, err := fmt.Fprintln(w, message)
		return err
	}

	switch format {
	case "json":
		var out interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	case "yaml", "":
		var out interface{}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(out)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
