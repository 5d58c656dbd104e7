// Package vcs talks to the GitLab instance hosting student repositories.
package vcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/noah-isme/gema-grader/internal/service"
)

// GitLab access levels used for student repositories.
const (
	accessReporter  = 20
	accessDeveloper = 30
)

// ErrNotFound is returned when GitLab does not know a project, branch or user.
var ErrNotFound = errors.New("gitlab resource not found")

// Config configures the GitLab client.
type Config struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// GitLab implements service.VersionControl against the GitLab REST API.
type GitLab struct {
	baseURL string
	token   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ service.VersionControl = (*GitLab)(nil)

// NewGitLab constructs the client.
func NewGitLab(cfg Config, logger zerolog.Logger) (*GitLab, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gitlab url must be provided")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &GitLab{
		baseURL: base + "/api/v4",
		token:   cfg.Token,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		logger:  logger.With().Str("component", "gitlab").Logger(),
	}, nil
}

type branchPayload struct {
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

type commitPayload struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

type projectPayload struct {
	DefaultBranch string `json:"default_branch"`
}

type userPayload struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type eventPayload struct {
	CreatedAt time.Time `json:"created_at"`
	PushData  struct {
		CommitTo string `json:"commit_to"`
	} `json:"push_data"`
}

// LastCommitHash returns the head commit of a branch.
func (g *GitLab) LastCommitHash(ctx context.Context, repositoryURI, branch string) (string, error) {
	project, err := projectID(repositoryURI)
	if err != nil {
		return "", err
	}
	if branch == "" {
		if branch, err = g.DefaultBranch(ctx, repositoryURI); err != nil {
			return "", err
		}
	}

	var payload branchPayload
	if err := g.do(ctx, fiber.MethodGet, fmt.Sprintf("/projects/%s/repository/branches/%s", project, url.PathEscape(branch)), nil, &payload); err != nil {
		return "", err
	}
	return payload.Commit.ID, nil
}

// CommitInfos lists the recent commits of the repository, newest first.
func (g *GitLab) CommitInfos(ctx context.Context, repositoryURI string) ([]service.CommitInfo, error) {
	project, err := projectID(repositoryURI)
	if err != nil {
		return nil, err
	}

	var payload []commitPayload
	if err := g.do(ctx, fiber.MethodGet, fmt.Sprintf("/projects/%s/repository/commits?per_page=100", project), nil, &payload); err != nil {
		return nil, err
	}

	infos := make([]service.CommitInfo, 0, len(payload))
	for _, commit := range payload {
		infos = append(infos, service.CommitInfo{
			Hash:      commit.ID,
			Message:   strings.TrimSpace(commit.Message),
			Author:    commit.AuthorName,
			Timestamp: commit.CreatedAt,
		})
	}
	return infos, nil
}

// SetRepositoryPermissionsToReadOnly downgrades the students to reporters.
func (g *GitLab) SetRepositoryPermissionsToReadOnly(ctx context.Context, repositoryURI, projectKey string, users []string) error {
	return g.setAccess(ctx, repositoryURI, projectKey, users, accessReporter)
}

// GrantRepositoryWriteAccess lets the students push again.
func (g *GitLab) GrantRepositoryWriteAccess(ctx context.Context, repositoryURI, projectKey string, users []string) error {
	return g.setAccess(ctx, repositoryURI, projectKey, users, accessDeveloper)
}

// DefaultBranch returns the default branch configured for the project.
func (g *GitLab) DefaultBranch(ctx context.Context, repositoryURI string) (string, error) {
	project, err := projectID(repositoryURI)
	if err != nil {
		return "", err
	}

	var payload projectPayload
	if err := g.do(ctx, fiber.MethodGet, "/projects/"+project, nil, &payload); err != nil {
		return "", err
	}
	return payload.DefaultBranch, nil
}

// PushDate returns when the commit was pushed, or nil if no push event mentions it.
func (g *GitLab) PushDate(ctx context.Context, repositoryURI, commitHash string) (*time.Time, error) {
	project, err := projectID(repositoryURI)
	if err != nil {
		return nil, err
	}

	var events []eventPayload
	if err := g.do(ctx, fiber.MethodGet, fmt.Sprintf("/projects/%s/events?action=pushed&per_page=100", project), nil, &events); err != nil {
		return nil, err
	}
	for _, event := range events {
		if event.PushData.CommitTo == commitHash {
			date := event.CreatedAt
			return &date, nil
		}
	}
	return nil, nil
}

func (g *GitLab) setAccess(ctx context.Context, repositoryURI, projectKey string, users []string, level int) error {
	project, err := projectID(repositoryURI)
	if err != nil {
		return err
	}

	var errs []error
	for _, username := range users {
		userID, err := g.userID(ctx, username)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", username, err))
			continue
		}
		path := fmt.Sprintf("/projects/%s/members/%d", project, userID)
		if err := g.do(ctx, fiber.MethodPut, path, map[string]int{"access_level": level}, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", username, err))
		}
	}
	if len(errs) > 0 {
		g.logger.Warn().Str("project_key", projectKey).Str("repository", repositoryURI).Int("failed", len(errs)).Msg("failed to update repository access")
	}
	return errors.Join(errs...)
}

func (g *GitLab) userID(ctx context.Context, username string) (int, error) {
	var users []userPayload
	if err := g.do(ctx, fiber.MethodGet, "/users?username="+url.QueryEscape(username), nil, &users); err != nil {
		return 0, err
	}
	for _, user := range users {
		if strings.EqualFold(user.Username, username) {
			return user.ID, nil
		}
	}
	return 0, ErrNotFound
}

func (g *GitLab) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	agent := fiber.AcquireAgent()
	req := agent.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(g.baseURL + path)
	// Project ids are URL-encoded paths; %2F must reach GitLab undecoded.
	req.URI().DisablePathNormalizing = true
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return fmt.Errorf("gitlab request: %w", err)
	}
	agent.Set("PRIVATE-TOKEN", g.token)
	agent.Timeout(g.timeout)
	if body != nil {
		agent.JSON(body)
	}

	status, payload, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("gitlab %s %s: %w", method, path, errors.Join(errs...))
	}
	switch {
	case status == fiber.StatusNotFound:
		return fmt.Errorf("gitlab %s %s: %w", method, path, ErrNotFound)
	case status < fiber.StatusOK || status >= fiber.StatusMultipleChoices:
		return fmt.Errorf("gitlab %s %s: status %d", method, path, status)
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode gitlab response: %w", err)
	}
	return nil
}

// projectID derives the URL-encoded project path from a repository URI such as
// https://gitlab.example/course/sort-alice.git.
func projectID(repositoryURI string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(repositoryURI))
	if err != nil {
		return "", fmt.Errorf("invalid repository uri: %w", err)
	}
	path := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), ".git")
	if path == "" {
		return "", fmt.Errorf("invalid repository uri: %q", repositoryURI)
	}
	return url.PathEscape(path), nil
}
