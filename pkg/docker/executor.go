package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	buildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "build_container",
		Name:      "duration_seconds",
		Help:      "Duration of build containers",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"image"})

	buildTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "build_container",
		Name:      "timeouts_total",
		Help:      "Number of build containers that hit the timeout",
	}, []string{"image"})

	buildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "build_container",
		Name:      "failures_total",
		Help:      "Number of build containers that could not be run",
	}, []string{"image"})
)

// Executor runs a build inside a sandboxed container.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// ExecutionRequest describes one build container.
type ExecutionRequest struct {
	Image         string
	Cmd           []string
	Env           []string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
}

// LogLine is a timestamped line the container wrote to stderr.
type LogLine struct {
	Time time.Time
	Text string
}

// ExecutionResult summarises the outcome of a build container.
type ExecutionResult struct {
	Stdout   string
	Logs     []LogLine
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Config groups executor configuration values.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	Logger        zerolog.Logger
}

// DockerExecutor runs builds in Docker containers. Containers need network access to clone
// the student repository, so only resources are limited.
type DockerExecutor struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor constructs a Docker backed executor.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/docker"),
		logger: cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}, nil
}

// Run starts the container, waits for it and collects its output.
func (e *DockerExecutor) Run(parent context.Context, req ExecutionRequest) (ExecutionResult, error) {
	image := req.Image
	if image == "" {
		return ExecutionResult{}, errors.New("image is required")
	}

	ctx, span := e.tracer.Start(parent, "docker.executor.run", trace.WithAttributes(
		attribute.String("docker.image", image),
	))
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	memory := req.MemoryLimitMB
	if memory == 0 {
		memory = e.cfg.MemoryLimitMB
	}
	shares := req.CPUShares
	if shares == 0 {
		shares = e.cfg.CPUShares
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    memory * 1024 * 1024,
			CPUShares: shares,
		},
		NetworkMode: "bridge",
	}
	containerCfg := &container.Config{
		Image:        image,
		Cmd:          req.Cmd,
		Env:          req.Env,
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()
	result := ExecutionResult{}

	resp, err := e.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		buildFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container create: %w", err)
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove build container")
		}
	}()

	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		buildFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.Duration = time.Since(start)
	buildDuration.WithLabelValues(image).Observe(result.Duration.Seconds())

	if waitErr != nil {
		if !errors.Is(waitErr, context.DeadlineExceeded) {
			buildFailures.WithLabelValues(image).Inc()
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, waitErr.Error())
			return result, fmt.Errorf("container wait: %w", waitErr)
		}
		result.TimedOut = true
		buildTimeouts.WithLabelValues(image).Inc()
		killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
			e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out build container")
		}
		span.SetStatus(codes.Error, "build timed out")
	}

	logReader, err := e.client.ContainerLogs(parent, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch build container logs")
		return result, nil
	}
	defer logReader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logReader); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read build container logs")
		return result, nil
	}
	result.Stdout = stripTimestamps(&stdout)
	result.Logs = parseLogLines(&stderr)

	return result, nil
}

// Close shuts down the executor's underlying client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// parseLogLines splits docker output written with timestamps into log lines.
func parseLogLines(reader io.Reader) []LogLine {
	var lines []LogLine
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		line := LogLine{Text: raw}
		if stamp, rest, ok := strings.Cut(raw, " "); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
				line.Time = parsed
				line.Text = rest
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func stripTimestamps(reader io.Reader) string {
	var out strings.Builder
	for _, line := range parseLogLines(reader) {
		out.WriteString(line.Text)
		out.WriteByte('\n')
	}
	return out.String()
}
