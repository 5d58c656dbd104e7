package cloudinary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// maxLogBytes caps the size of a single archived build log.
const maxLogBytes = 10 << 20

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// LogArchive stores complete build logs as raw Cloudinary assets.
type LogArchive struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary backed log archive.
func New(cfg Config, logger zerolog.Logger) (*LogArchive, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &LogArchive{
		client: cld,
		folder: cfg.Folder,
		logger: logger.With().Str("component", "build_log_archive").Logger(),
	}, nil
}

// Upload stores the log under a public id derived from name and returns its secure URL.
// Only text content is accepted.
func (a *LogArchive) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxLogBytes+1))
	if err != nil {
		return "", fmt.Errorf("read build log: %w", err)
	}
	if len(data) > maxLogBytes {
		return "", fmt.Errorf("build log exceeds %d bytes", maxLogBytes)
	}
	if err := checkText(data); err != nil {
		return "", err
	}

	params := uploader.UploadParams{
		Folder:       strings.Trim(a.folder, "/"),
		PublicID:     PublicID(name),
		ResourceType: "raw",
		Overwrite:    api.Bool(true),
	}

	result, err := a.client.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return "", fmt.Errorf("failed to upload build log: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload build log: %s", result.Error.Message)
	}

	a.logger.Info().Str("public_id", result.PublicID).Int("bytes", len(data)).Msg("build log archived")

	return result.SecureURL, nil
}

func checkText(data []byte) error {
	mime := mimetype.Detect(data)
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil
		}
	}
	return fmt.Errorf("build log must be text, got %s", mime.String())
}

// PublicID turns a log name into a stable Cloudinary public id. Rebuilding the same commit
// overwrites the previous log.
func PublicID(name string) string {
	id := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, strings.TrimSuffix(name, ".log"))

	id = strings.Trim(id, "-")
	for strings.Contains(id, "--") {
		id = strings.ReplaceAll(id, "--", "-")
	}
	if id == "" {
		return "build-log"
	}
	return strings.ToLower(id) + ".log"
}
