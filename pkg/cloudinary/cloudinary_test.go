package cloudinary

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublicIDIsStablePerCommit(t *testing.T) {
	require.Equal(t, "build-logs-3-abc123.log", PublicID("build-logs/3/abc123"))
	require.Equal(t, PublicID("build-logs/3/abc123"), PublicID("build-logs/3/abc123"))
	require.Equal(t, "run-1.log", PublicID("//Run 1.log"))
	require.Equal(t, "build-log", PublicID("///"))
}

func TestCheckTextAcceptsLogsOnly(t *testing.T) {
	require.NoError(t, checkText([]byte("2024-03-01T12:00:00Z compiling\n2024-03-01T12:00:01Z BUILD FAILED\n")))
	require.NoError(t, checkText([]byte(`{"log":"json lines are text too"}`)))

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	err := checkText(png)
	require.Error(t, err)
	require.Contains(t, err.Error(), "image/png")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
}

func TestUploadRejectsOversizedLogs(t *testing.T) {
	archive, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = archive.Upload(context.Background(), "big", strings.NewReader(strings.Repeat("x", maxLogBytes+1)))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}
